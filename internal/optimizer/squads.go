package optimizer

import (
	"fmt"
	"sort"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// WildcardDecay discounts the n-th gameweek after the target by decay^n in
// the wildcard objective.
const WildcardDecay = 0.85

// buildOrder fills positions with fewer strong options first so they are
// never priced out by midfield spending.
var buildOrder = []models.Position{
	models.Goalkeeper,
	models.Forward,
	models.Defender,
	models.Midfielder,
}

// BuildFreeHitSquad assembles the best one-week squad from a fresh budget.
// The current squad is irrelevant: free hit resets everything for one
// gameweek.
func BuildFreeHitSquad(pool []models.Player, m *Matrix) (*models.Squad, error) {
	return buildSquad(pool, models.NewSquadBudget, func(id int) float64 {
		return m.At(id, 0)
	})
}

// BuildWildcardSquad assembles a squad from the funds released by selling
// everything, optimizing a decayed horizon so near fixtures weigh most.
func BuildWildcardSquad(current *models.Squad, pool []models.Player, m *Matrix) (*models.Squad, error) {
	budget := current.SellingValue() + current.Bank
	return buildSquad(pool, budget, func(id int) float64 {
		return m.Decayed(id, WildcardDecay)
	})
}

// buildSquad is the shared greedy builder: position by position in
// buildOrder, always reserving floor prices for every unfilled slot so the
// tail positions stay fillable.
func buildSquad(pool []models.Player, budget int, objective func(id int) float64) (*models.Squad, error) {
	candidates := make(map[models.Position][]models.Player, 4)
	floor := make(map[models.Position]int, 4)
	for i := range pool {
		p := pool[i]
		if p.Status == models.StatusUnavailable {
			continue
		}
		pos := p.Position()
		candidates[pos] = append(candidates[pos], p)
		if floor[pos] == 0 || p.NowCost < floor[pos] {
			floor[pos] = p.NowCost
		}
	}

	remaining := make(map[models.Position]int, 4)
	for pos, count := range models.SquadComposition {
		if len(candidates[pos]) < count {
			return nil, fmt.Errorf("squad build: only %d %s candidates for %d slots",
				len(candidates[pos]), pos, count)
		}
		remaining[pos] = count
		ranked := candidates[pos]
		sort.Slice(ranked, func(i, j int) bool {
			oi, oj := objective(ranked[i].ID), objective(ranked[j].ID)
			if oi != oj {
				return oi > oj
			}
			return ranked[i].ID < ranked[j].ID
		})
	}

	squad := &models.Squad{Bank: budget}
	teamCounts := make(map[int]int)

	for _, pos := range buildOrder {
		for remaining[pos] > 0 {
			remaining[pos]--

			// Reserve a floor-price slot for everything still unfilled.
			reserved := remaining[pos] * floor[pos]
			for other, count := range remaining {
				if other != pos {
					reserved += count * floor[other]
				}
			}

			pick, ok := pickCandidate(candidates[pos], squad, teamCounts, squad.Bank-reserved)
			if !ok {
				// Relax: cheapest legal candidate, quality aside.
				pick, ok = cheapestCandidate(candidates[pos], squad, teamCounts, squad.Bank-reserved)
			}
			if !ok {
				return nil, fmt.Errorf("squad build: cannot fill %s within budget", pos)
			}

			squad.Players = append(squad.Players, models.SquadPlayer{
				PlayerID:      pick.ID,
				Code:          pick.Code,
				Name:          pick.WebName,
				Position:      pos,
				TeamID:        pick.TeamID,
				PurchasePrice: pick.NowCost,
				SellingPrice:  pick.NowCost,
				NowCost:       pick.NowCost,
			})
			squad.Bank -= pick.NowCost
			teamCounts[pick.TeamID]++
		}
	}
	return squad, nil
}

// pickCandidate takes the best-objective candidate that fits the spendable
// budget and the team cap. Candidates arrive pre-sorted by objective.
func pickCandidate(ranked []models.Player, squad *models.Squad, teamCounts map[int]int, spendable int) (*models.Player, bool) {
	for i := range ranked {
		p := &ranked[i]
		if squad.Contains(p.ID) || teamCounts[p.TeamID] >= models.MaxPerTeam {
			continue
		}
		if p.NowCost <= spendable {
			return p, true
		}
	}
	return nil, false
}

func cheapestCandidate(ranked []models.Player, squad *models.Squad, teamCounts map[int]int, spendable int) (*models.Player, bool) {
	var best *models.Player
	for i := range ranked {
		p := &ranked[i]
		if squad.Contains(p.ID) || teamCounts[p.TeamID] >= models.MaxPerTeam {
			continue
		}
		if p.NowCost <= spendable && (best == nil || p.NowCost < best.NowCost) {
			best = p
		}
	}
	return best, best != nil
}
