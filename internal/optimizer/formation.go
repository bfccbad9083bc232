package optimizer

import (
	"fmt"
	"sort"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// ChooseLineup picks the highest expected-points legal lineup from a full
// squad: every valid formation is scored with its best eleven and the top
// total wins. Ties keep the earlier formation in the legal set.
func ChooseLineup(squad *models.Squad, xp map[int]float64) (*models.Lineup, error) {
	if len(squad.Players) != models.SquadSize {
		return nil, fmt.Errorf("lineup: squad has %d players, need %d", len(squad.Players), models.SquadSize)
	}

	byPosition := squad.ByPosition()
	for pos := range byPosition {
		ranked := byPosition[pos]
		sort.Slice(ranked, func(i, j int) bool {
			xi, xj := xp[ranked[i].PlayerID], xp[ranked[j].PlayerID]
			if xi != xj {
				return xi > xj
			}
			return ranked[i].PlayerID < ranked[j].PlayerID
		})
	}

	var best []models.SquadPlayer
	var bestFormation models.Formation
	bestTotal := -1.0

	for _, formation := range models.ValidFormations {
		if len(byPosition[models.Goalkeeper]) < 1 ||
			len(byPosition[models.Defender]) < formation.Defenders ||
			len(byPosition[models.Midfielder]) < formation.Midfielders ||
			len(byPosition[models.Forward]) < formation.Forwards {
			continue
		}
		eleven := make([]models.SquadPlayer, 0, models.StartingSize)
		eleven = append(eleven, byPosition[models.Goalkeeper][:1]...)
		eleven = append(eleven, byPosition[models.Defender][:formation.Defenders]...)
		eleven = append(eleven, byPosition[models.Midfielder][:formation.Midfielders]...)
		eleven = append(eleven, byPosition[models.Forward][:formation.Forwards]...)

		total := 0.0
		for _, p := range eleven {
			total += xp[p.PlayerID]
		}
		if total > bestTotal {
			bestTotal = total
			bestFormation = formation
			best = eleven
		}
	}

	if best == nil {
		return nil, fmt.Errorf("lineup: no legal formation fits the squad composition")
	}

	starting := make(map[int]bool, len(best))
	for _, p := range best {
		starting[p.PlayerID] = true
	}
	var bench []models.SquadPlayer
	for _, p := range squad.Players {
		if !starting[p.PlayerID] {
			bench = append(bench, p)
		}
	}
	sort.Slice(bench, func(i, j int) bool {
		xi, xj := xp[bench[i].PlayerID], xp[bench[j].PlayerID]
		if xi != xj {
			return xi > xj
		}
		return bench[i].PlayerID < bench[j].PlayerID
	})

	captain, vice := chooseCaptain(best, xp)

	return &models.Lineup{
		Starting:  best,
		Bench:     bench,
		Formation: bestFormation,
		CaptainID: captain,
		ViceID:    vice,
	}, nil
}

// chooseCaptain returns the armband and vice from a starting eleven: the
// two highest expected scorers, ties broken by lower player id.
func chooseCaptain(eleven []models.SquadPlayer, xp map[int]float64) (int, int) {
	ranked := append([]models.SquadPlayer{}, eleven...)
	sort.Slice(ranked, func(i, j int) bool {
		xi, xj := xp[ranked[i].PlayerID], xp[ranked[j].PlayerID]
		if xi != xj {
			return xi > xj
		}
		return ranked[i].PlayerID < ranked[j].PlayerID
	})
	if len(ranked) < 2 {
		return 0, 0
	}
	return ranked[0].PlayerID, ranked[1].PlayerID
}
