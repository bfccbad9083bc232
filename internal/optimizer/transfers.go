package optimizer

import (
	"fmt"
	"sort"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

const (
	// DefaultHorizon is how many gameweeks ahead transfer gains are
	// evaluated over.
	DefaultHorizon = 4

	// upgradeSlack lets a replacement cost slightly more than the funds
	// strictly available, in tenths.
	upgradeSlack = 1

	// rollThreshold and hitThreshold are average gain per gameweek. Below
	// the first a transfer is not worth a move at all; a points hit needs
	// gains past the second.
	rollThreshold = 2.0
	hitThreshold  = 4.0

	weakHoldersPerPosition = 2
	optionsPerPosition     = 3
	topOptions             = 3
)

// Transfer actions. A paid hit is still a make; the plan carries the hit
// cost separately.
const (
	ActionRoll    = "roll"
	ActionMake    = "make"
	ActionUseChip = "use-chip"
)

// TransferOption is one candidate swap with its expected gain per horizon
// gameweek.
type TransferOption struct {
	Out       models.SquadPlayer `json:"out"`
	InID      int                `json:"in_id"`
	InName    string             `json:"in_name"`
	InTeamID  int                `json:"in_team_id"`
	InCost    int                `json:"in_cost"` // tenths
	GainPerGW []float64          `json:"gain_per_gw"`
	TotalGain float64            `json:"total_gain"`
}

// AvgGain is the option's mean gain per horizon gameweek.
func (o *TransferOption) AvgGain() float64 {
	if len(o.GainPerGW) == 0 {
		return 0
	}
	return o.TotalGain / float64(len(o.GainPerGW))
}

// TransferPlan is the optimizer's verdict for the week.
type TransferPlan struct {
	Action    string           `json:"action"`
	Best      *TransferOption  `json:"best,omitempty"`
	Top       []TransferOption `json:"top,omitempty"`
	HitCost   int              `json:"hit_cost,omitempty"`
	Chip      *ChipAdvice      `json:"chip,omitempty"`
	Rationale string           `json:"rationale"`
}

// OptimizeTransfers decides whether to move this week: weakest two holders
// per position, replacement candidates within funds, chip arbitration, then
// the roll/make/hit thresholds.
func OptimizeTransfers(squad *models.Squad, pool []models.Player, m *Matrix, chip *ChipAdvice) *TransferPlan {
	options := enumerateOptions(squad, pool, m)

	plan := &TransferPlan{Chip: chip}
	if len(options) > 0 {
		plan.Best = &options[0]
		n := topOptions
		if len(options) < n {
			n = len(options)
		}
		plan.Top = options[:n]
	}

	bestGain := 0.0
	if plan.Best != nil {
		bestGain = plan.Best.TotalGain
	}

	// Chip arbitration: a chip worth more than the best swap defers all
	// transfers to the rebuild.
	if chip != nil && chip.ExpectedValue > bestGain {
		plan.Action = ActionUseChip
		plan.Rationale = fmt.Sprintf("%s expected value %.1f exceeds best transfer gain %.1f; transfers deferred",
			chip.Chip, chip.ExpectedValue, bestGain)
		return plan
	}

	if plan.Best == nil {
		plan.Action = ActionRoll
		plan.Rationale = "no affordable upgrade found; rolling the free transfer"
		return plan
	}

	avg := plan.Best.AvgGain()
	switch {
	case avg < rollThreshold:
		plan.Action = ActionRoll
		plan.Rationale = fmt.Sprintf("best gain %.1f/gw is under the %.1f/gw bar; rolling", avg, rollThreshold)
	case squad.FreeTransfers >= 1:
		plan.Action = ActionMake
		plan.Rationale = fmt.Sprintf("%s out, %s in: %.1f/gw clears the %.1f/gw bar on a free transfer",
			plan.Best.Out.Name, plan.Best.InName, avg, rollThreshold)
	case avg >= hitThreshold:
		plan.Action = ActionMake
		plan.HitCost = models.HitCost
		plan.Rationale = fmt.Sprintf("%s out, %s in: %.1f/gw clears the %.1f/gw hit bar; taking -%d",
			plan.Best.Out.Name, plan.Best.InName, avg, hitThreshold, models.HitCost)
	default:
		plan.Action = ActionRoll
		plan.Rationale = fmt.Sprintf("no free transfer and %.1f/gw is under the %.1f/gw hit bar; rolling",
			avg, hitThreshold)
	}
	return plan
}

// enumerateOptions returns every candidate swap, globally sorted by total
// gain descending.
func enumerateOptions(squad *models.Squad, pool []models.Player, m *Matrix) []TransferOption {
	byPosition := squad.ByPosition()
	var all []TransferOption

	for _, pos := range models.AllPositions {
		holders := append([]models.SquadPlayer{}, byPosition[pos]...)
		// Weakest first: average expected points per price.
		sort.Slice(holders, func(i, j int) bool {
			return holderValue(holders[i], m) < holderValue(holders[j], m)
		})
		weak := holders
		if len(weak) > weakHoldersPerPosition {
			weak = weak[:weakHoldersPerPosition]
		}

		var positional []TransferOption
		for _, holder := range weak {
			positional = append(positional, candidatesFor(squad, holder, pool, m)...)
		}
		sort.Slice(positional, func(i, j int) bool {
			if positional[i].TotalGain != positional[j].TotalGain {
				return positional[i].TotalGain > positional[j].TotalGain
			}
			return positional[i].InID < positional[j].InID
		})
		if len(positional) > optionsPerPosition {
			positional = positional[:optionsPerPosition]
		}
		all = append(all, positional...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalGain != all[j].TotalGain {
			return all[i].TotalGain > all[j].TotalGain
		}
		return all[i].InID < all[j].InID
	})
	return all
}

func holderValue(holder models.SquadPlayer, m *Matrix) float64 {
	price := float64(holder.SellingPrice) / 10.0
	if price <= 0 {
		return 0
	}
	return m.Avg(holder.PlayerID) / price
}

// candidatesFor builds the options replacing one holder: same position, not
// already owned, affordable from the holder's sale plus the bank.
func candidatesFor(squad *models.Squad, holder models.SquadPlayer, pool []models.Player, m *Matrix) []TransferOption {
	funds := holder.SellingPrice + squad.Bank + upgradeSlack
	holderTotal := m.Total(holder.PlayerID)
	teamCounts := squad.CountByTeam()

	var options []TransferOption
	for i := range pool {
		candidate := &pool[i]
		if candidate.Position() != holder.Position || squad.Contains(candidate.ID) {
			continue
		}
		if candidate.NowCost > funds {
			continue
		}
		// The swap must keep the per-team cap after the holder leaves.
		count := teamCounts[candidate.TeamID]
		if holder.TeamID == candidate.TeamID {
			count--
		}
		if count >= models.MaxPerTeam {
			continue
		}
		total := m.Total(candidate.ID)
		if total <= holderTotal {
			continue
		}

		gains := make([]float64, m.Horizon)
		for offset := 0; offset < m.Horizon; offset++ {
			gains[offset] = m.At(candidate.ID, offset) - m.At(holder.PlayerID, offset)
		}
		options = append(options, TransferOption{
			Out:       holder,
			InID:      candidate.ID,
			InName:    candidate.WebName,
			InTeamID:  candidate.TeamID,
			InCost:    candidate.NowCost,
			GainPerGW: gains,
			TotalGain: total - holderTotal,
		})
	}
	return options
}
