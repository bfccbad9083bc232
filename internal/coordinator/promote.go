package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// promoteDraft makes the final draft for a started gameweek the live squad:
// membership changes become transfer records, the bank and free-transfer
// counters roll, and any chip instance on the draft is spent. Free hit is
// the exception: the squad reverts after one week, so membership stays put.
func (c *Coordinator) promoteDraft(ctx context.Context, gameweek int) error {
	log := c.logger.WithFields(logrus.Fields{
		"agent":    agentName,
		"gameweek": gameweek,
	})

	draft, err := c.repo.GetDraft(ctx, gameweek)
	if err != nil {
		return fmt.Errorf("failed to load draft: %w", err)
	}
	if len(draft) == 0 {
		log.Warn("No draft to promote")
		return nil
	}

	state, err := c.repo.GetTeamState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load team state: %w", err)
	}
	current, err := c.repo.GetMyTeam(ctx)
	if err != nil {
		return fmt.Errorf("failed to load squad: %w", err)
	}

	chip := models.Chip(draft[0].Chip)
	if chip != "" {
		if err := c.repo.MarkChipUsed(ctx, chip, models.ChipHalf(gameweek), gameweek); err != nil {
			log.WithError(err).WithField("chip", chip).Warn("Failed to mark chip used")
		}
	}

	switch chip {
	case models.ChipFreeHit:
		// One-week squad; the owned fifteen stand. Captaincy still follows
		// the draft so the state rolls but membership does not.
		state.FreeTransfers = rollTransfers(state.FreeTransfers, 0)
		state.Gameweek = gameweek
		if err := c.repo.SaveTeamState(ctx, state); err != nil {
			return fmt.Errorf("failed to roll team state: %w", err)
		}
		log.WithField("chip", chip).Info("Free hit week, squad membership unchanged")
		return nil

	case models.ChipWildcard:
		slots, spent := c.rebuildSlots(ctx, draft, current)
		state.Bank = state.Bank + sellingTotal(current) - spent
		state.FreeTransfers = rollTransfers(state.FreeTransfers, 0)
		state.Gameweek = gameweek
		if err := c.repo.ReplaceMyTeam(ctx, slots, state); err != nil {
			return fmt.Errorf("failed to promote wildcard squad: %w", err)
		}
		log.WithField("chip", chip).Info("Wildcard squad promoted")
		return nil
	}

	slots, moves := c.carrySlots(ctx, draft, current)
	for i, m := range moves {
		m.Gameweek = gameweek
		if i < state.FreeTransfers {
			m.Free = true
		} else {
			m.Free = false
			m.HitCost = models.HitCost
		}
		if err := c.repo.RecordTransfer(ctx, m); err != nil {
			log.WithError(err).Warn("Failed to record transfer")
		}
		state.Bank += m.OutPrice - m.InPrice
	}
	state.FreeTransfers = rollTransfers(state.FreeTransfers, len(moves))
	state.Gameweek = gameweek
	if err := c.repo.ReplaceMyTeam(ctx, slots, state); err != nil {
		return fmt.Errorf("failed to promote draft: %w", err)
	}

	log.WithFields(logrus.Fields{
		"transfers":      len(moves),
		"bank":           state.Bank,
		"free_transfers": state.FreeTransfers,
	}).Info("Draft promoted to live squad")
	return nil
}

// rebuildSlots prices every draft member fresh, keeping purchase history for
// players the squad already owned. Returns the slots and the total spend on
// new members plus carried purchase prices.
func (c *Coordinator) rebuildSlots(ctx context.Context, draft []models.DraftSlot, current []models.MyTeamSlot) ([]models.MyTeamSlot, int) {
	owned := slotsByID(current)
	slots := make([]models.MyTeamSlot, 0, len(draft))
	spent := 0
	for _, d := range draft {
		slot := newSlot(d)
		if prev, ok := owned[d.PlayerID]; ok {
			slot.PurchasePrice = prev.PurchasePrice
			slot.SellingPrice = prev.SellingPrice
			spent += prev.SellingPrice
		} else {
			cost := c.currentCost(ctx, d.PlayerID)
			slot.PurchasePrice = cost
			slot.SellingPrice = cost
			spent += cost
		}
		slots = append(slots, slot)
	}
	return slots, spent
}

// carrySlots keeps owned purchase prices and turns membership differences
// into transfer records, pairing outs with ins by position.
func (c *Coordinator) carrySlots(ctx context.Context, draft []models.DraftSlot, current []models.MyTeamSlot) ([]models.MyTeamSlot, []*models.TransferRecord) {
	owned := slotsByID(current)
	drafted := make(map[int]bool, len(draft))
	slots := make([]models.MyTeamSlot, 0, len(draft))

	var ins []models.MyTeamSlot
	for _, d := range draft {
		drafted[d.PlayerID] = true
		slot := newSlot(d)
		if prev, ok := owned[d.PlayerID]; ok {
			slot.PurchasePrice = prev.PurchasePrice
			slot.SellingPrice = prev.SellingPrice
		} else {
			cost := c.currentCost(ctx, d.PlayerID)
			slot.PurchasePrice = cost
			slot.SellingPrice = cost
			ins = append(ins, slot)
		}
		slots = append(slots, slot)
	}

	var outs []models.MyTeamSlot
	for _, s := range current {
		if !drafted[s.PlayerID] {
			outs = append(outs, s)
		}
	}
	sort.Slice(ins, func(i, j int) bool {
		if ins[i].ElementType != ins[j].ElementType {
			return ins[i].ElementType < ins[j].ElementType
		}
		return ins[i].PlayerID < ins[j].PlayerID
	})
	sort.Slice(outs, func(i, j int) bool {
		if outs[i].ElementType != outs[j].ElementType {
			return outs[i].ElementType < outs[j].ElementType
		}
		return outs[i].PlayerID < outs[j].PlayerID
	})

	moves := make([]*models.TransferRecord, 0, len(ins))
	for i := range ins {
		if i >= len(outs) {
			break
		}
		moves = append(moves, &models.TransferRecord{
			PlayerOut: outs[i].PlayerID,
			OutName:   outs[i].Name,
			PlayerIn:  ins[i].PlayerID,
			InName:    ins[i].Name,
			OutPrice:  outs[i].SellingPrice,
			InPrice:   ins[i].PurchasePrice,
		})
	}
	return slots, moves
}

func (c *Coordinator) currentCost(ctx context.Context, playerID int) int {
	player, err := c.repo.GetPlayer(ctx, playerID)
	if err != nil {
		c.logger.WithError(err).WithField("player_id", playerID).
			Warn("Failed to price incoming player, recording zero cost")
		return 0
	}
	return player.NowCost
}

// rollTransfers applies the weekly accrual after spending used transfers.
// The counter never drops below one or rises past the bank cap.
func rollTransfers(current, used int) int {
	next := current - used + 1
	if next < 1 {
		next = 1
	}
	if next > maxFreeTransfers {
		next = maxFreeTransfers
	}
	return next
}

func newSlot(d models.DraftSlot) models.MyTeamSlot {
	return models.MyTeamSlot{
		PlayerID:    d.PlayerID,
		Code:        d.Code,
		Name:        d.Name,
		ElementType: d.ElementType,
		TeamID:      d.TeamID,
		IsCaptain:   d.IsCaptain,
		IsVice:      d.IsVice,
	}
}

func slotsByID(slots []models.MyTeamSlot) map[int]models.MyTeamSlot {
	out := make(map[int]models.MyTeamSlot, len(slots))
	for _, s := range slots {
		out[s.PlayerID] = s
	}
	return out
}

func sellingTotal(slots []models.MyTeamSlot) int {
	total := 0
	for _, s := range slots {
		total += s.SellingPrice
	}
	return total
}
