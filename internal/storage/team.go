package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// GetMyTeam returns the owned squad rows.
func (r *Repository) GetMyTeam(ctx context.Context) ([]models.MyTeamSlot, error) {
	var slots []models.MyTeamSlot
	if err := r.conn(ctx).Order("element_type, player_id").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to load squad: %w", err)
	}
	return slots, nil
}

// ReplaceMyTeam swaps the whole squad and its budget state atomically. Used
// when a gameweek starts and the draft is promoted to the live team.
func (r *Repository) ReplaceMyTeam(ctx context.Context, slots []models.MyTeamSlot, state *models.TeamState) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.MyTeamSlot{}).Error; err != nil {
			return fmt.Errorf("failed to clear squad: %w", err)
		}
		for i := range slots {
			slots[i].ID = 0
			slots[i].UpdatedAt = time.Now().UTC()
			if err := tx.Create(&slots[i]).Error; err != nil {
				return fmt.Errorf("failed to insert squad slot: %w", err)
			}
		}
		if state != nil {
			if err := saveTeamStateTx(tx, state); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateSquadPrices refreshes selling prices and names on the owned rows
// without touching membership.
func (r *Repository) UpdateSquadPrices(ctx context.Context, slots []models.MyTeamSlot) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range slots {
			err := tx.Model(&models.MyTeamSlot{}).
				Where("player_id = ?", slots[i].PlayerID).
				Updates(map[string]interface{}{
					"selling_price": slots[i].SellingPrice,
					"name":          slots[i].Name,
					"updated_at":    time.Now().UTC(),
				}).Error
			if err != nil {
				return fmt.Errorf("failed to update slot for player %d: %w", slots[i].PlayerID, err)
			}
		}
		return nil
	})
}

// GetTeamState returns the singleton budget row, creating it on first read.
func (r *Repository) GetTeamState(ctx context.Context) (*models.TeamState, error) {
	var state models.TeamState
	err := r.conn(ctx).First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !notFound(err) {
		return nil, fmt.Errorf("failed to load team state: %w", err)
	}

	state = models.TeamState{Bank: 0, FreeTransfers: 1}
	if err := r.conn(ctx).Create(&state).Error; err != nil {
		return nil, fmt.Errorf("failed to initialise team state: %w", err)
	}
	return &state, nil
}

// SaveTeamState persists the singleton budget row.
func (r *Repository) SaveTeamState(ctx context.Context, state *models.TeamState) error {
	return saveTeamStateTx(r.conn(ctx), state)
}

func saveTeamStateTx(tx *gorm.DB, state *models.TeamState) error {
	state.UpdatedAt = time.Now().UTC()
	if state.ID == 0 {
		var existing models.TeamState
		err := tx.First(&existing).Error
		if err == nil {
			state.ID = existing.ID
		} else if !notFound(err) {
			return fmt.Errorf("failed to load team state: %w", err)
		}
	}
	if state.ID == 0 {
		if err := tx.Create(state).Error; err != nil {
			return fmt.Errorf("failed to create team state: %w", err)
		}
		return nil
	}
	if err := tx.Save(state).Error; err != nil {
		return fmt.Errorf("failed to save team state: %w", err)
	}
	return nil
}

// SaveDraft overwrites the draft for one gameweek. Re-running a selection
// for the same gameweek replaces the previous rows wholesale.
func (r *Repository) SaveDraft(ctx context.Context, gameweek int, slots []models.DraftSlot) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("gameweek = ?", gameweek).Delete(&models.DraftSlot{}).Error; err != nil {
			return fmt.Errorf("failed to clear gameweek %d draft: %w", gameweek, err)
		}
		for i := range slots {
			slots[i].ID = 0
			slots[i].Gameweek = gameweek
			slots[i].UpdatedAt = time.Now().UTC()
			if err := tx.Create(&slots[i]).Error; err != nil {
				return fmt.Errorf("failed to insert draft slot %d: %w", slots[i].Slot, err)
			}
		}
		return nil
	})
}

// GetDraft returns the draft rows for one gameweek ordered by slot.
func (r *Repository) GetDraft(ctx context.Context, gameweek int) ([]models.DraftSlot, error) {
	var slots []models.DraftSlot
	if err := r.conn(ctx).Where("gameweek = ?", gameweek).Order("slot").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to load gameweek %d draft: %w", gameweek, err)
	}
	return slots, nil
}

// RecordTransfer appends an executed transfer.
func (r *Repository) RecordTransfer(ctx context.Context, transfer *models.TransferRecord) error {
	if transfer.ExecutedAt.IsZero() {
		transfer.ExecutedAt = time.Now().UTC()
	}
	if err := r.conn(ctx).Create(transfer).Error; err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// TransfersForGameweek returns the transfers recorded against one gameweek.
func (r *Repository) TransfersForGameweek(ctx context.Context, gameweek int) ([]models.TransferRecord, error) {
	var transfers []models.TransferRecord
	if err := r.conn(ctx).Where("gameweek = ?", gameweek).Order("id").Find(&transfers).Error; err != nil {
		return nil, fmt.Errorf("failed to load gameweek %d transfers: %w", gameweek, err)
	}
	return transfers, nil
}

// ChipUsed reports whether a chip instance has been spent in the given half.
func (r *Repository) ChipUsed(ctx context.Context, chip models.Chip, half int) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&models.ChipUsage{}).
		Where("chip = ? AND half = ?", chip, half).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check chip %s: %w", chip, err)
	}
	return count > 0, nil
}

// MarkChipUsed spends a chip instance. Spending the same instance twice is
// rejected by the unique index.
func (r *Repository) MarkChipUsed(ctx context.Context, chip models.Chip, half, gameweek int) error {
	usage := models.ChipUsage{
		Chip:     chip,
		Half:     half,
		Gameweek: gameweek,
		UsedAt:   time.Now().UTC(),
	}
	if err := r.conn(ctx).Create(&usage).Error; err != nil {
		return fmt.Errorf("failed to mark chip %s used: %w", chip, err)
	}
	return nil
}

// AvailableChips lists the chips still unspent for the given half.
func (r *Repository) AvailableChips(ctx context.Context, half int) ([]models.Chip, error) {
	var used []models.ChipUsage
	if err := r.conn(ctx).Where("half = ?", half).Find(&used).Error; err != nil {
		return nil, fmt.Errorf("failed to load chip usage: %w", err)
	}

	spent := make(map[models.Chip]bool, len(used))
	for _, u := range used {
		spent[u.Chip] = true
	}

	var available []models.Chip
	for _, chip := range models.AllChips {
		if !spent[chip] {
			available = append(available, chip)
		}
	}
	return available, nil
}
