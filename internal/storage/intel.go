package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// GetEloRatings returns the current rating per team, keyed by team id.
// Teams without a row default to the initial 1500.
func (r *Repository) GetEloRatings(ctx context.Context) (map[int]models.EloRating, error) {
	var rows []models.EloRating
	if err := r.conn(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load elo ratings: %w", err)
	}
	out := make(map[int]models.EloRating, len(rows))
	for _, row := range rows {
		out[row.TeamID] = row
	}
	return out, nil
}

// SaveEloRating upserts one team's rating.
func (r *Repository) SaveEloRating(ctx context.Context, rating *models.EloRating) error {
	rating.UpdatedAt = time.Now().UTC()
	var existing models.EloRating
	err := r.conn(ctx).Where("team_id = ?", rating.TeamID).First(&existing).Error
	if err == nil {
		rating.ID = existing.ID
		return r.conn(ctx).Model(&existing).Select("*").Omit("id").Updates(rating).Error
	}
	if !notFound(err) {
		return fmt.Errorf("failed to load elo rating for team %d: %w", rating.TeamID, err)
	}
	if err := r.conn(ctx).Create(rating).Error; err != nil {
		return fmt.Errorf("failed to create elo rating for team %d: %w", rating.TeamID, err)
	}
	return nil
}

// EloMatchRecorded reports whether a fixture's rating exchange has already
// been applied. Guards the update against gameweek.completed replays.
func (r *Repository) EloMatchRecorded(ctx context.Context, fixtureID int) (bool, error) {
	var count int64
	err := r.conn(ctx).Model(&models.EloMatchResult{}).
		Where("fixture_id = ?", fixtureID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check elo result for fixture %d: %w", fixtureID, err)
	}
	return count > 0, nil
}

// RecordEloMatch appends one fixture's rating exchange.
func (r *Repository) RecordEloMatch(ctx context.Context, result *models.EloMatchResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	if err := r.conn(ctx).Create(result).Error; err != nil {
		return fmt.Errorf("failed to record elo result for fixture %d: %w", result.FixtureID, err)
	}
	return nil
}

// RecordStandings appends one observation of the league table and refreshes
// the current rival rows.
func (r *Repository) RecordStandings(ctx context.Context, history []models.LeagueStandingRow, rivals []models.LeagueRival) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range history {
			if history[i].RecordedAt.IsZero() {
				history[i].RecordedAt = time.Now().UTC()
			}
			if err := tx.Create(&history[i]).Error; err != nil {
				return fmt.Errorf("failed to record standing for entry %d: %w", history[i].EntryID, err)
			}
		}
		for i := range rivals {
			rivals[i].UpdatedAt = time.Now().UTC()
			var existing models.LeagueRival
			err := tx.Where("entry_id = ?", rivals[i].EntryID).First(&existing).Error
			if err == nil {
				rivals[i].ID = existing.ID
				if err := tx.Model(&existing).Select("*").Omit("id").Updates(&rivals[i]).Error; err != nil {
					return fmt.Errorf("failed to update rival %d: %w", rivals[i].EntryID, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&rivals[i]).Error; err != nil {
				return fmt.Errorf("failed to create rival %d: %w", rivals[i].EntryID, err)
			}
		}
		return nil
	})
}

// ListRivals returns the tracked rivals ordered by rank.
func (r *Repository) ListRivals(ctx context.Context) ([]models.LeagueRival, error) {
	var rivals []models.LeagueRival
	if err := r.conn(ctx).Order("rank").Find(&rivals).Error; err != nil {
		return nil, fmt.Errorf("failed to load rivals: %w", err)
	}
	return rivals, nil
}

// RecordRivalChip marks one rival chip instance used, appending a usage row
// the first time it is seen.
func (r *Repository) RecordRivalChip(ctx context.Context, entryID int64, chip models.Chip, gameweek int) error {
	half := models.ChipHalf(gameweek)
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var status models.RivalChipStatus
		err := tx.Where("entry_id = ? AND chip = ? AND half = ?", entryID, chip, half).First(&status).Error
		if err == nil {
			if status.Used {
				return nil // already recorded
			}
			status.Used = true
			status.UpdatedAt = time.Now().UTC()
			if err := tx.Save(&status).Error; err != nil {
				return fmt.Errorf("failed to update rival chip status: %w", err)
			}
		} else if notFound(err) {
			status = models.RivalChipStatus{
				EntryID:   entryID,
				Chip:      chip,
				Half:      half,
				Used:      true,
				UpdatedAt: time.Now().UTC(),
			}
			if err := tx.Create(&status).Error; err != nil {
				return fmt.Errorf("failed to create rival chip status: %w", err)
			}
		} else {
			return err
		}

		usage := models.RivalChipUsage{
			EntryID:    entryID,
			Chip:       chip,
			Gameweek:   gameweek,
			DetectedAt: time.Now().UTC(),
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("failed to record rival chip usage: %w", err)
		}
		return nil
	})
}

// RivalChipsUsed returns the chip plays recorded for one rival entry.
func (r *Repository) RivalChipsUsed(ctx context.Context, entryID int64) ([]models.RivalChipUsage, error) {
	var usage []models.RivalChipUsage
	if err := r.conn(ctx).Where("entry_id = ?", entryID).Order("gameweek").Find(&usage).Error; err != nil {
		return nil, fmt.Errorf("failed to load rival chips for entry %d: %w", entryID, err)
	}
	return usage, nil
}

// RecordTransferSnapshots appends one momentum observation per player.
func (r *Repository) RecordTransferSnapshots(ctx context.Context, rows []models.TransferSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].SnapshotAt.IsZero() {
			rows[i].SnapshotAt = time.Now().UTC()
		}
	}
	if err := r.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record transfer snapshots: %w", err)
	}
	return nil
}

// LatestSnapshots returns the most recent momentum observation per player
// taken during the given phase, keyed by player id.
func (r *Repository) LatestSnapshots(ctx context.Context, phase string) (map[int]models.TransferSnapshot, error) {
	var rows []models.TransferSnapshot
	q := r.conn(ctx).Order("snapshot_at DESC")
	if phase != "" {
		q = q.Where("phase = ?", phase)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load transfer snapshots: %w", err)
	}
	out := make(map[int]models.TransferSnapshot)
	for _, row := range rows {
		if _, seen := out[row.PlayerID]; !seen {
			out[row.PlayerID] = row
		}
	}
	return out, nil
}

// RecordPricePredictions appends rise/fall/hold calls.
func (r *Repository) RecordPricePredictions(ctx context.Context, rows []models.PricePrediction) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record price predictions: %w", err)
	}
	return nil
}

// UnscoredPricePredictions returns calls made since the cutoff that have no
// recorded outcome yet.
func (r *Repository) UnscoredPricePredictions(ctx context.Context, since time.Time) ([]models.PricePrediction, error) {
	var rows []models.PricePrediction
	err := r.conn(ctx).
		Where("outcome IS NULL AND created_at >= ?", since).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load unscored price predictions: %w", err)
	}
	return rows, nil
}

// ScorePricePrediction writes the observed outcome onto one call.
func (r *Repository) ScorePricePrediction(ctx context.Context, id uint, outcome string, correct bool) error {
	err := r.conn(ctx).Model(&models.PricePrediction{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"outcome": outcome,
			"correct": correct,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to score price prediction %d: %w", id, err)
	}
	return nil
}

// RecordPriceChanges appends confirmed cost moves.
func (r *Repository) RecordPriceChanges(ctx context.Context, rows []models.PriceChange) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		if rows[i].DetectedAt.IsZero() {
			rows[i].DetectedAt = time.Now().UTC()
		}
	}
	if err := r.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to record price changes: %w", err)
	}
	return nil
}

// UpsertPriceModelPerformance folds a day's accuracy into its row.
func (r *Repository) UpsertPriceModelPerformance(ctx context.Context, day time.Time, predictions, correct int) error {
	day = day.UTC().Truncate(24 * time.Hour)
	accuracy := 0.0
	if predictions > 0 {
		accuracy = float64(correct) / float64(predictions)
	}

	var existing models.PriceModelPerformance
	err := r.conn(ctx).Where("day = ?", day).First(&existing).Error
	if err == nil {
		existing.Predictions = predictions
		existing.Correct = correct
		existing.Accuracy = accuracy
		return r.conn(ctx).Save(&existing).Error
	}
	if !notFound(err) {
		return fmt.Errorf("failed to load price model performance: %w", err)
	}
	row := models.PriceModelPerformance{
		Day:         day,
		Predictions: predictions,
		Correct:     correct,
		Accuracy:    accuracy,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record price model performance: %w", err)
	}
	return nil
}

// UpsertHistoricalPlayers writes prior-season summary rows keyed by
// (code, season).
func (r *Repository) UpsertHistoricalPlayers(ctx context.Context, rows []models.HistoricalPlayer) error {
	if len(rows) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			var existing models.HistoricalPlayer
			err := tx.Where("code = ? AND season_name = ?", rows[i].Code, rows[i].SeasonName).
				First(&existing).Error
			if err == nil {
				rows[i].ID = existing.ID
				rows[i].CreatedAt = existing.CreatedAt
				if err := tx.Model(&existing).Select("*").Omit("id", "created_at").Updates(&rows[i]).Error; err != nil {
					return fmt.Errorf("failed to update historical row for code %d: %w", rows[i].Code, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&rows[i]).Error; err != nil {
				return fmt.Errorf("failed to create historical row for code %d: %w", rows[i].Code, err)
			}
		}
		return nil
	})
}

// ArchiveGameweekData stores one player's raw stats blob for a completed
// gameweek. Existing archives for the key are left untouched.
func (r *Repository) ArchiveGameweekData(ctx context.Context, row *models.HistoricalGameweekData) error {
	var count int64
	err := r.conn(ctx).Model(&models.HistoricalGameweekData{}).
		Where("code = ? AND season = ? AND gameweek = ?", row.Code, row.Season, row.Gameweek).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check gameweek archive: %w", err)
	}
	if count > 0 {
		return nil
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := r.conn(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to archive gameweek data for code %d: %w", row.Code, err)
	}
	return nil
}
