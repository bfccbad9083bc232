package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// UpsertPlayers writes the full player list in one transaction, updating
// rows that exist and creating the rest.
func (r *Repository) UpsertPlayers(ctx context.Context, players []models.Player) error {
	if len(players) == 0 {
		return nil
	}
	err := r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range players {
			players[i].UpdatedAt = time.Now().UTC()
			var existing models.Player
			err := tx.Where("id = ?", players[i].ID).First(&existing).Error
			if err == nil {
				if err := tx.Model(&existing).Select("*").Omit("id").Updates(&players[i]).Error; err != nil {
					return fmt.Errorf("failed to update player %d: %w", players[i].ID, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&players[i]).Error; err != nil {
				return fmt.Errorf("failed to create player %d: %w", players[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.WithField("players", len(players)).Debug("Upserted players")
	return nil
}

// GetPlayer loads one player by element id.
func (r *Repository) GetPlayer(ctx context.Context, id int) (*models.Player, error) {
	var player models.Player
	if err := r.conn(ctx).First(&player, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: player %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &player, nil
}

// GetPlayerByCode loads one player by the season-stable code.
func (r *Repository) GetPlayerByCode(ctx context.Context, code int64) (*models.Player, error) {
	var player models.Player
	if err := r.conn(ctx).First(&player, "code = ?", code).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: player code %d", ErrNotFound, code)
		}
		return nil, err
	}
	return &player, nil
}

// ListPlayers returns every player.
func (r *Repository) ListPlayers(ctx context.Context) ([]models.Player, error) {
	var players []models.Player
	if err := r.conn(ctx).Order("id").Find(&players).Error; err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

// ListPlayersByPosition returns every player of one position.
func (r *Repository) ListPlayersByPosition(ctx context.Context, pos models.Position) ([]models.Player, error) {
	var players []models.Player
	if err := r.conn(ctx).Where("element_type = ?", int(pos)).Order("id").Find(&players).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s players: %w", pos, err)
	}
	return players, nil
}

// UpsertTeams writes the 20 club rows.
func (r *Repository) UpsertTeams(ctx context.Context, teams []models.Team) error {
	if len(teams) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range teams {
			teams[i].UpdatedAt = time.Now().UTC()
			var existing models.Team
			err := tx.Where("id = ?", teams[i].ID).First(&existing).Error
			if err == nil {
				if err := tx.Model(&existing).Select("*").Omit("id").Updates(&teams[i]).Error; err != nil {
					return fmt.Errorf("failed to update team %d: %w", teams[i].ID, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&teams[i]).Error; err != nil {
				return fmt.Errorf("failed to create team %d: %w", teams[i].ID, err)
			}
		}
		return nil
	})
}

// GetTeam loads one club.
func (r *Repository) GetTeam(ctx context.Context, id int) (*models.Team, error) {
	var team models.Team
	if err := r.conn(ctx).First(&team, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: team %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &team, nil
}

// ListTeams returns every club.
func (r *Repository) ListTeams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	if err := r.conn(ctx).Order("id").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

// UpsertGameweeks writes the 38 gameweek rows.
func (r *Repository) UpsertGameweeks(ctx context.Context, gameweeks []models.Gameweek) error {
	if len(gameweeks) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range gameweeks {
			gameweeks[i].UpdatedAt = time.Now().UTC()
			var existing models.Gameweek
			err := tx.Where("id = ?", gameweeks[i].ID).First(&existing).Error
			if err == nil {
				if err := tx.Model(&existing).Select("*").Omit("id").Updates(&gameweeks[i]).Error; err != nil {
					return fmt.Errorf("failed to update gameweek %d: %w", gameweeks[i].ID, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&gameweeks[i]).Error; err != nil {
				return fmt.Errorf("failed to create gameweek %d: %w", gameweeks[i].ID, err)
			}
		}
		return nil
	})
}

// CurrentGameweek returns the gameweek flagged current, or ErrNotFound
// pre-season.
func (r *Repository) CurrentGameweek(ctx context.Context) (*models.Gameweek, error) {
	var gw models.Gameweek
	if err := r.conn(ctx).Where("is_current = ?", true).First(&gw).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: no current gameweek", ErrNotFound)
		}
		return nil, err
	}
	return &gw, nil
}

// NextGameweek returns the gameweek flagged next.
func (r *Repository) NextGameweek(ctx context.Context) (*models.Gameweek, error) {
	var gw models.Gameweek
	if err := r.conn(ctx).Where("is_next = ?", true).First(&gw).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: no next gameweek", ErrNotFound)
		}
		return nil, err
	}
	return &gw, nil
}

// GetGameweek loads one gameweek by number.
func (r *Repository) GetGameweek(ctx context.Context, id int) (*models.Gameweek, error) {
	var gw models.Gameweek
	if err := r.conn(ctx).First(&gw, "id = ?", id).Error; err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("%w: gameweek %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &gw, nil
}

// UpsertFixtures writes fixture rows.
func (r *Repository) UpsertFixtures(ctx context.Context, fixtures []models.Fixture) error {
	if len(fixtures) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range fixtures {
			fixtures[i].UpdatedAt = time.Now().UTC()
			var existing models.Fixture
			err := tx.Where("id = ?", fixtures[i].ID).First(&existing).Error
			if err == nil {
				if err := tx.Model(&existing).Select("*").Omit("id").Updates(&fixtures[i]).Error; err != nil {
					return fmt.Errorf("failed to update fixture %d: %w", fixtures[i].ID, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&fixtures[i]).Error; err != nil {
				return fmt.Errorf("failed to create fixture %d: %w", fixtures[i].ID, err)
			}
		}
		return nil
	})
}

// FixturesForGameweek returns the fixtures scheduled in one gameweek.
func (r *Repository) FixturesForGameweek(ctx context.Context, gameweek int) ([]models.Fixture, error) {
	var fixtures []models.Fixture
	if err := r.conn(ctx).Where("event = ?", gameweek).Order("id").Find(&fixtures).Error; err != nil {
		return nil, fmt.Errorf("failed to load gameweek %d fixtures: %w", gameweek, err)
	}
	return fixtures, nil
}

// FixturesBetween returns fixtures in the half-open gameweek range
// [from, from+count).
func (r *Repository) FixturesBetween(ctx context.Context, from, count int) ([]models.Fixture, error) {
	var fixtures []models.Fixture
	err := r.conn(ctx).
		Where("event >= ? AND event < ?", from, from+count).
		Order("event, id").
		Find(&fixtures).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load fixtures from gameweek %d: %w", from, err)
	}
	return fixtures, nil
}

// UpcomingFixturesForTeam returns a team's next fixtures starting at the
// given gameweek.
func (r *Repository) UpcomingFixturesForTeam(ctx context.Context, teamID, fromGameweek, count int) ([]models.Fixture, error) {
	var fixtures []models.Fixture
	err := r.conn(ctx).
		Where("(team_h = ? OR team_a = ?) AND event >= ? AND event < ?",
			teamID, teamID, fromGameweek, fromGameweek+count).
		Order("event, id").
		Find(&fixtures).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load team %d fixtures: %w", teamID, err)
	}
	return fixtures, nil
}

// UpsertPlayerHistory writes per-gameweek performance rows keyed by
// (player, gameweek).
func (r *Repository) UpsertPlayerHistory(ctx context.Context, rows []models.PlayerGameweekHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			var existing models.PlayerGameweekHistory
			err := tx.Where("player_id = ? AND gameweek = ?", rows[i].PlayerID, rows[i].Gameweek).
				First(&existing).Error
			if err == nil {
				rows[i].ID = existing.ID
				if err := tx.Model(&existing).Select("*").Omit("id", "created_at").Updates(&rows[i]).Error; err != nil {
					return fmt.Errorf("failed to update history for player %d gw %d: %w",
						rows[i].PlayerID, rows[i].Gameweek, err)
				}
				continue
			}
			if !notFound(err) {
				return err
			}
			if err := tx.Create(&rows[i]).Error; err != nil {
				return fmt.Errorf("failed to create history for player %d gw %d: %w",
					rows[i].PlayerID, rows[i].Gameweek, err)
			}
		}
		return nil
	})
}

// HistoryForPlayer returns a player's most recent gameweek rows, newest
// first, up to limit.
func (r *Repository) HistoryForPlayer(ctx context.Context, playerID, limit int) ([]models.PlayerGameweekHistory, error) {
	var rows []models.PlayerGameweekHistory
	q := r.conn(ctx).Where("player_id = ?", playerID).Order("gameweek DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load history for player %d: %w", playerID, err)
	}
	return rows, nil
}

// HistoryForGameweek returns every player's row for one gameweek.
func (r *Repository) HistoryForGameweek(ctx context.Context, gameweek int) ([]models.PlayerGameweekHistory, error) {
	var rows []models.PlayerGameweekHistory
	if err := r.conn(ctx).Where("gameweek = ?", gameweek).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load gameweek %d history: %w", gameweek, err)
	}
	return rows, nil
}
