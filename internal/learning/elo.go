package learning

import (
	"context"
	"fmt"
	"math"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

const (
	eloK             = 32.0
	eloHomeAdvantage = 50.0
	eloInitialRating = 1500.0
)

// updateElo folds every newly finished fixture of the gameweek into the
// team ratings. The exchange is zero-sum and each fixture counts once.
func (a *Agent) updateElo(ctx context.Context, gameweek int) error {
	fixtures, err := a.repo.FixturesForGameweek(ctx, gameweek)
	if err != nil {
		return fmt.Errorf("failed to load fixtures: %w", err)
	}

	ratings, err := a.repo.GetEloRatings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ratings: %w", err)
	}

	for _, fixture := range fixtures {
		if !fixture.Finished || fixture.TeamHScore == nil || fixture.TeamAScore == nil {
			continue
		}
		recorded, err := a.repo.EloMatchRecorded(ctx, fixture.ID)
		if err != nil {
			return err
		}
		if recorded {
			continue
		}

		home := ratingFor(ratings, fixture.TeamH)
		away := ratingFor(ratings, fixture.TeamA)

		expectedHome := expectedScore(home.Rating+eloHomeAdvantage, away.Rating)
		actualHome := matchScore(*fixture.TeamHScore, *fixture.TeamAScore)
		delta := eloK * (actualHome - expectedHome)

		result := &models.EloMatchResult{
			FixtureID:        fixture.ID,
			Gameweek:         gameweek,
			HomeTeamID:       fixture.TeamH,
			AwayTeamID:       fixture.TeamA,
			HomeScore:        *fixture.TeamHScore,
			AwayScore:        *fixture.TeamAScore,
			HomeRatingBefore: home.Rating,
			AwayRatingBefore: away.Rating,
		}

		home.Rating += delta
		home.Played++
		away.Rating -= delta
		away.Played++
		result.HomeRatingAfter = home.Rating
		result.AwayRatingAfter = away.Rating

		if err := a.repo.SaveEloRating(ctx, &home); err != nil {
			return err
		}
		if err := a.repo.SaveEloRating(ctx, &away); err != nil {
			return err
		}
		if err := a.repo.RecordEloMatch(ctx, result); err != nil {
			return err
		}
		ratings[fixture.TeamH] = home
		ratings[fixture.TeamA] = away
	}
	return nil
}

func ratingFor(ratings map[int]models.EloRating, teamID int) models.EloRating {
	if r, ok := ratings[teamID]; ok {
		return r
	}
	return models.EloRating{TeamID: teamID, Rating: eloInitialRating}
}

// expectedScore is the standard logistic expectation for the first side.
func expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

func matchScore(scoreFor, scoreAgainst int) float64 {
	switch {
	case scoreFor > scoreAgainst:
		return 1.0
	case scoreFor < scoreAgainst:
		return 0.0
	}
	return 0.5
}
