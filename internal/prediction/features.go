package prediction

import (
	"context"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// FeatureNames is the canonical feature ordering the linear artifacts are
// trained against. Artifacts name their own features; this is the assembly
// order on our side.
var FeatureNames = []string{
	"form",
	"points_per_game",
	"minutes_per_game",
	"goals_per_game",
	"assists_per_game",
	"xgi_per_90",
	"clean_sheet_rate",
	"dc_per_game",
	"fixture_ease",
	"price",
	"ownership",
}

// assembleFeatures builds the feature vector for one player against the
// upcoming gameweek. fixtureEase is the mean inverted difficulty of the
// player's team fixtures in that gameweek (0 when blank).
func assembleFeatures(ctx context.Context, repo *storage.Repository, p *models.Player, gameweek int) []float64 {
	// Appearances are not in bootstrap; points-per-game implies them, with
	// estimated full games as a fallback for scoreless players.
	games := float64(p.Minutes) / 90.0
	if p.PointsPerGame > 0 {
		games = float64(p.TotalPoints) / p.PointsPerGame
	}
	perGame := func(v int) float64 {
		if games < 1 {
			return 0
		}
		return float64(v) / games
	}

	fixtureEase := 0.0
	if fixtures, err := repo.UpcomingFixturesForTeam(ctx, p.TeamID, gameweek, 1); err == nil && len(fixtures) > 0 {
		// A double gameweek sums the ease of both fixtures.
		for _, f := range fixtures {
			difficulty := f.TeamHDifficulty
			if f.TeamA == p.TeamID {
				difficulty = f.TeamADifficulty
			}
			fixtureEase += float64(6 - difficulty)
		}
	}

	return []float64{
		p.Form,
		p.PointsPerGame,
		perGame(p.Minutes),
		perGame(p.GoalsScored),
		perGame(p.Assists),
		p.ExpectedGIP90,
		perGame(p.CleanSheets),
		perGame(p.DefContribution),
		fixtureEase,
		p.Price(),
		p.SelectedByPercent,
	}
}

// fallbackEstimate is the form-based prediction used when a position has no
// model artifact.
func fallbackEstimate(p *models.Player) float64 {
	return (p.Form*1.5 + p.PointsPerGame*0.5) / 2
}
