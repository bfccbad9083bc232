package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

func sp(id int, pos models.Position, teamID, price int) models.SquadPlayer {
	return models.SquadPlayer{
		PlayerID:      id,
		Code:          int64(100000 + id),
		Name:          "Player" + string(rune('A'+id%26)),
		Position:      pos,
		TeamID:        teamID,
		PurchasePrice: price,
		SellingPrice:  price,
		NowCost:       price,
	}
}

// validSquad returns a legal 15: 2 GK, 5 DEF, 5 MID, 3 FWD spread across
// enough teams, total purchase cost 955.
func validSquad() []models.SquadPlayer {
	return []models.SquadPlayer{
		sp(1, models.Goalkeeper, 1, 45),
		sp(2, models.Goalkeeper, 2, 40),
		sp(3, models.Defender, 3, 50),
		sp(4, models.Defender, 4, 50),
		sp(5, models.Defender, 5, 50),
		sp(6, models.Defender, 6, 50),
		sp(7, models.Defender, 7, 50),
		sp(8, models.Midfielder, 8, 70),
		sp(9, models.Midfielder, 9, 70),
		sp(10, models.Midfielder, 10, 70),
		sp(11, models.Midfielder, 11, 70),
		sp(12, models.Midfielder, 12, 70),
		sp(13, models.Forward, 13, 90),
		sp(14, models.Forward, 14, 90),
		sp(15, models.Forward, 15, 90),
	}
}

func hasRule(violations []Violation, rule string) bool {
	for _, v := range violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidateSquadAcceptsLegalSquad(t *testing.T) {
	ok, violations := ValidateSquad(validSquad(), models.NewSquadBudget)
	assert.True(t, ok)
	assert.Empty(t, violations)
}

func TestValidateSquadRejectsBadComposition(t *testing.T) {
	// Six defenders and four midfielders. Cost stays inside budget so the
	// only breach is compositional.
	squad := []models.SquadPlayer{
		sp(1, models.Goalkeeper, 1, 45),
		sp(2, models.Goalkeeper, 2, 40),
		sp(3, models.Defender, 3, 50),
		sp(4, models.Defender, 4, 50),
		sp(5, models.Defender, 5, 50),
		sp(6, models.Defender, 6, 50),
		sp(7, models.Defender, 7, 50),
		sp(8, models.Defender, 8, 45),
		sp(9, models.Midfielder, 9, 70),
		sp(10, models.Midfielder, 10, 70),
		sp(11, models.Midfielder, 11, 70),
		sp(12, models.Midfielder, 12, 70),
		sp(13, models.Forward, 13, 90),
		sp(14, models.Forward, 14, 90),
		sp(15, models.Forward, 15, 110),
	}
	total := 0
	for _, p := range squad {
		total += p.PurchasePrice
	}
	require.Equal(t, 950, total)

	ok, violations := ValidateSquad(squad, models.NewSquadBudget)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RulePositionComposition))
	assert.False(t, hasRule(violations, RuleBudgetExceeded))
	assert.False(t, hasRule(violations, RuleSquadSize))
}

func TestValidateSquadRejectsTeamCap(t *testing.T) {
	squad := validSquad()
	// Pile four players onto team 3.
	squad[3].TeamID = 3
	squad[7].TeamID = 3
	squad[12].TeamID = 3

	ok, violations := ValidateSquad(squad, models.NewSquadBudget)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleTeamLimit))
}

func TestValidateSquadRejectsOverBudget(t *testing.T) {
	squad := validSquad()
	squad[14].PurchasePrice = 200 // 955 -> 1065

	ok, violations := ValidateSquad(squad, models.NewSquadBudget)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleBudgetExceeded))
}

func TestValidateSquadAcceptsExactBudget(t *testing.T) {
	squad := validSquad()
	squad[14].PurchasePrice += models.NewSquadBudget - 955

	ok, violations := ValidateSquad(squad, models.NewSquadBudget)
	assert.True(t, ok, "spending the full budget is legal: %v", violations)
}

func TestValidateSquadRejectsDuplicates(t *testing.T) {
	squad := validSquad()
	squad[4] = squad[3]

	ok, violations := ValidateSquad(squad, models.NewSquadBudget)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleDuplicatePlayer))
}

func TestValidateSquadRejectsWrongSize(t *testing.T) {
	ok, violations := ValidateSquad(validSquad()[:14], models.NewSquadBudget)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleSquadSize))
}

func startingEleven(def, mid, fwd int) []models.SquadPlayer {
	players := []models.SquadPlayer{sp(1, models.Goalkeeper, 1, 45)}
	id := 2
	for i := 0; i < def; i++ {
		players = append(players, sp(id, models.Defender, id, 50))
		id++
	}
	for i := 0; i < mid; i++ {
		players = append(players, sp(id, models.Midfielder, id, 70))
		id++
	}
	for i := 0; i < fwd; i++ {
		players = append(players, sp(id, models.Forward, id, 90))
		id++
	}
	return players
}

func TestValidateStartingElevenAcceptsEveryLegalFormation(t *testing.T) {
	for _, f := range models.ValidFormations {
		ok, violations := ValidateStartingEleven(startingEleven(f.Defenders, f.Midfielders, f.Forwards), nil)
		assert.True(t, ok, "formation %s should be legal: %v", f, violations)
	}
}

func TestValidateStartingElevenRejectsIllegalShape(t *testing.T) {
	// 2-4-4 is eleven players but not a legal formation.
	ok, violations := ValidateStartingEleven(startingEleven(2, 4, 4), nil)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleInvalidFormation))
}

func TestValidateStartingElevenRejectsTwoKeepers(t *testing.T) {
	players := startingEleven(4, 4, 2)
	players = append(players, sp(99, models.Goalkeeper, 20, 40))

	ok, violations := ValidateStartingEleven(players, nil)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleGoalkeeperCount))
}

func TestValidateStartingElevenEnforcesRequestedFormation(t *testing.T) {
	required := models.Formation{Defenders: 3, Midfielders: 5, Forwards: 2}
	ok, violations := ValidateStartingEleven(startingEleven(4, 4, 2), &required)
	assert.False(t, ok)
	assert.True(t, hasRule(violations, RuleFormationMismatch))

	ok, _ = ValidateStartingEleven(startingEleven(3, 5, 2), &required)
	assert.True(t, ok)
}

func TestValidateTransfer(t *testing.T) {
	squad := &models.Squad{Players: validSquad(), Bank: 5}
	out := squad.Players[3] // DEF, selling 50
	available := out.SellingPrice + squad.Bank

	t.Run("legal swap", func(t *testing.T) {
		in := sp(50, models.Defender, 16, 55)
		ok, violations := ValidateTransfer(out, in, squad, available)
		assert.True(t, ok, "%v", violations)
	})

	t.Run("too expensive", func(t *testing.T) {
		in := sp(50, models.Defender, 16, 56)
		ok, violations := ValidateTransfer(out, in, squad, available)
		assert.False(t, ok)
		assert.True(t, hasRule(violations, RuleBudgetExceeded))
	})

	t.Run("position mismatch", func(t *testing.T) {
		in := sp(50, models.Forward, 16, 50)
		ok, violations := ValidateTransfer(out, in, squad, available)
		assert.False(t, ok)
		assert.True(t, hasRule(violations, RulePositionMismatch))
	})

	t.Run("already owned", func(t *testing.T) {
		ok, violations := ValidateTransfer(out, squad.Players[4], squad, available)
		assert.False(t, ok)
		assert.True(t, hasRule(violations, RuleInAlreadyInSquad))
	})

	t.Run("out not in squad", func(t *testing.T) {
		stranger := sp(77, models.Defender, 17, 50)
		in := sp(50, models.Defender, 16, 50)
		ok, violations := ValidateTransfer(stranger, in, squad, available)
		assert.False(t, ok)
		assert.True(t, hasRule(violations, RuleOutNotInSquad))
	})

	t.Run("team cap counts the incoming side", func(t *testing.T) {
		// Squad already has players from teams 3,4,5; move two more onto
		// team 16 then bring in a third.
		capped := &models.Squad{Players: validSquad(), Bank: 5}
		capped.Players[4].TeamID = 16
		capped.Players[8].TeamID = 16
		capped.Players[9].TeamID = 16
		in := sp(50, models.Defender, 16, 50)
		ok, violations := ValidateTransfer(capped.Players[3], in, capped, available)
		assert.False(t, ok)
		assert.True(t, hasRule(violations, RuleTeamLimit))
	})

	t.Run("swap within team cap replacing same team", func(t *testing.T) {
		capped := &models.Squad{Players: validSquad(), Bank: 5}
		capped.Players[3].TeamID = 16
		capped.Players[4].TeamID = 16
		capped.Players[8].TeamID = 16
		// Selling one of the three and buying another from team 16 keeps
		// the count at three.
		in := sp(50, models.Defender, 16, 50)
		ok, violations := ValidateTransfer(capped.Players[3], in, capped, available)
		assert.True(t, ok, "%v", violations)
	})
}

func TestScoreDefenderWithDefensiveContribution(t *testing.T) {
	stats := GameweekStats{
		Minutes:       90,
		CleanSheets:   1,
		GoalsConceded: 1,
		CBI:           8,
		Tackles:       4,
	}
	// 2 appearance + 4 clean sheet + 0 conceded (1/2 floors to 0)
	// + 2 defensive contribution ((8+4)/5).
	assert.Equal(t, 8, Score(models.Defender, stats))
}

func TestScoreAppearanceBoundary(t *testing.T) {
	assert.Equal(t, 0, Score(models.Forward, GameweekStats{Minutes: 0}))
	assert.Equal(t, 1, Score(models.Forward, GameweekStats{Minutes: 1}))
	assert.Equal(t, 1, Score(models.Forward, GameweekStats{Minutes: 59}))
	assert.Equal(t, 2, Score(models.Forward, GameweekStats{Minutes: 60}))
	assert.Equal(t, 2, Score(models.Forward, GameweekStats{Minutes: 90}))
}

func TestScoreGoalsByPosition(t *testing.T) {
	stats := GameweekStats{Minutes: 90, GoalsScored: 2}
	assert.Equal(t, 2+12, Score(models.Goalkeeper, stats))
	assert.Equal(t, 2+12, Score(models.Defender, stats))
	assert.Equal(t, 2+10, Score(models.Midfielder, stats))
	assert.Equal(t, 2+8, Score(models.Forward, stats))
}

func TestScoreCleanSheetByPosition(t *testing.T) {
	stats := GameweekStats{Minutes: 90, CleanSheets: 1}
	assert.Equal(t, 6, Score(models.Goalkeeper, stats))
	assert.Equal(t, 6, Score(models.Defender, stats))
	assert.Equal(t, 3, Score(models.Midfielder, stats))
	assert.Equal(t, 2, Score(models.Forward, stats))
}

func TestScoreGoalkeeperSavesAndConceded(t *testing.T) {
	stats := GameweekStats{Minutes: 90, Saves: 7, GoalsConceded: 4}
	// 2 appearance + 2 for saves (7/3) - 2 conceded (4/2).
	assert.Equal(t, 2, Score(models.Goalkeeper, stats))

	// Midfielders and forwards are never docked for conceding and never
	// paid for saves.
	assert.Equal(t, 2, Score(models.Midfielder, GameweekStats{Minutes: 90, Saves: 7, GoalsConceded: 4}))
}

func TestScorePenaltiesAndCards(t *testing.T) {
	assert.Equal(t, 2+5, Score(models.Goalkeeper, GameweekStats{Minutes: 90, PenaltiesSaved: 1}))
	assert.Equal(t, 2-2, Score(models.Forward, GameweekStats{Minutes: 90, PenaltiesMissed: 1}))
	assert.Equal(t, 2-1, Score(models.Midfielder, GameweekStats{Minutes: 90, YellowCards: 1}))
	assert.Equal(t, 1-3, Score(models.Midfielder, GameweekStats{Minutes: 30, RedCards: 1}))
	assert.Equal(t, 2-2, Score(models.Defender, GameweekStats{Minutes: 90, OwnGoals: 1}))
}

func TestScoreMidfielderDefensiveContribution(t *testing.T) {
	stats := GameweekStats{Minutes: 90, CBI: 5, Tackles: 4, Recoveries: 3}
	// (5+4+3)/6 = 2 bonus points on top of appearance.
	assert.Equal(t, 4, Score(models.Midfielder, stats))

	// One fewer recovery drops below the divisor boundary.
	stats.Recoveries = 2
	assert.Equal(t, 3, Score(models.Midfielder, stats))
}

func TestDefensiveContributionByPosition(t *testing.T) {
	stats := GameweekStats{CBI: 10, Tackles: 5, Recoveries: 9}
	assert.Equal(t, 0, DefensiveContribution(models.Goalkeeper, stats))
	assert.Equal(t, 3, DefensiveContribution(models.Defender, stats))   // 15/5
	assert.Equal(t, 4, DefensiveContribution(models.Midfielder, stats)) // 24/6
	assert.Equal(t, 0, DefensiveContribution(models.Forward, stats))
}

func TestDefensiveContributionNeverDecreasesWithMoreActions(t *testing.T) {
	prev := 0
	for cbi := 0; cbi <= 20; cbi++ {
		got := DefensiveContribution(models.Defender, GameweekStats{CBI: cbi, Tackles: 3})
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}
