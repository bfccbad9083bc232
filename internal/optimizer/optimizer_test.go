package optimizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/rules"
)

// matrixOf builds a horizon matrix from per-player per-gameweek points.
func matrixOf(start int, points map[int][]float64) *Matrix {
	horizon := 1
	for _, col := range points {
		if len(col) > horizon {
			horizon = len(col)
		}
	}
	m := &Matrix{Start: start, Horizon: horizon, points: make(map[int][]float64, len(points))}
	for id, col := range points {
		full := make([]float64, horizon)
		copy(full, col)
		m.points[id] = full
	}
	return m
}

func flatMatrix(start, horizon int, perGW map[int]float64) *Matrix {
	points := make(map[int][]float64, len(perGW))
	for id, xp := range perGW {
		col := make([]float64, horizon)
		for i := range col {
			col[i] = xp
		}
		points[id] = col
	}
	return matrixOf(start, points)
}

func squadPlayer(id int, pos models.Position, teamID, price int, name string) models.SquadPlayer {
	return models.SquadPlayer{
		PlayerID:      id,
		Code:          int64(1000 + id),
		Name:          name,
		Position:      pos,
		TeamID:        teamID,
		PurchasePrice: price,
		SellingPrice:  price,
		NowCost:       price,
	}
}

// fullSquad builds a compliant 15 with ids 1-15 spread across teams 1-15.
func fullSquad(bank, freeTransfers int) *models.Squad {
	squad := &models.Squad{Bank: bank, FreeTransfers: freeTransfers}
	id := 0
	add := func(pos models.Position, count int, price int) {
		for i := 0; i < count; i++ {
			id++
			squad.Players = append(squad.Players, squadPlayer(id, pos, id, price, ""))
		}
	}
	add(models.Goalkeeper, 2, 45)
	add(models.Defender, 5, 50)
	add(models.Midfielder, 5, 70)
	add(models.Forward, 3, 75)
	return squad
}

func poolPlayer(id int, elementType, teamID, cost int, name string) models.Player {
	return models.Player{
		ID:          id,
		Code:        int64(2000 + id),
		WebName:     name,
		ElementType: elementType,
		TeamID:      teamID,
		NowCost:     cost,
		Status:      models.StatusAvailable,
	}
}

func TestMatrixAccessors(t *testing.T) {
	m := matrixOf(10, map[int][]float64{7: {4.0, 2.0, 6.0}})
	assert.Equal(t, 4.0, m.At(7, 0))
	assert.Equal(t, 0.0, m.At(7, 5), "out-of-horizon reads as zero")
	assert.Equal(t, 0.0, m.At(99, 0), "unknown player reads as zero")
	assert.Equal(t, 12.0, m.Total(7))
	assert.InDelta(t, 4.0, m.Avg(7), 1e-9)
	assert.InDelta(t, 4.0+2.0*0.85+6.0*0.85*0.85, m.Decayed(7, 0.85), 1e-9)
}

func TestChooseLineupPicksBestFormation(t *testing.T) {
	squad := fullSquad(0, 1)

	// Ids: 1-2 GK, 3-7 DEF, 8-12 MID, 13-15 FWD. Points shaped so the best
	// eleven is 1 GK, 3 DEF, 5 MID, 2 FWD.
	xp := map[int]float64{
		1: 4.0, 2: 3.0,
		3: 5.0, 4: 4.5, 5: 4.0, 6: 1.0, 7: 0.5,
		8: 9.0, 9: 7.0, 10: 6.5, 11: 6.0, 12: 5.5,
		13: 8.0, 14: 6.0, 15: 1.0,
	}

	lineup, err := ChooseLineup(squad, xp)
	require.NoError(t, err)

	assert.Equal(t, models.Formation{Defenders: 3, Midfielders: 5, Forwards: 2}, lineup.Formation)
	assert.Equal(t, 8, lineup.CaptainID, "captain is the top scorer in the eleven")
	assert.Equal(t, 13, lineup.ViceID)
	assert.NotEqual(t, lineup.CaptainID, lineup.ViceID)
	assert.Len(t, lineup.Starting, models.StartingSize)
	assert.Len(t, lineup.Bench, models.SquadSize-models.StartingSize)

	// Bench ordered by descending expected points.
	for i := 1; i < len(lineup.Bench); i++ {
		assert.GreaterOrEqual(t, xp[lineup.Bench[i-1].PlayerID], xp[lineup.Bench[i].PlayerID])
	}

	ok, violations := rules.ValidateStartingEleven(lineup.Starting, &lineup.Formation)
	assert.True(t, ok, "violations: %v", violations)
}

func TestChooseLineupCaptainTieBreaksLowerID(t *testing.T) {
	squad := fullSquad(0, 1)
	xp := map[int]float64{}
	for _, p := range squad.Players {
		xp[p.PlayerID] = 5.0
	}
	lineup, err := ChooseLineup(squad, xp)
	require.NoError(t, err)
	assert.Equal(t, 1, lineup.CaptainID)
	// Player 2 is the bench keeper: the armband and vice only come from
	// the starting eleven, so the tie falls to the lowest-id outfielder.
	assert.Equal(t, 3, lineup.ViceID)
	for _, benched := range lineup.Bench {
		assert.NotEqual(t, benched.PlayerID, lineup.CaptainID)
		assert.NotEqual(t, benched.PlayerID, lineup.ViceID)
	}
}

func TestOptimizeTransfersRollsUnderThreshold(t *testing.T) {
	squad := fullSquad(10, 1)
	// Holder 15 (FWD) scores 1/gw; the upgrade gains +1.25/gw: under the bar.
	perGW := map[int]float64{13: 5.0, 14: 5.0, 15: 1.0, 100: 2.25}
	pool := []models.Player{poolPlayer(100, 4, 16, 80, "Upgrade")}

	plan := OptimizeTransfers(squad, pool, flatMatrix(5, DefaultHorizon, perGW), nil)

	assert.Equal(t, ActionRoll, plan.Action)
	require.NotNil(t, plan.Best)
	assert.InDelta(t, 5.0, plan.Best.TotalGain, 1e-9)
	assert.Contains(t, plan.Rationale, "2.0")
}

func TestOptimizeTransfersMakesOnFreeTransfer(t *testing.T) {
	squad := fullSquad(10, 1)
	perGW := map[int]float64{13: 5.0, 14: 5.0, 15: 1.0, 100: 4.0}
	pool := []models.Player{poolPlayer(100, 4, 16, 80, "Upgrade")}

	plan := OptimizeTransfers(squad, pool, flatMatrix(5, DefaultHorizon, perGW), nil)

	assert.Equal(t, ActionMake, plan.Action)
	assert.Zero(t, plan.HitCost)
	require.NotNil(t, plan.Best)
	assert.Equal(t, 100, plan.Best.InID)
	assert.Equal(t, 15, plan.Best.Out.PlayerID)
}

func TestOptimizeTransfersHitWorthIt(t *testing.T) {
	squad := fullSquad(10, 0)
	// +4.5/gw with no free transfer: worth the -4.
	perGW := map[int]float64{13: 8.0, 14: 8.0, 15: 1.0, 100: 5.5}
	pool := []models.Player{poolPlayer(100, 4, 16, 80, "Upgrade")}

	plan := OptimizeTransfers(squad, pool, flatMatrix(5, DefaultHorizon, perGW), nil)

	assert.Equal(t, ActionMake, plan.Action)
	assert.Equal(t, models.HitCost, plan.HitCost)
	assert.Contains(t, plan.Rationale, "4.0")
}

func TestOptimizeTransfersNoFreeNoWorthwhileHitRolls(t *testing.T) {
	squad := fullSquad(10, 0)
	perGW := map[int]float64{13: 6.0, 14: 6.0, 15: 1.0, 100: 4.0} // +3/gw: good free, bad hit
	pool := []models.Player{poolPlayer(100, 4, 16, 80, "Upgrade")}

	plan := OptimizeTransfers(squad, pool, flatMatrix(5, DefaultHorizon, perGW), nil)
	assert.Equal(t, ActionRoll, plan.Action)
}

func TestOptimizeTransfersChipSupersedes(t *testing.T) {
	squad := fullSquad(10, 1)
	perGW := map[int]float64{13: 5.0, 14: 5.0, 15: 1.0, 100: 2.25} // best gain +5 total
	pool := []models.Player{poolPlayer(100, 4, 16, 80, "Upgrade")}
	chip := &ChipAdvice{Chip: models.ChipWildcard, Gameweek: 5, ExpectedValue: 25.0, Reason: "rebuild"}

	plan := OptimizeTransfers(squad, pool, flatMatrix(5, DefaultHorizon, perGW), chip)

	assert.Equal(t, ActionUseChip, plan.Action)
	require.NotNil(t, plan.Chip)
	assert.Equal(t, models.ChipWildcard, plan.Chip.Chip)
	assert.Contains(t, strings.ToLower(plan.Rationale), "wildcard")
}

func TestOptimizeTransfersRespectsFundsAndTeamCap(t *testing.T) {
	squad := fullSquad(0, 1)
	// Make three holders share team 1 so its cap is exhausted.
	squad.Players[0].TeamID = 1
	squad.Players[1].TeamID = 1
	squad.Players[2].TeamID = 1

	perGW := map[int]float64{
		13:  5.0,
		14:  5.0,
		15:  1.0,
		100: 9.0, // unaffordable: costs more than sell + bank + slack
		101: 8.0, // team 1 is full
		102: 7.0, // fits
	}
	pool := []models.Player{
		poolPlayer(100, 4, 16, 200, "Pricey"),
		poolPlayer(101, 4, 1, 76, "Capped"),
		poolPlayer(102, 4, 17, 76, "Fits"),
	}

	plan := OptimizeTransfers(squad, pool, flatMatrix(5, DefaultHorizon, perGW), nil)
	require.NotNil(t, plan.Best)
	assert.Equal(t, 102, plan.Best.InID)
}

// Candidate pools for squad builds: enough players per position at spread
// prices across distinct teams.
func buildPool() []models.Player {
	var pool []models.Player
	id := 0
	team := 0
	add := func(elementType, count, cost int) {
		for i := 0; i < count; i++ {
			id++
			team = (team % 20) + 1
			pool = append(pool, poolPlayer(id, elementType, team, cost, ""))
		}
	}
	add(1, 4, 45)  // GK
	add(2, 8, 45)  // DEF
	add(2, 4, 60)  // pricier DEF
	add(3, 8, 60)  // MID
	add(3, 4, 100) // premium MID
	add(4, 6, 60)  // FWD
	add(4, 2, 110) // premium FWD
	return pool
}

func TestBuildFreeHitSquadSatisfiesConstraints(t *testing.T) {
	pool := buildPool()
	perGW := make(map[int]float64, len(pool))
	for _, p := range pool {
		perGW[p.ID] = float64(p.NowCost) / 12.0
	}

	squad, err := BuildFreeHitSquad(pool, flatMatrix(5, 1, perGW))
	require.NoError(t, err)

	ok, violations := rules.ValidateSquad(squad.Players, models.NewSquadBudget)
	assert.True(t, ok, "violations: %v", violations)
	assert.GreaterOrEqual(t, squad.Bank, 0)
}

func TestBuildFreeHitSquadAllZeroPredictionsStillValid(t *testing.T) {
	pool := buildPool()
	squad, err := BuildFreeHitSquad(pool, flatMatrix(5, 1, nil))
	require.NoError(t, err)

	ok, violations := rules.ValidateSquad(squad.Players, models.NewSquadBudget)
	assert.True(t, ok, "violations: %v", violations)
}

func TestBuildWildcardSquadUsesSellingValuePlusBank(t *testing.T) {
	current := fullSquad(25, 1)
	budget := current.SellingValue() + current.Bank

	pool := buildPool()
	perGW := make(map[int]float64, len(pool))
	for _, p := range pool {
		perGW[p.ID] = float64(p.NowCost) / 10.0
	}

	squad, err := BuildWildcardSquad(current, pool, flatMatrix(5, DefaultHorizon, perGW))
	require.NoError(t, err)

	ok, violations := rules.ValidateSquad(squad.Players, budget)
	assert.True(t, ok, "violations: %v", violations)

	spent := 0
	for _, p := range squad.Players {
		spent += p.PurchasePrice
	}
	assert.LessOrEqual(t, spent, budget)
	assert.Equal(t, budget-spent, squad.Bank)
}
