package rules

import (
	"fmt"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// Violation is a machine-readable rule breach plus a human message.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Rule tags carried on violations.
const (
	RuleSquadSize           = "squad_size"
	RulePositionComposition = "position_composition"
	RuleTeamLimit           = "team_limit"
	RuleBudgetExceeded      = "budget_exceeded"
	RuleDuplicatePlayer     = "duplicate_player"
	RuleLineupSize          = "lineup_size"
	RuleGoalkeeperCount     = "goalkeeper_count"
	RuleInvalidFormation    = "invalid_formation"
	RuleFormationMismatch   = "formation_mismatch"
	RuleOutNotInSquad       = "transfer_out_not_in_squad"
	RuleInAlreadyInSquad    = "transfer_in_already_in_squad"
	RulePositionMismatch    = "transfer_position_mismatch"
)

// Scoring constants. These belong to the game's ruleset and are not
// configurable.
const (
	appearanceShort = 1 // 1-59 minutes
	appearanceFull  = 2 // 60+ minutes

	assistPoints = 3

	penaltySavePoints = 5
	penaltyMissPoints = -2
	yellowCardPoints  = -1
	redCardPoints     = -3
	ownGoalPoints     = -2

	savesPerPoint         = 3
	concededPerDeduction  = 2
	defenderDCDivisor     = 5 // clearances+blocks+interceptions+tackles
	midfielderDCDivisor   = 6 // CBIT plus recoveries
	fullAppearanceMinutes = 60
)

var goalPoints = map[models.Position]int{
	models.Goalkeeper: 6,
	models.Defender:   6,
	models.Midfielder: 5,
	models.Forward:    4,
}

var cleanSheetPoints = map[models.Position]int{
	models.Goalkeeper: 4,
	models.Defender:   4,
	models.Midfielder: 1,
	models.Forward:    0,
}

// GameweekStats are the raw counters Score consumes. CBI is the combined
// clearances+blocks+interceptions counter as published upstream.
type GameweekStats struct {
	Minutes         int `json:"minutes"`
	GoalsScored     int `json:"goals_scored"`
	Assists         int `json:"assists"`
	CleanSheets     int `json:"clean_sheets"`
	GoalsConceded   int `json:"goals_conceded"`
	OwnGoals        int `json:"own_goals"`
	PenaltiesSaved  int `json:"penalties_saved"`
	PenaltiesMissed int `json:"penalties_missed"`
	YellowCards     int `json:"yellow_cards"`
	RedCards        int `json:"red_cards"`
	Saves           int `json:"saves"`
	CBI             int `json:"clearances_blocks_interceptions"`
	Tackles         int `json:"tackles"`
	Recoveries      int `json:"recoveries"`
}

// Score computes the fantasy points a player of the given position earns for
// one gameweek's stats.
func Score(position models.Position, stats GameweekStats) int {
	if !position.Valid() {
		panic(fmt.Sprintf("rules: unknown position %d", position))
	}

	points := 0

	// Appearance
	if stats.Minutes > 0 {
		if stats.Minutes >= fullAppearanceMinutes {
			points += appearanceFull
		} else {
			points += appearanceShort
		}
	}

	points += stats.GoalsScored * goalPoints[position]
	points += stats.Assists * assistPoints
	points += stats.CleanSheets * cleanSheetPoints[position]

	if position == models.Goalkeeper || position == models.Defender {
		points -= stats.GoalsConceded / concededPerDeduction
	}

	if position == models.Goalkeeper {
		points += stats.Saves / savesPerPoint
	}

	points += stats.PenaltiesSaved * penaltySavePoints
	points += stats.PenaltiesMissed * penaltyMissPoints
	points += stats.YellowCards * yellowCardPoints
	points += stats.RedCards * redCardPoints
	points += stats.OwnGoals * ownGoalPoints

	points += DefensiveContribution(position, stats)

	return points
}

// DefensiveContribution is the bulk-defensive-action bonus: defenders earn a
// point per five CBIT actions, midfielders per six CBIRT actions, nothing
// for goalkeepers and forwards.
func DefensiveContribution(position models.Position, stats GameweekStats) int {
	switch position {
	case models.Defender:
		return (stats.CBI + stats.Tackles) / defenderDCDivisor
	case models.Midfielder:
		return (stats.CBI + stats.Tackles + stats.Recoveries) / midfielderDCDivisor
	default:
		return 0
	}
}

// ValidateSquad checks a full 15-player squad against composition, team cap,
// budget and duplicate constraints. Budget is in tenths and compared against
// the sum of purchase prices.
func ValidateSquad(players []models.SquadPlayer, budget int) (bool, []Violation) {
	var violations []Violation

	if len(players) != models.SquadSize {
		violations = append(violations, Violation{
			Rule:    RuleSquadSize,
			Message: fmt.Sprintf("squad has %d players, need %d", len(players), models.SquadSize),
		})
	}

	seen := make(map[int]bool, len(players))
	positionCounts := make(map[models.Position]int, 4)
	teamCounts := make(map[int]int)
	totalCost := 0

	for _, p := range players {
		if seen[p.PlayerID] {
			violations = append(violations, Violation{
				Rule:    RuleDuplicatePlayer,
				Message: fmt.Sprintf("player %d (%s) appears more than once", p.PlayerID, p.Name),
			})
		}
		seen[p.PlayerID] = true
		positionCounts[p.Position]++
		teamCounts[p.TeamID]++
		totalCost += p.PurchasePrice
	}

	for _, pos := range models.AllPositions {
		if positionCounts[pos] != models.SquadComposition[pos] {
			violations = append(violations, Violation{
				Rule: RulePositionComposition,
				Message: fmt.Sprintf("%s count is %d, need %d",
					pos, positionCounts[pos], models.SquadComposition[pos]),
			})
		}
	}

	for teamID, count := range teamCounts {
		if count > models.MaxPerTeam {
			violations = append(violations, Violation{
				Rule:    RuleTeamLimit,
				Message: fmt.Sprintf("team %d has %d players, cap is %d", teamID, count, models.MaxPerTeam),
			})
		}
	}

	if totalCost > budget {
		violations = append(violations, Violation{
			Rule:    RuleBudgetExceeded,
			Message: fmt.Sprintf("squad costs %d, budget is %d", totalCost, budget),
		})
	}

	return len(violations) == 0, violations
}

// ValidateStartingEleven checks a picked eleven: size, single goalkeeper and
// membership of the legal formation set. When a specific formation is given
// the eleven must match it exactly.
func ValidateStartingEleven(players []models.SquadPlayer, formation *models.Formation) (bool, []Violation) {
	var violations []Violation

	if len(players) != models.StartingSize {
		violations = append(violations, Violation{
			Rule:    RuleLineupSize,
			Message: fmt.Sprintf("starting eleven has %d players", len(players)),
		})
	}

	counts := make(map[models.Position]int, 4)
	for _, p := range players {
		counts[p.Position]++
	}

	if counts[models.Goalkeeper] != 1 {
		violations = append(violations, Violation{
			Rule:    RuleGoalkeeperCount,
			Message: fmt.Sprintf("%d goalkeepers on the field", counts[models.Goalkeeper]),
		})
	}

	actual := models.Formation{
		Defenders:   counts[models.Defender],
		Midfielders: counts[models.Midfielder],
		Forwards:    counts[models.Forward],
	}
	if !actual.Valid() {
		violations = append(violations, Violation{
			Rule:    RuleInvalidFormation,
			Message: fmt.Sprintf("formation %s is not legal", actual),
		})
	}

	if formation != nil && actual != *formation {
		violations = append(violations, Violation{
			Rule:    RuleFormationMismatch,
			Message: fmt.Sprintf("eleven forms %s, required %s", actual, formation),
		})
	}

	return len(violations) == 0, violations
}

// ValidateTransfer checks a single swap against the current squad.
// budgetAvailable is the spendable total for the incoming player, normally
// the outgoing selling price plus bank.
func ValidateTransfer(out, in models.SquadPlayer, squad *models.Squad, budgetAvailable int) (bool, []Violation) {
	var violations []Violation

	if !squad.Contains(out.PlayerID) {
		violations = append(violations, Violation{
			Rule:    RuleOutNotInSquad,
			Message: fmt.Sprintf("player %d (%s) is not in the squad", out.PlayerID, out.Name),
		})
	}

	if squad.Contains(in.PlayerID) {
		violations = append(violations, Violation{
			Rule:    RuleInAlreadyInSquad,
			Message: fmt.Sprintf("player %d (%s) is already owned", in.PlayerID, in.Name),
		})
	}

	if out.Position != in.Position {
		violations = append(violations, Violation{
			Rule:    RulePositionMismatch,
			Message: fmt.Sprintf("%s out for %s in", out.Position, in.Position),
		})
	}

	if in.NowCost > budgetAvailable {
		violations = append(violations, Violation{
			Rule:    RuleBudgetExceeded,
			Message: fmt.Sprintf("incoming costs %d, available %d", in.NowCost, budgetAvailable),
		})
	}

	teamCount := 0
	for _, p := range squad.Players {
		if p.PlayerID == out.PlayerID {
			continue
		}
		if p.TeamID == in.TeamID {
			teamCount++
		}
	}
	if teamCount+1 > models.MaxPerTeam {
		violations = append(violations, Violation{
			Rule:    RuleTeamLimit,
			Message: fmt.Sprintf("team %d would have %d players", in.TeamID, teamCount+1),
		})
	}

	return len(violations) == 0, violations
}
