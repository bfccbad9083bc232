package providers

import (
	"strconv"
	"time"
)

// The FPL API serialises several numeric stats as strings ("4.5", "12.3").
// ParseStat converts them, treating empty and malformed values as zero.
func ParseStat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Bootstrap is the bootstrap-static envelope: the season's gameweeks, teams
// and full player list in one response.
type Bootstrap struct {
	Events       []GameweekDTO `json:"events"`
	Teams        []TeamDTO     `json:"teams"`
	Elements     []ElementDTO  `json:"elements"`
	TotalPlayers int           `json:"total_players"`
}

// CurrentGameweek returns the gameweek flagged is_current, or 0 pre-season.
func (b *Bootstrap) CurrentGameweek() int {
	for _, gw := range b.Events {
		if gw.IsCurrent {
			return gw.ID
		}
	}
	return 0
}

// NextGameweek returns the gameweek flagged is_next, or 0 at season end.
func (b *Bootstrap) NextGameweek() *GameweekDTO {
	for i := range b.Events {
		if b.Events[i].IsNext {
			return &b.Events[i]
		}
	}
	return nil
}

type GameweekDTO struct {
	ID                int       `json:"id"`
	Name              string    `json:"name"`
	DeadlineTime      time.Time `json:"deadline_time"`
	Finished          bool      `json:"finished"`
	DataChecked       bool      `json:"data_checked"`
	IsPrevious        bool      `json:"is_previous"`
	IsCurrent         bool      `json:"is_current"`
	IsNext            bool      `json:"is_next"`
	AverageEntryScore int       `json:"average_entry_score"`
	HighestScore      *int      `json:"highest_score"`
}

type TeamDTO struct {
	ID                  int    `json:"id"`
	Code                int    `json:"code"`
	Name                string `json:"name"`
	ShortName           string `json:"short_name"`
	StrengthOverallHome int    `json:"strength_overall_home"`
	StrengthOverallAway int    `json:"strength_overall_away"`
	StrengthAttackHome  int    `json:"strength_attack_home"`
	StrengthAttackAway  int    `json:"strength_attack_away"`
	StrengthDefenceHome int    `json:"strength_defence_home"`
	StrengthDefenceAway int    `json:"strength_defence_away"`
}

// ElementDTO is one player row from bootstrap-static. Cost fields are in
// tenths of a million; several stats arrive as strings.
type ElementDTO struct {
	ID                       int        `json:"id"`
	Code                     int64      `json:"code"`
	WebName                  string     `json:"web_name"`
	FirstName                string     `json:"first_name"`
	SecondName               string     `json:"second_name"`
	ElementType              int        `json:"element_type"`
	Team                     int        `json:"team"`
	NowCost                  int        `json:"now_cost"`
	TotalPoints              int        `json:"total_points"`
	EventPoints              int        `json:"event_points"`
	Minutes                  int        `json:"minutes"`
	Status                   string     `json:"status"`
	ChanceOfPlayingNextRound *int       `json:"chance_of_playing_next_round"`
	News                     string     `json:"news"`
	NewsAdded                *time.Time `json:"news_added"`
	SelectedByPercent        string     `json:"selected_by_percent"`
	Form                     string     `json:"form"`
	PointsPerGame            string     `json:"points_per_game"`
	GoalsScored              int        `json:"goals_scored"`
	Assists                  int        `json:"assists"`
	CleanSheets              int        `json:"clean_sheets"`
	GoalsConceded            int        `json:"goals_conceded"`
	OwnGoals                 int        `json:"own_goals"`
	PenaltiesSaved           int        `json:"penalties_saved"`
	PenaltiesMissed          int        `json:"penalties_missed"`
	YellowCards              int        `json:"yellow_cards"`
	RedCards                 int        `json:"red_cards"`
	Saves                    int        `json:"saves"`
	Bonus                    int        `json:"bonus"`
	BPS                      int        `json:"bps"`
	TransfersIn              int        `json:"transfers_in"`
	TransfersOut             int        `json:"transfers_out"`
	TransfersInEvent         int        `json:"transfers_in_event"`
	TransfersOutEvent        int        `json:"transfers_out_event"`
	CostChangeEvent          int        `json:"cost_change_event"`
	CostChangeStart          int        `json:"cost_change_start"`
	ExpectedGoals            string     `json:"expected_goals"`
	ExpectedAssists          string     `json:"expected_assists"`
	ExpectedGoalInvolvements string     `json:"expected_goal_involvements"`
	ExpectedGoalsPer90       float64    `json:"expected_goals_per_90"`
	ExpectedAssistsPer90     float64    `json:"expected_assists_per_90"`
	ExpectedGIPer90          float64    `json:"expected_goal_involvements_per_90"`
	CBI                      int        `json:"clearances_blocks_interceptions"`
	Tackles                  int        `json:"tackles"`
	Recoveries               int        `json:"recoveries"`
	DefensiveContribution    int        `json:"defensive_contribution"`
}

func (e *ElementDTO) FormValue() float64          { return ParseStat(e.Form) }
func (e *ElementDTO) PointsPerGameValue() float64 { return ParseStat(e.PointsPerGame) }
func (e *ElementDTO) OwnershipValue() float64     { return ParseStat(e.SelectedByPercent) }
func (e *ElementDTO) XGValue() float64            { return ParseStat(e.ExpectedGoals) }
func (e *ElementDTO) XAValue() float64            { return ParseStat(e.ExpectedAssists) }
func (e *ElementDTO) XGIValue() float64           { return ParseStat(e.ExpectedGoalInvolvements) }

type FixtureDTO struct {
	ID              int        `json:"id"`
	Event           *int       `json:"event"`
	TeamH           int        `json:"team_h"`
	TeamA           int        `json:"team_a"`
	TeamHDifficulty int        `json:"team_h_difficulty"`
	TeamADifficulty int        `json:"team_a_difficulty"`
	TeamHScore      *int       `json:"team_h_score"`
	TeamAScore      *int       `json:"team_a_score"`
	Finished        bool       `json:"finished"`
	Started         bool       `json:"started"`
	KickoffTime     *time.Time `json:"kickoff_time"`
}

// PlayerSummary is the element-summary response: upcoming fixtures, this
// season's per-gameweek rows and past-season totals.
type PlayerSummary struct {
	Fixtures    []UpcomingFixtureDTO `json:"fixtures"`
	History     []PlayerHistoryDTO   `json:"history"`
	HistoryPast []PastSeasonDTO      `json:"history_past"`
}

type UpcomingFixtureDTO struct {
	ID          int        `json:"id"`
	Event       int        `json:"event"`
	TeamH       int        `json:"team_h"`
	TeamA       int        `json:"team_a"`
	IsHome      bool       `json:"is_home"`
	Difficulty  int        `json:"difficulty"`
	KickoffTime *time.Time `json:"kickoff_time"`
}

type PlayerHistoryDTO struct {
	Element                  int    `json:"element"`
	Fixture                  int    `json:"fixture"`
	Round                    int    `json:"round"`
	OpponentTeam             int    `json:"opponent_team"`
	WasHome                  bool   `json:"was_home"`
	TotalPoints              int    `json:"total_points"`
	Minutes                  int    `json:"minutes"`
	GoalsScored              int    `json:"goals_scored"`
	Assists                  int    `json:"assists"`
	CleanSheets              int    `json:"clean_sheets"`
	GoalsConceded            int    `json:"goals_conceded"`
	OwnGoals                 int    `json:"own_goals"`
	PenaltiesSaved           int    `json:"penalties_saved"`
	PenaltiesMissed          int    `json:"penalties_missed"`
	YellowCards              int    `json:"yellow_cards"`
	RedCards                 int    `json:"red_cards"`
	Saves                    int    `json:"saves"`
	Bonus                    int    `json:"bonus"`
	BPS                      int    `json:"bps"`
	Value                    int    `json:"value"`
	ExpectedGoals            string `json:"expected_goals"`
	ExpectedAssists          string `json:"expected_assists"`
	ExpectedGoalInvolvements string `json:"expected_goal_involvements"`
	CBI                      int    `json:"clearances_blocks_interceptions"`
	Tackles                  int    `json:"tackles"`
	Recoveries               int    `json:"recoveries"`
}

type PastSeasonDTO struct {
	SeasonName  string `json:"season_name"`
	ElementCode int64  `json:"element_code"`
	StartCost   int    `json:"start_cost"`
	EndCost     int    `json:"end_cost"`
	TotalPoints int    `json:"total_points"`
	Minutes     int    `json:"minutes"`
	GoalsScored int    `json:"goals_scored"`
	Assists     int    `json:"assists"`
	CleanSheets int    `json:"clean_sheets"`
}

// LiveData is the in-gameweek scoring feed.
type LiveData struct {
	Elements []LiveElementDTO `json:"elements"`
}

type LiveElementDTO struct {
	ID    int          `json:"id"`
	Stats LiveStatsDTO `json:"stats"`
}

type LiveStatsDTO struct {
	Minutes               int  `json:"minutes"`
	GoalsScored           int  `json:"goals_scored"`
	Assists               int  `json:"assists"`
	CleanSheets           int  `json:"clean_sheets"`
	GoalsConceded         int  `json:"goals_conceded"`
	OwnGoals              int  `json:"own_goals"`
	PenaltiesSaved        int  `json:"penalties_saved"`
	PenaltiesMissed       int  `json:"penalties_missed"`
	YellowCards           int  `json:"yellow_cards"`
	RedCards              int  `json:"red_cards"`
	Saves                 int  `json:"saves"`
	Bonus                 int  `json:"bonus"`
	BPS                   int  `json:"bps"`
	TotalPoints           int  `json:"total_points"`
	InDreamteam           bool `json:"in_dreamteam"`
	CBI                   int  `json:"clearances_blocks_interceptions"`
	Tackles               int  `json:"tackles"`
	Recoveries            int  `json:"recoveries"`
	DefensiveContribution int  `json:"defensive_contribution"`
}

// Entry is a manager's team profile.
type Entry struct {
	ID                         int64  `json:"id"`
	Name                       string `json:"name"`
	PlayerFirstName            string `json:"player_first_name"`
	PlayerLastName             string `json:"player_last_name"`
	SummaryOverallPoints       int    `json:"summary_overall_points"`
	SummaryOverallRank         int    `json:"summary_overall_rank"`
	SummaryEventPoints         int    `json:"summary_event_points"`
	CurrentEvent               int    `json:"current_event"`
	LastDeadlineBank           int    `json:"last_deadline_bank"`
	LastDeadlineValue          int    `json:"last_deadline_value"`
	LastDeadlineTotalTransfers int    `json:"last_deadline_total_transfers"`
}

// EntryPicks is a manager's submitted team for one gameweek.
type EntryPicks struct {
	ActiveChip   *string              `json:"active_chip"`
	EntryHistory EntryEventHistoryDTO `json:"entry_history"`
	Picks        []PickDTO            `json:"picks"`
}

type PickDTO struct {
	Element       int  `json:"element"`
	Position      int  `json:"position"`
	Multiplier    int  `json:"multiplier"`
	IsCaptain     bool `json:"is_captain"`
	IsViceCaptain bool `json:"is_vice_captain"`
}

type EntryEventHistoryDTO struct {
	Event              int `json:"event"`
	Points             int `json:"points"`
	TotalPoints        int `json:"total_points"`
	Rank               int `json:"rank"`
	OverallRank        int `json:"overall_rank"`
	Bank               int `json:"bank"`
	Value              int `json:"value"`
	EventTransfers     int `json:"event_transfers"`
	EventTransfersCost int `json:"event_transfers_cost"`
	PointsOnBench      int `json:"points_on_bench"`
}

// EntryHistory is a manager's season history including chip plays.
type EntryHistory struct {
	Current []EntryEventHistoryDTO `json:"current"`
	Chips   []ChipPlayDTO          `json:"chips"`
}

type ChipPlayDTO struct {
	Name  string    `json:"name"`
	Time  time.Time `json:"time"`
	Event int       `json:"event"`
}

// LeagueStandings is one page of a classic league table.
type LeagueStandings struct {
	League    LeagueDTO        `json:"league"`
	Standings StandingsPageDTO `json:"standings"`
}

type LeagueDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type StandingsPageDTO struct {
	HasNext bool             `json:"has_next"`
	Page    int              `json:"page"`
	Results []StandingRowDTO `json:"results"`
}

type StandingRowDTO struct {
	ID         int64  `json:"id"`
	Entry      int64  `json:"entry"`
	EntryName  string `json:"entry_name"`
	PlayerName string `json:"player_name"`
	Rank       int    `json:"rank"`
	LastRank   int    `json:"last_rank"`
	Total      int    `json:"total"`
	EventTotal int    `json:"event_total"`
}
