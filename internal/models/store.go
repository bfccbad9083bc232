package models

import (
	"time"

	"gorm.io/datatypes"
)

// Player is the per-season view of an element, updated in place on every
// bootstrap ingestion. Code is stable across seasons; ID is not.
type Player struct {
	ID                 int          `gorm:"primaryKey" json:"id"`
	Code               int64        `gorm:"uniqueIndex;not null" json:"code"`
	WebName            string       `gorm:"not null" json:"web_name"`
	ElementType        int          `gorm:"not null;index" json:"element_type"`
	TeamID             int          `gorm:"not null;index" json:"team_id"`
	NowCost            int          `gorm:"not null" json:"now_cost"` // tenths
	TotalPoints        int          `json:"total_points"`
	Minutes            int          `json:"minutes"`
	Status             Availability `gorm:"type:varchar(1);default:'a'" json:"status"`
	ChanceOfPlaying    *int         `json:"chance_of_playing_next_round"`
	News               string       `json:"news"`
	SelectedByPercent  float64      `json:"selected_by_percent"`
	Form               float64      `json:"form"`
	PointsPerGame      float64      `json:"points_per_game"`
	GoalsScored        int          `json:"goals_scored"`
	Assists            int          `json:"assists"`
	CleanSheets        int          `json:"clean_sheets"`
	GoalsConceded      int          `json:"goals_conceded"`
	Saves              int          `json:"saves"`
	BPS                int          `json:"bps"`
	CBI                int          `json:"clearances_blocks_interceptions"`
	Tackles            int          `json:"tackles"`
	Recoveries         int          `json:"recoveries"`
	DefContribution    int          `json:"defensive_contribution"`
	TransfersInEvent   int          `json:"transfers_in_event"`
	TransfersOutEvent  int          `json:"transfers_out_event"`
	CostChangeEvent    int          `json:"cost_change_event"`
	CostChangeStart    int          `json:"cost_change_start"`
	ExpectedGoals      float64      `json:"expected_goals"`
	ExpectedAssists    float64      `json:"expected_assists"`
	ExpectedGI         float64      `json:"expected_goal_involvements"`
	ExpectedGoalsP90   float64      `json:"expected_goals_per_90"`
	ExpectedAssistsP90 float64      `json:"expected_assists_per_90"`
	ExpectedGIP90      float64      `json:"expected_goal_involvements_per_90"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

func (Player) TableName() string { return "players" }

// Position maps the upstream element type.
func (p *Player) Position() Position { return Position(p.ElementType) }

// Price in currency units.
func (p *Player) Price() float64 { return float64(p.NowCost) / 10.0 }

type Team struct {
	ID                  int       `gorm:"primaryKey" json:"id"`
	Code                int       `json:"code"`
	Name                string    `gorm:"not null" json:"name"`
	ShortName           string    `gorm:"not null" json:"short_name"`
	StrengthAttackHome  int       `json:"strength_attack_home"`
	StrengthAttackAway  int       `json:"strength_attack_away"`
	StrengthDefenceHome int       `json:"strength_defence_home"`
	StrengthDefenceAway int       `json:"strength_defence_away"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (Team) TableName() string { return "teams" }

type Gameweek struct {
	ID           int       `gorm:"primaryKey" json:"id"`
	Name         string    `json:"name"`
	DeadlineTime time.Time `gorm:"not null;index" json:"deadline_time"`
	Finished     bool      `gorm:"default:false" json:"finished"`
	IsCurrent    bool      `gorm:"default:false" json:"is_current"`
	IsNext       bool      `gorm:"default:false" json:"is_next"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Gameweek) TableName() string { return "gameweeks" }

type Fixture struct {
	ID              int        `gorm:"primaryKey" json:"id"`
	Event           int        `gorm:"index" json:"event"` // gameweek; 0 when unscheduled
	TeamH           int        `gorm:"not null;index" json:"team_h"`
	TeamA           int        `gorm:"not null;index" json:"team_a"`
	TeamHDifficulty int        `json:"team_h_difficulty"`
	TeamADifficulty int        `json:"team_a_difficulty"`
	TeamHScore      *int       `json:"team_h_score"`
	TeamAScore      *int       `json:"team_a_score"`
	Finished        bool       `gorm:"default:false" json:"finished"`
	Started         bool       `gorm:"default:false" json:"started"`
	KickoffTime     *time.Time `json:"kickoff_time"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Fixture) TableName() string { return "fixtures" }

// PlayerGameweekHistory is one appearance row from the detail endpoint,
// including the defensive counters when the upstream provides them.
type PlayerGameweekHistory struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PlayerID        int       `gorm:"not null;uniqueIndex:idx_player_gw" json:"player_id"`
	Gameweek        int       `gorm:"not null;uniqueIndex:idx_player_gw" json:"gameweek"`
	OpponentTeam    int       `json:"opponent_team"`
	WasHome         bool      `json:"was_home"`
	Minutes         int       `json:"minutes"`
	TotalPoints     int       `json:"total_points"`
	GoalsScored     int       `json:"goals_scored"`
	Assists         int       `json:"assists"`
	CleanSheets     int       `json:"clean_sheets"`
	GoalsConceded   int       `json:"goals_conceded"`
	OwnGoals        int       `json:"own_goals"`
	PenaltiesSaved  int       `json:"penalties_saved"`
	PenaltiesMissed int       `json:"penalties_missed"`
	YellowCards     int       `json:"yellow_cards"`
	RedCards        int       `json:"red_cards"`
	Saves           int       `json:"saves"`
	Bonus           int       `json:"bonus"`
	BPS             int       `json:"bps"`
	ExpectedGoals   float64   `json:"expected_goals"`
	ExpectedAssists float64   `json:"expected_assists"`
	CBI             int       `json:"clearances_blocks_interceptions"`
	Tackles         int       `json:"tackles"`
	Recoveries      int       `json:"recoveries"`
	Value           int       `json:"value"` // price in tenths at the time
	CreatedAt       time.Time `json:"created_at"`
}

func (PlayerGameweekHistory) TableName() string { return "player_gameweek_history" }

// HistoricalPlayer is one prior-season summary row from the detail endpoint.
type HistoricalPlayer struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Code        int64     `gorm:"not null;uniqueIndex:idx_code_season" json:"code"`
	SeasonName  string    `gorm:"not null;uniqueIndex:idx_code_season" json:"season_name"`
	StartCost   int       `json:"start_cost"`
	EndCost     int       `json:"end_cost"`
	TotalPoints int       `json:"total_points"`
	Minutes     int       `json:"minutes"`
	GoalsScored int       `json:"goals_scored"`
	Assists     int       `json:"assists"`
	CleanSheets int       `json:"clean_sheets"`
	CreatedAt   time.Time `json:"created_at"`
}

func (HistoricalPlayer) TableName() string { return "historical_players" }

// HistoricalGameweekData archives raw per-gameweek stats for completed
// gameweeks of the running season, keyed by player code so it survives
// season id churn.
type HistoricalGameweekData struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Code      int64          `gorm:"not null;uniqueIndex:idx_hgd_code_gw" json:"code"`
	Season    string         `gorm:"not null;uniqueIndex:idx_hgd_code_gw" json:"season"`
	Gameweek  int            `gorm:"not null;uniqueIndex:idx_hgd_code_gw" json:"gameweek"`
	Stats     datatypes.JSON `gorm:"type:jsonb" json:"stats"`
	CreatedAt time.Time      `json:"created_at"`
}

func (HistoricalGameweekData) TableName() string { return "historical_gameweek_data" }
