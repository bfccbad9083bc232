package models

import (
	"time"
)

// EloRating is the rolling strength estimate per team.
type EloRating struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TeamID    int       `gorm:"not null;uniqueIndex" json:"team_id"`
	Rating    float64   `gorm:"not null;default:1500" json:"rating"`
	Played    int       `gorm:"default:0" json:"played"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EloRating) TableName() string { return "elo_ratings" }

// EloMatchResult records one fixture's rating exchange.
type EloMatchResult struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	FixtureID        int       `gorm:"not null;uniqueIndex" json:"fixture_id"`
	Gameweek         int       `gorm:"index" json:"gameweek"`
	HomeTeamID       int       `gorm:"not null" json:"home_team_id"`
	AwayTeamID       int       `gorm:"not null" json:"away_team_id"`
	HomeScore        int       `json:"home_score"`
	AwayScore        int       `json:"away_score"`
	HomeRatingBefore float64   `json:"home_rating_before"`
	HomeRatingAfter  float64   `json:"home_rating_after"`
	AwayRatingBefore float64   `json:"away_rating_before"`
	AwayRatingAfter  float64   `json:"away_rating_after"`
	CreatedAt        time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (EloMatchResult) TableName() string { return "elo_match_results" }

// LeagueStandingRow is one rival's standing at one observation.
type LeagueStandingRow struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	LeagueID   int64     `gorm:"not null;index" json:"league_id"`
	EntryID    int64     `gorm:"not null;index" json:"entry_id"`
	EntryName  string    `json:"entry_name"`
	PlayerName string    `json:"player_name"`
	Rank       int       `json:"rank"`
	LastRank   int       `json:"last_rank"`
	Total      int       `json:"total"`
	Gameweek   int       `gorm:"index" json:"gameweek"`
	RecordedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"recorded_at"`
}

func (LeagueStandingRow) TableName() string { return "league_standings_history" }

// LeagueRival is the current view of a tracked rival entry.
type LeagueRival struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntryID    int64     `gorm:"not null;uniqueIndex" json:"entry_id"`
	EntryName  string    `json:"entry_name"`
	PlayerName string    `json:"player_name"`
	Rank       int       `json:"rank"`
	Total      int       `json:"total"`
	GapToUs    int       `json:"gap_to_us"` // rival total - our total
	IsAbove    bool      `json:"is_above"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (LeagueRival) TableName() string { return "league_rivals" }

// RivalChipUsage records a detected chip play by a rival.
type RivalChipUsage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntryID    int64     `gorm:"not null;index" json:"entry_id"`
	Chip       Chip      `gorm:"type:varchar(16);not null" json:"chip"`
	Gameweek   int       `json:"gameweek"`
	DetectedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"detected_at"`
}

func (RivalChipUsage) TableName() string { return "rival_chip_usage" }

// RivalChipStatus tracks which chip instances each rival still holds.
type RivalChipStatus struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	EntryID   int64     `gorm:"not null;uniqueIndex:idx_rival_chip_half" json:"entry_id"`
	Chip      Chip      `gorm:"type:varchar(16);not null;uniqueIndex:idx_rival_chip_half" json:"chip"`
	Half      int       `gorm:"not null;uniqueIndex:idx_rival_chip_half" json:"half"`
	Used      bool      `gorm:"default:false" json:"used"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RivalChipStatus) TableName() string { return "rival_chip_status" }

// PricePrediction is one rise/fall/hold call, scored after the pulse that
// reveals the outcome.
type PricePrediction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PlayerID     int       `gorm:"not null;index" json:"player_id"`
	Name         string    `json:"name"`
	Label        string    `gorm:"not null" json:"label"` // rise, fall, hold
	Confidence   float64   `json:"confidence"`
	NetTransfers int       `json:"net_transfers"`
	Phase        string    `json:"phase"`
	Outcome      *string   `json:"outcome"`
	Correct      *bool     `json:"correct"`
	CreatedAt    time.Time `gorm:"default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (PricePrediction) TableName() string { return "price_predictions" }

// TransferSnapshot is one observation of a player's transfer momentum.
type TransferSnapshot struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	PlayerID          int       `gorm:"not null;index:idx_snap_player_at" json:"player_id"`
	TransfersInEvent  int       `json:"transfers_in_event"`
	TransfersOutEvent int       `json:"transfers_out_event"`
	NetTransfers      int       `json:"net_transfers"`
	NowCost           int       `json:"now_cost"`
	SelectedByPercent float64   `json:"selected_by_percent"`
	Phase             string    `json:"phase"`
	SnapshotAt        time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_snap_player_at" json:"snapshot_at"`
}

func (TransferSnapshot) TableName() string { return "player_transfer_snapshots" }

// PriceChange is a confirmed cost move between pulses.
type PriceChange struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PlayerID   int       `gorm:"not null;index" json:"player_id"`
	Name       string    `json:"name"`
	OldCost    int       `gorm:"not null" json:"old_cost"`
	NewCost    int       `gorm:"not null" json:"new_cost"`
	Direction  string    `gorm:"not null" json:"direction"` // rise or fall
	Gameweek   int       `json:"gameweek"`
	DetectedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"detected_at"`
}

func (PriceChange) TableName() string { return "price_changes" }

// PriceModelPerformance aggregates prediction accuracy per day.
type PriceModelPerformance struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Day         time.Time `gorm:"not null;uniqueIndex;type:date" json:"day"`
	Predictions int       `json:"predictions"`
	Correct     int       `json:"correct"`
	Accuracy    float64   `json:"accuracy"`
	CreatedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PriceModelPerformance) TableName() string { return "price_model_performance" }
