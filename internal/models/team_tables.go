package models

import (
	"time"
)

// MyTeamSlot is one owned player in the live squad. The table always holds
// exactly fifteen rows once a squad exists.
type MyTeamSlot struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	PlayerID      int       `gorm:"not null;uniqueIndex" json:"player_id"`
	Code          int64     `gorm:"not null" json:"code"`
	Name          string    `json:"name"`
	ElementType   int       `gorm:"not null" json:"element_type"`
	TeamID        int       `gorm:"not null" json:"team_id"`
	PurchasePrice int       `gorm:"not null" json:"purchase_price"` // tenths
	SellingPrice  int       `gorm:"not null" json:"selling_price"`  // tenths
	IsCaptain     bool      `gorm:"default:false" json:"is_captain"`
	IsVice        bool      `gorm:"default:false" json:"is_vice"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (MyTeamSlot) TableName() string { return "my_team" }

// TeamState is the singleton budget row accompanying my_team.
type TeamState struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Bank          int       `gorm:"not null;default:0" json:"bank"` // tenths
	FreeTransfers int       `gorm:"not null;default:1" json:"free_transfers"`
	TeamValue     int       `json:"team_value"` // tenths
	Gameweek      int       `json:"gameweek"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (TeamState) TableName() string { return "team_state" }

// DraftSlot is one row of the working draft for a gameweek. The draft is a
// single overwritten cell per gameweek: writes replace all rows for G.
type DraftSlot struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Gameweek       int       `gorm:"not null;uniqueIndex:idx_draft_gw_slot" json:"gameweek"`
	Slot           int       `gorm:"not null;uniqueIndex:idx_draft_gw_slot" json:"slot"` // 1-11 starting, 12-15 bench
	PlayerID       int       `gorm:"not null" json:"player_id"`
	Code           int64     `json:"code"`
	Name           string    `json:"name"`
	ElementType    int       `gorm:"not null" json:"element_type"`
	TeamID         int       `json:"team_id"`
	IsCaptain      bool      `gorm:"default:false" json:"is_captain"`
	IsVice         bool      `gorm:"default:false" json:"is_vice"`
	ExpectedPoints float64   `json:"expected_points"`
	Formation      string    `json:"formation"`
	Chip           string    `json:"chip"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (DraftSlot) TableName() string { return "draft_team" }

// TransferRecord is an executed (or drafted) transfer for a gameweek.
type TransferRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Gameweek   int       `gorm:"not null;index" json:"gameweek"`
	PlayerOut  int       `gorm:"not null" json:"player_out"`
	OutName    string    `json:"out_name"`
	PlayerIn   int       `gorm:"not null" json:"player_in"`
	InName     string    `json:"in_name"`
	OutPrice   int       `json:"out_price"` // selling price, tenths
	InPrice    int       `json:"in_price"`  // purchase price, tenths
	HitCost    int       `gorm:"default:0" json:"hit_cost"`
	Free       bool      `gorm:"default:true" json:"free"`
	Reasoning  string    `json:"reasoning"`
	ExecutedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"executed_at"`
}

func (TransferRecord) TableName() string { return "transfers" }

// ChipUsage marks one chip instance as spent. The (chip, half) unique index
// enforces the available -> used once transition per instance.
type ChipUsage struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	Chip     Chip      `gorm:"type:varchar(16);not null;uniqueIndex:idx_chip_half" json:"chip"`
	Half     int       `gorm:"not null;uniqueIndex:idx_chip_half" json:"half"` // 1 or 2
	Gameweek int       `gorm:"not null" json:"gameweek"`
	UsedAt   time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"used_at"`
}

func (ChipUsage) TableName() string { return "chips_used" }
