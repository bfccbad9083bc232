package models

import (
	"fmt"
)

// Position is the upstream element type 1-4.
type Position int

const (
	Goalkeeper Position = 1
	Defender   Position = 2
	Midfielder Position = 3
	Forward    Position = 4
)

func (p Position) String() string {
	switch p {
	case Goalkeeper:
		return "GK"
	case Defender:
		return "DEF"
	case Midfielder:
		return "MID"
	case Forward:
		return "FWD"
	}
	return fmt.Sprintf("Position(%d)", int(p))
}

func (p Position) Valid() bool {
	return p >= Goalkeeper && p <= Forward
}

// AllPositions in upstream order.
var AllPositions = []Position{Goalkeeper, Defender, Midfielder, Forward}

// Availability is the upstream player status flag.
type Availability string

const (
	StatusAvailable   Availability = "a"
	StatusDoubtful    Availability = "d"
	StatusInjured     Availability = "i"
	StatusSuspended   Availability = "s"
	StatusUnavailable Availability = "u"
)

// Risky reports whether the status indicates doubt or worse.
func (a Availability) Risky() bool {
	return a != StatusAvailable && a != ""
}

// PlayingChance converts status plus the upstream chance-of-playing field
// into a multiplier on expected points. A doubtful player with no stated
// chance is treated as a coin flip.
func PlayingChance(status Availability, chance *int) float64 {
	if !status.Risky() {
		return 1.0
	}
	if chance != nil {
		return float64(*chance) / 100.0
	}
	if status == StatusDoubtful {
		return 0.5
	}
	return 0.0
}

// Chip is a one-shot season lever.
type Chip string

const (
	ChipWildcard      Chip = "wildcard"
	ChipBenchBoost    Chip = "bench_boost"
	ChipTripleCaptain Chip = "triple_captain"
	ChipFreeHit       Chip = "free_hit"
)

var AllChips = []Chip{ChipWildcard, ChipBenchBoost, ChipTripleCaptain, ChipFreeHit}

// ChipHalfCutoff is the last gameweek of the first-half chip instances.
const ChipHalfCutoff = 19

// ChipHalf returns which instance window a gameweek falls into.
func ChipHalf(gameweek int) int {
	if gameweek <= ChipHalfCutoff {
		return 1
	}
	return 2
}

// Squad construction constants. These belong to the game's ruleset and are
// not configurable.
const (
	SquadSize      = 15
	StartingSize   = 11
	MaxPerTeam     = 3
	NewSquadBudget = 1000 // tenths
	HitCost        = 4
)

// SquadComposition is the required per-position count in a full squad.
var SquadComposition = map[Position]int{
	Goalkeeper: 2,
	Defender:   5,
	Midfielder: 5,
	Forward:    3,
}

// Formation is the on-field (defender, midfielder, forward) split with the
// goalkeeper always singular.
type Formation struct {
	Defenders   int
	Midfielders int
	Forwards    int
}

func (f Formation) String() string {
	return fmt.Sprintf("%d-%d-%d", f.Defenders, f.Midfielders, f.Forwards)
}

// ValidFormations is the closed set of legal formations.
var ValidFormations = []Formation{
	{3, 4, 3}, {3, 5, 2}, {3, 2, 5},
	{4, 3, 3}, {4, 4, 2}, {4, 5, 1}, {4, 2, 4},
	{5, 3, 2}, {5, 4, 1}, {5, 2, 3},
}

func (f Formation) Valid() bool {
	for _, v := range ValidFormations {
		if f == v {
			return true
		}
	}
	return false
}

// ParseFormation parses the "D-M-F" display form.
func ParseFormation(s string) (Formation, error) {
	var f Formation
	if _, err := fmt.Sscanf(s, "%d-%d-%d", &f.Defenders, &f.Midfielders, &f.Forwards); err != nil {
		return Formation{}, fmt.Errorf("invalid formation %q: %w", s, err)
	}
	if !f.Valid() {
		return Formation{}, fmt.Errorf("formation %q is not in the legal set", s)
	}
	return f, nil
}

// SquadPlayer is one owned slot in a squad, carrying the purchase and
// selling prices that drive budget arithmetic.
type SquadPlayer struct {
	PlayerID      int      `json:"player_id"`
	Code          int64    `json:"code"`
	Name          string   `json:"name"`
	Position      Position `json:"position"`
	TeamID        int      `json:"team_id"`
	PurchasePrice int      `json:"purchase_price"` // tenths
	SellingPrice  int      `json:"selling_price"`  // tenths
	NowCost       int      `json:"now_cost"`       // tenths
}

// Squad is the owned 15 plus the budget context needed for transfers.
type Squad struct {
	Players       []SquadPlayer `json:"players"`
	Bank          int           `json:"bank"` // tenths
	FreeTransfers int           `json:"free_transfers"`
}

func (s *Squad) Contains(playerID int) bool {
	for _, p := range s.Players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (s *Squad) Get(playerID int) (SquadPlayer, bool) {
	for _, p := range s.Players {
		if p.PlayerID == playerID {
			return p, true
		}
	}
	return SquadPlayer{}, false
}

func (s *Squad) CountByPosition() map[Position]int {
	counts := make(map[Position]int, 4)
	for _, p := range s.Players {
		counts[p.Position]++
	}
	return counts
}

func (s *Squad) CountByTeam() map[int]int {
	counts := make(map[int]int)
	for _, p := range s.Players {
		counts[p.TeamID]++
	}
	return counts
}

// SellingValue is the budget recovered by selling every player.
func (s *Squad) SellingValue() int {
	total := 0
	for _, p := range s.Players {
		total += p.SellingPrice
	}
	return total
}

func (s *Squad) PurchaseTotal() int {
	total := 0
	for _, p := range s.Players {
		total += p.PurchasePrice
	}
	return total
}

// ByPosition groups the squad by position preserving slice order.
func (s *Squad) ByPosition() map[Position][]SquadPlayer {
	out := make(map[Position][]SquadPlayer, 4)
	for _, p := range s.Players {
		out[p.Position] = append(out[p.Position], p)
	}
	return out
}

// ApplyTransfer swaps out for in, debiting the price difference from the
// bank. The new holder's purchase and selling prices are its current cost.
func (s *Squad) ApplyTransfer(outID int, in SquadPlayer) error {
	for i, p := range s.Players {
		if p.PlayerID == outID {
			if p.Position != in.Position {
				return fmt.Errorf("transfer position mismatch: %s out, %s in", p.Position, in.Position)
			}
			s.Bank += p.SellingPrice - in.NowCost
			in.PurchasePrice = in.NowCost
			in.SellingPrice = in.NowCost
			s.Players[i] = in
			return nil
		}
	}
	return fmt.Errorf("player %d not in squad", outID)
}

// Lineup is a picked eleven plus ordered bench, captaincy assigned.
type Lineup struct {
	Starting  []SquadPlayer `json:"starting"`
	Bench     []SquadPlayer `json:"bench"`
	Formation Formation     `json:"formation"`
	CaptainID int           `json:"captain_id"`
	ViceID    int           `json:"vice_id"`
}

// PriceBracket buckets a cost in tenths for bias-correction aggregation.
func PriceBracket(nowCost int) string {
	price := float64(nowCost) / 10.0
	switch {
	case price >= 10.0:
		return "premium"
	case price >= 6.0:
		return "mid"
	default:
		return "budget"
	}
}
