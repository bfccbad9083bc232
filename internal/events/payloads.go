package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Typed payloads for the event kinds that carry structured data. The
// payloadTypes table below is the single place a new kind's payload is
// registered; kinds without an entry decode to map[string]interface{}.

// RankedPlayer is a scored player reference carried inside analysis payloads.
type RankedPlayer struct {
	PlayerID int     `json:"player_id"`
	Name     string  `json:"name"`
	Team     string  `json:"team,omitempty"`
	Position string  `json:"position,omitempty"`
	Score    float64 `json:"score"`
}

// PickRef is a squad slot reference carried inside team payloads.
type PickRef struct {
	PlayerID  int     `json:"player_id"`
	Name      string  `json:"name"`
	Position  string  `json:"position"`
	Team      string  `json:"team,omitempty"`
	XP        float64 `json:"xp"`
	IsCaptain bool    `json:"is_captain,omitempty"`
	IsVice    bool    `json:"is_vice,omitempty"`
	Bench     int     `json:"bench,omitempty"`
}

type StartupPayload struct {
	Agent string   `json:"agent"`
	Kinds []string `json:"kinds"`
}

type ShutdownPayload struct {
	Agent string `json:"agent"`
}

type HealthCheckPayload struct {
	At time.Time `json:"at"`
}

type DeadlineApproachingPayload struct {
	Gameweek  int       `json:"gameweek"`
	Deadline  time.Time `json:"deadline"`
	HoursLeft float64   `json:"hours_left"`
}

type GameweekPlanningPayload struct {
	Gameweek int       `json:"gameweek"`
	Trigger  string    `json:"trigger"`
	Deadline time.Time `json:"deadline"`
}

type GameweekStartedPayload struct {
	Gameweek int       `json:"gameweek"`
	Deadline time.Time `json:"deadline"`
}

type GameweekCompletedPayload struct {
	Gameweek int `json:"gameweek"`
}

type DataRefreshRequestedPayload struct {
	Trigger string `json:"trigger"`
	Force   bool   `json:"force,omitempty"`
}

type DataUpdatedPayload struct {
	PlayersUpdated  int  `json:"players_updated"`
	TeamsUpdated    int  `json:"teams_updated"`
	FixturesUpdated int  `json:"fixtures_updated"`
	CurrentGameweek int  `json:"current_gameweek"`
	Forced          bool `json:"forced,omitempty"`
}

type PlayerUpdatedPayload struct {
	PlayerID int    `json:"player_id"`
	Name     string `json:"name"`
	Field    string `json:"field"`
}

type FixtureUpdatedPayload struct {
	FixtureID int `json:"fixture_id"`
	Gameweek  int `json:"gameweek"`
}

type PriceCheckPayload struct {
	Phase string `json:"phase"` // "pre" or "post"
}

type PriceChangePayload struct {
	PlayerID int    `json:"player_id"`
	Name     string `json:"name"`
	OldCost  int    `json:"old_cost"`
	NewCost  int    `json:"new_cost"`
}

type PriceMovePayload struct {
	PlayerID   int     `json:"player_id"`
	Name       string  `json:"name"`
	Label      string  `json:"label"` // rise, fall, hold
	Confidence float64 `json:"confidence"`
	NetMoves   int     `json:"net_moves"`
}

type SelectionRequestedPayload struct {
	Gameweek int    `json:"gameweek"`
	Reason   string `json:"reason,omitempty"`
}

type TeamSelectedPayload struct {
	Gameweek     int       `json:"gameweek"`
	Formation    string    `json:"formation"`
	Starting     []PickRef `json:"starting"`
	Bench        []PickRef `json:"bench"`
	Captain      PickRef   `json:"captain"`
	ViceCaptain  PickRef   `json:"vice_captain"`
	Transfers    int       `json:"transfers"`
	HitCost      int       `json:"hit_cost"`
	Chip         string    `json:"chip,omitempty"`
	ExpectedTot  float64   `json:"expected_total"`
	Announcement string    `json:"announcement,omitempty"`
}

type TransferPayload struct {
	Gameweek int     `json:"gameweek"`
	OutID    int     `json:"out_id"`
	OutName  string  `json:"out_name"`
	InID     int     `json:"in_id"`
	InName   string  `json:"in_name"`
	Gain     float64 `json:"gain"`
	HitCost  int     `json:"hit_cost"`
	Free     bool    `json:"free"`
}

type CaptainSelectedPayload struct {
	Gameweek int     `json:"gameweek"`
	Captain  PickRef `json:"captain"`
	Vice     PickRef `json:"vice"`
}

type ChipUsedPayload struct {
	Gameweek int    `json:"gameweek"`
	Chip     string `json:"chip"`
}

type PlayerStatusPayload struct {
	PlayerID        int    `json:"player_id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	PreviousStatus  string `json:"previous_status,omitempty"`
	ChanceOfPlaying *int   `json:"chance_of_playing,omitempty"`
	News            string `json:"news,omitempty"`
}

type AnalysisRequestedPayload struct {
	Gameweek int      `json:"gameweek"`
	Analyses []string `json:"analyses,omitempty"`
}

type DCAnalysisPayload struct {
	Gameweek      int            `json:"gameweek"`
	TopDefenders  []RankedPlayer `json:"top_defenders"`
	TopMidfield   []RankedPlayer `json:"top_midfielders"`
	ProxyEstimate bool           `json:"proxy_estimate,omitempty"`
}

type FixtureAnalysisPayload struct {
	Gameweek  int                `json:"gameweek"`
	Easy      []string           `json:"easy_teams"`
	Hard      []string           `json:"hard_teams"`
	Swings    []string           `json:"swing_teams"`
	Difficult map[string]float64 `json:"difficulty,omitempty"`
}

type XGAnalysisPayload struct {
	Gameweek        int            `json:"gameweek"`
	TopInvolvement  []RankedPlayer `json:"top_involvement"`
	Overperformers  []RankedPlayer `json:"overperformers"`
	Underperformers []RankedPlayer `json:"underperformers"`
}

type ValueRankingsPayload struct {
	Gameweek   int                       `json:"gameweek"`
	ByPosition map[string][]RankedPlayer `json:"by_position"`
	Partial    bool                      `json:"partial,omitempty"`
}

type AnalysisCompletedPayload struct {
	Gameweek int    `json:"gameweek"`
	Analyzer string `json:"analyzer"`
}

type DecisionRequiredPayload struct {
	Gameweek int    `json:"gameweek"`
	Reason   string `json:"reason"`
	Posture  string `json:"posture,omitempty"`
}

type DecisionMadePayload struct {
	Gameweek   int    `json:"gameweek"`
	Action     string `json:"action"`
	DecisionID string `json:"decision_id"`
}

type NotificationPayload struct {
	Level   string `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	Agent   string `json:"agent,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type IntelligencePayload struct {
	PlayerID int    `json:"player_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
	Detail   string `json:"detail"`
	Severity string `json:"severity,omitempty"`
}

type ChipRecommendationPayload struct {
	Gameweek      int     `json:"gameweek"`
	Chip          string  `json:"chip"`
	ExpectedValue float64 `json:"expected_value"`
	Reason        string  `json:"reason"`
}

// payloadTypes maps each kind to its payload constructor. Adding a kind's
// payload is an addition here and nowhere else.
var payloadTypes = map[Kind]func() interface{}{
	KindSystemStartup:     func() interface{} { return new(StartupPayload) },
	KindSystemShutdown:    func() interface{} { return new(ShutdownPayload) },
	KindSystemHealthCheck: func() interface{} { return new(HealthCheckPayload) },

	KindGameweekDeadlineApproaching: func() interface{} { return new(DeadlineApproachingPayload) },
	KindGameweekPlanning:            func() interface{} { return new(GameweekPlanningPayload) },
	KindGameweekStarted:             func() interface{} { return new(GameweekStartedPayload) },
	KindGameweekCompleted:           func() interface{} { return new(GameweekCompletedPayload) },

	KindDataRefreshRequested: func() interface{} { return new(DataRefreshRequestedPayload) },
	KindDataUpdated:          func() interface{} { return new(DataUpdatedPayload) },
	KindDataPlayerUpdated:    func() interface{} { return new(PlayerUpdatedPayload) },
	KindDataFixtureUpdated:   func() interface{} { return new(FixtureUpdatedPayload) },

	KindPriceCheck:          func() interface{} { return new(PriceCheckPayload) },
	KindPriceChangeDetected: func() interface{} { return new(PriceChangePayload) },
	KindPriceRisePredicted:  func() interface{} { return new(PriceMovePayload) },
	KindPriceFallPredicted:  func() interface{} { return new(PriceMovePayload) },

	KindTeamSelectionRequested: func() interface{} { return new(SelectionRequestedPayload) },
	KindTeamSelected:           func() interface{} { return new(TeamSelectedPayload) },
	KindTeamTransferRecommend:  func() interface{} { return new(TransferPayload) },
	KindTeamTransferExecuted:   func() interface{} { return new(TransferPayload) },
	KindTeamCaptainSelected:    func() interface{} { return new(CaptainSelectedPayload) },
	KindTeamChipUsed:           func() interface{} { return new(ChipUsedPayload) },

	KindPlayerInjury:      func() interface{} { return new(PlayerStatusPayload) },
	KindPlayerSuspended:   func() interface{} { return new(PlayerStatusPayload) },
	KindPlayerPriceLocked: func() interface{} { return new(PlayerStatusPayload) },
	KindPlayerReturning:   func() interface{} { return new(PlayerStatusPayload) },

	KindAnalysisRequested:         func() interface{} { return new(AnalysisRequestedPayload) },
	KindAnalysisCompleted:         func() interface{} { return new(AnalysisCompletedPayload) },
	KindAnalysisFixtureCompleted:  func() interface{} { return new(FixtureAnalysisPayload) },
	KindAnalysisDCCompleted:       func() interface{} { return new(DCAnalysisPayload) },
	KindAnalysisXGCompleted:       func() interface{} { return new(XGAnalysisPayload) },
	KindAnalysisValueRankingsDone: func() interface{} { return new(ValueRankingsPayload) },

	KindDecisionRequired: func() interface{} { return new(DecisionRequiredPayload) },
	KindDecisionMade:     func() interface{} { return new(DecisionMadePayload) },

	KindNotificationInfo:    func() interface{} { return new(NotificationPayload) },
	KindNotificationWarning: func() interface{} { return new(NotificationPayload) },
	KindNotificationError:   func() interface{} { return new(NotificationPayload) },

	KindIntelDetected:        func() interface{} { return new(IntelligencePayload) },
	KindIntelInjury:          func() interface{} { return new(IntelligencePayload) },
	KindIntelRotationRisk:    func() interface{} { return new(IntelligencePayload) },
	KindIntelSuspension:      func() interface{} { return new(IntelligencePayload) },
	KindIntelLineupLeak:      func() interface{} { return new(IntelligencePayload) },
	KindIntelPressConference: func() interface{} { return new(IntelligencePayload) },

	KindChipRecommendation: func() interface{} { return new(ChipRecommendationPayload) },
}

// DecodePayload unmarshals the payload into the struct registered for the
// event's kind. Kinds without a registered struct decode to a generic map.
// Unknown keys in the raw payload are ignored here but remain preserved in
// e.Payload for re-encoding.
func (e *Event) DecodePayload() (interface{}, error) {
	if len(e.Payload) == 0 {
		return nil, nil
	}
	ctor, ok := payloadTypes[e.Kind]
	if !ok {
		out := map[string]interface{}{}
		if err := json.Unmarshal(e.Payload, &out); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", e.Kind, err)
		}
		return out, nil
	}
	out := ctor()
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return nil, fmt.Errorf("failed to decode payload for %s: %w", e.Kind, err)
	}
	return out, nil
}

// PayloadAs unmarshals the payload into the caller's typed destination.
func (e *Event) PayloadAs(dest interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("failed to decode payload for %s: %w", e.Kind, err)
	}
	return nil
}
