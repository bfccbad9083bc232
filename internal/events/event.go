package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of event types flowing through the bus. Each kind
// maps 1:1 to a broker channel named <prefix>:<kind>.
type Kind string

const (
	// System events
	KindSystemStartup     Kind = "system.startup"
	KindSystemShutdown    Kind = "system.shutdown"
	KindSystemHealthCheck Kind = "system.health_check"

	// Gameweek lifecycle events
	KindGameweekDeadlineApproaching Kind = "gameweek.deadline_approaching"
	KindGameweekPlanning            Kind = "gameweek.planning"
	KindGameweekStarted             Kind = "gameweek.started"
	KindGameweekCompleted           Kind = "gameweek.completed"

	// Data pipeline events
	KindDataRefreshRequested Kind = "data.refresh_requested"
	KindDataUpdated          Kind = "data.updated"
	KindDataPlayerUpdated    Kind = "data.player_updated"
	KindDataFixtureUpdated   Kind = "data.fixture_updated"

	// Price events
	KindPriceCheck          Kind = "price.check"
	KindPriceChangeDetected Kind = "price.change_detected"
	KindPriceRisePredicted  Kind = "price.rise_predicted"
	KindPriceFallPredicted  Kind = "price.fall_predicted"

	// Team decision events
	KindTeamSelectionRequested Kind = "team.selection_requested"
	KindTeamSelected           Kind = "team.selected"
	KindTeamTransferRecommend  Kind = "team.transfer_recommended"
	KindTeamTransferExecuted   Kind = "team.transfer_executed"
	KindTeamCaptainSelected    Kind = "team.captain_selected"
	KindTeamChipUsed           Kind = "team.chip_used"

	// Player status events
	KindPlayerInjury      Kind = "player.injury"
	KindPlayerSuspended   Kind = "player.suspended"
	KindPlayerPriceLocked Kind = "player.price_locked"
	KindPlayerReturning   Kind = "player.returning"

	// Analysis events
	KindAnalysisRequested         Kind = "analysis.requested"
	KindAnalysisCompleted         Kind = "analysis.completed"
	KindAnalysisFixtureCompleted  Kind = "analysis.fixture_completed"
	KindAnalysisValuationDone     Kind = "analysis.valuation_completed"
	KindAnalysisDCCompleted       Kind = "analysis.dc_completed"
	KindAnalysisXGCompleted       Kind = "analysis.xg_completed"
	KindAnalysisValueRankingsDone Kind = "analysis.value_rankings_completed"

	// Decision events
	KindDecisionRequired Kind = "decision.required"
	KindDecisionMade     Kind = "decision.made"

	// Notification events
	KindNotificationInfo    Kind = "notification.info"
	KindNotificationWarning Kind = "notification.warning"
	KindNotificationError   Kind = "notification.error"

	// Intelligence events
	KindIntelDetected        Kind = "intelligence.detected"
	KindIntelInjury          Kind = "intelligence.injury"
	KindIntelRotationRisk    Kind = "intelligence.rotation_risk"
	KindIntelSuspension      Kind = "intelligence.suspension"
	KindIntelLineupLeak      Kind = "intelligence.lineup_leak"
	KindIntelPressConference Kind = "intelligence.press_conference"

	// Chip events
	KindChipRecommendation Kind = "chip.recommendation"
)

// AllKinds enumerates every valid event kind. Decode rejects anything else.
var AllKinds = []Kind{
	KindSystemStartup, KindSystemShutdown, KindSystemHealthCheck,
	KindGameweekDeadlineApproaching, KindGameweekPlanning, KindGameweekStarted, KindGameweekCompleted,
	KindDataRefreshRequested, KindDataUpdated, KindDataPlayerUpdated, KindDataFixtureUpdated,
	KindPriceCheck, KindPriceChangeDetected, KindPriceRisePredicted, KindPriceFallPredicted,
	KindTeamSelectionRequested, KindTeamSelected, KindTeamTransferRecommend,
	KindTeamTransferExecuted, KindTeamCaptainSelected, KindTeamChipUsed,
	KindPlayerInjury, KindPlayerSuspended, KindPlayerPriceLocked, KindPlayerReturning,
	KindAnalysisRequested, KindAnalysisCompleted, KindAnalysisFixtureCompleted,
	KindAnalysisValuationDone, KindAnalysisDCCompleted, KindAnalysisXGCompleted,
	KindAnalysisValueRankingsDone,
	KindDecisionRequired, KindDecisionMade,
	KindNotificationInfo, KindNotificationWarning, KindNotificationError,
	KindIntelDetected, KindIntelInjury, KindIntelRotationRisk, KindIntelSuspension,
	KindIntelLineupLeak, KindIntelPressConference,
	KindChipRecommendation,
}

var validKinds = func() map[Kind]struct{} {
	m := make(map[Kind]struct{}, len(AllKinds))
	for _, k := range AllKinds {
		m[k] = struct{}{}
	}
	return m
}()

// Valid reports whether the kind belongs to the closed set.
func (k Kind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a string tag into a Kind, rejecting unknown tags.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, s)
	}
	return k, nil
}

// Priority orders event handling urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// DefaultMaxRetries is the retry cap stamped on new events.
const DefaultMaxRetries = 3

var (
	// ErrMalformedEvent is returned by Decode for bytes that do not form a
	// valid event envelope or carry an unknown kind.
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is the unit of communication between agents. Immutable after
// creation; retry increments produce a copy.
type Event struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Timestamp     time.Time       `json:"timestamp"`
	Priority      Priority        `json:"priority"`
	Source        string          `json:"source,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Retry         int             `json:"retry"`
	MaxRetries    int             `json:"max_retries"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Option configures optional envelope fields at creation time.
type Option func(*Event)

func WithPriority(p Priority) Option {
	return func(e *Event) {
		if p.Valid() {
			e.Priority = p
		}
	}
}

func WithSource(source string) Option {
	return func(e *Event) { e.Source = source }
}

func WithCorrelation(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

// New creates an event with a fresh id, the current UTC timestamp, retry
// counter zero and the default retry cap. The payload is serialized once at
// creation.
func New(kind Kind, payload interface{}, opts ...Option) (*Event, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, kind)
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		raw = b
	}

	e := &Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Priority:   PriorityNormal,
		Retry:      0,
		MaxRetries: DefaultMaxRetries,
		Payload:    raw,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Encode serializes the event. Field ordering is fixed by the struct layout;
// timestamps are RFC3339 UTC and enums use their canonical string tags.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an event from its encoded form. Unknown kinds fail with
// ErrMalformedEvent; unknown payload keys are preserved verbatim in the raw
// payload bytes.
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, e.Kind)
	}
	if e.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedEvent)
	}
	if e.Priority == "" {
		e.Priority = PriorityNormal
	}
	return &e, nil
}

// CanRetry reports whether the event may be re-published after a handler
// failure.
func (e *Event) CanRetry() bool {
	return e.Retry < e.MaxRetries
}

// WithRetry returns a copy of the event with the retry counter incremented.
// The original is unchanged.
func (e *Event) WithRetry() *Event {
	clone := *e
	clone.Retry++
	return &clone
}
