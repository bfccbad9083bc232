package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// Postures order from safest to riskiest. The week's posture widens or
// narrows how much differential risk downstream picks take on.
const (
	PostureDefensive             = "defensive"
	PostureBalanced              = "balanced"
	PostureBalancedDifferentials = "balanced-differentials"
	PostureAggressive            = "aggressive-differentials"
)

const (
	// completionWindow bounds the wait for the full analysis set.
	completionWindow = 60 * time.Second

	differentialOwnership = 15.0
	templateOwnership     = 70.0
	topValueCount         = 20
	shortlistPerPosition  = 5
)

// CaptainPick is one armband recommendation.
type CaptainPick struct {
	PlayerID  int     `json:"player_id"`
	Name      string  `json:"name"`
	Expected  float64 `json:"expected_points"`
	Ownership float64 `json:"ownership"`
}

// TemplateRisk flags a highly-owned player whose news has gone bad: a
// player most rivals hold and most rivals are about to lose points on.
type TemplateRisk struct {
	PlayerID  int     `json:"player_id"`
	Name      string  `json:"name"`
	Ownership float64 `json:"ownership"`
	Status    string  `json:"status"`
	News      string  `json:"news,omitempty"`
}

// Recommendation is the structured output for one gameweek.
type Recommendation struct {
	Gameweek      int                              `json:"gameweek"`
	Posture       string                           `json:"posture"`
	GapToLeader   int                              `json:"gap_to_leader"`
	TopValue      []events.RankedPlayer            `json:"top_value"`
	Captain       *CaptainPick                     `json:"captain"`
	Differential  *CaptainPick                     `json:"differential,omitempty"`
	TemplateRisks []TemplateRisk                   `json:"template_risks,omitempty"`
	Shortlists    map[string][]events.RankedPlayer `json:"shortlists"`
	Partial       bool                             `json:"partial,omitempty"`
	GeneratedAt   time.Time                        `json:"generated_at"`
}

// pointsPredictor is the slice of the prediction service the engine needs.
type pointsPredictor interface {
	PredictAll(ctx context.Context, gameweek int, excludeUnavailable bool) (map[int]float64, error)
}

// joinState buffers the per-gameweek analysis set until it is complete or
// the window lapses.
type joinState struct {
	value   *events.ValueRankingsPayload
	dc      *events.DCAnalysisPayload
	fixture *events.FixtureAnalysisPayload
	xg      *events.XGAnalysisPayload
	timer   *time.Timer
}

func (j *joinState) complete() bool {
	return j.value != nil && j.dc != nil && j.fixture != nil && j.xg != nil
}

// Engine joins the analyses with point predictions and competitive context
// into a gameweek recommendation, recorded and announced for the planner.
type Engine struct {
	repo      *storage.Repository
	bus       *events.Bus
	predictor pointsPredictor
	logger    *logrus.Logger

	mu      sync.Mutex
	pending map[int]*joinState
	latest  *Recommendation
}

func NewEngine(repo *storage.Repository, bus *events.Bus, predictor pointsPredictor, logger *logrus.Logger) *Engine {
	return &Engine{
		repo:      repo,
		bus:       bus,
		predictor: predictor,
		logger:    logger,
		pending:   make(map[int]*joinState),
	}
}

func (e *Engine) Name() string { return "synthesis-engine" }

func (e *Engine) Kinds() []events.Kind {
	return []events.Kind{
		events.KindAnalysisValueRankingsDone,
		events.KindAnalysisDCCompleted,
		events.KindAnalysisFixtureCompleted,
		events.KindAnalysisXGCompleted,
	}
}

// HandleEvent buffers one analysis for its gameweek and synthesizes once
// the set is complete.
func (e *Engine) HandleEvent(ctx context.Context, event *events.Event) error {
	var gameweek int

	e.mu.Lock()
	switch event.Kind {
	case events.KindAnalysisValueRankingsDone:
		var p events.ValueRankingsPayload
		if err := event.PayloadAs(&p); err != nil {
			e.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		e.joinFor(gameweek, event.CorrelationID).value = &p
	case events.KindAnalysisDCCompleted:
		var p events.DCAnalysisPayload
		if err := event.PayloadAs(&p); err != nil {
			e.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		e.joinFor(gameweek, event.CorrelationID).dc = &p
	case events.KindAnalysisFixtureCompleted:
		var p events.FixtureAnalysisPayload
		if err := event.PayloadAs(&p); err != nil {
			e.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		e.joinFor(gameweek, event.CorrelationID).fixture = &p
	case events.KindAnalysisXGCompleted:
		var p events.XGAnalysisPayload
		if err := event.PayloadAs(&p); err != nil {
			e.mu.Unlock()
			return err
		}
		gameweek = p.Gameweek
		e.joinFor(gameweek, event.CorrelationID).xg = &p
	default:
		e.mu.Unlock()
		return nil
	}

	join := e.pending[gameweek]
	ready := join != nil && join.complete()
	if ready {
		join.timer.Stop()
		delete(e.pending, gameweek)
	}
	e.mu.Unlock()

	if ready {
		return e.synthesize(ctx, gameweek, join, false, event.CorrelationID)
	}
	return nil
}

// joinFor returns the buffer for a gameweek, arming the lapse timer on
// first touch. Caller holds the mutex.
func (e *Engine) joinFor(gameweek int, correlationID string) *joinState {
	if join, ok := e.pending[gameweek]; ok {
		return join
	}
	join := &joinState{}
	join.timer = time.AfterFunc(completionWindow, func() {
		e.onWindowLapsed(gameweek, correlationID)
	})
	e.pending[gameweek] = join
	return join
}

func (e *Engine) onWindowLapsed(gameweek int, correlationID string) {
	e.mu.Lock()
	join, ok := e.pending[gameweek]
	if ok {
		delete(e.pending, gameweek)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e.logger.WithField("gameweek", gameweek).Warn("Synthesis join window lapsed; proceeding with partial analyses")
	e.notify(ctx, events.KindNotificationWarning, "Partial synthesis",
		fmt.Sprintf("Gameweek %d recommendation built from an incomplete analysis set", gameweek))
	if err := e.synthesize(ctx, gameweek, join, true, correlationID); err != nil {
		e.logger.WithError(err).Error("Failed to synthesize from partial analyses")
	}
}

// Latest returns the most recent recommendation, nil before the first run.
func (e *Engine) Latest() *Recommendation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

func (e *Engine) synthesize(ctx context.Context, gameweek int, join *joinState, partial bool, correlationID string) error {
	predictions, err := e.predictor.PredictAll(ctx, gameweek, true)
	if err != nil {
		return fmt.Errorf("synthesis: predict gameweek %d: %w", gameweek, err)
	}
	players, err := e.repo.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("synthesis: list players: %w", err)
	}

	gap := e.gapToLeader(ctx)
	rec := &Recommendation{
		Gameweek:    gameweek,
		Posture:     classifyPosture(gap),
		GapToLeader: gap,
		Shortlists:  make(map[string][]events.RankedPlayer, 4),
		Partial:     partial,
		GeneratedAt: time.Now().UTC(),
	}

	if join.value != nil {
		rec.TopValue = flattenRankings(join.value.ByPosition, topValueCount)
		for pos, ranked := range join.value.ByPosition {
			n := shortlistPerPosition
			if len(ranked) < n {
				n = len(ranked)
			}
			rec.Shortlists[pos] = ranked[:n]
		}
	}

	rec.Captain, rec.Differential = pickCaptains(players, predictions, rec.Posture)
	rec.TemplateRisks = templateRisks(players)

	e.mu.Lock()
	e.latest = rec
	e.mu.Unlock()

	if err := e.record(ctx, rec); err != nil {
		e.logger.WithError(err).Warn("Failed to record rankings decision")
	}

	e.logger.WithFields(logrus.Fields{
		"gameweek": gameweek,
		"posture":  rec.Posture,
		"partial":  partial,
	}).Info("Gameweek recommendation synthesized")

	opts := []events.Option{events.WithSource(e.Name()), events.WithPriority(events.PriorityHigh)}
	if correlationID != "" {
		opts = append(opts, events.WithCorrelation(correlationID))
	}
	event, err := events.New(events.KindDecisionRequired, events.DecisionRequiredPayload{
		Gameweek: gameweek,
		Reason:   "rankings-completed",
		Posture:  rec.Posture,
	}, opts...)
	if err != nil {
		return err
	}
	if _, err := e.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("synthesis: publish decision.required: %w", err)
	}
	return nil
}

// gapToLeader is our total minus the leader's; zero when we lead or no
// standings are tracked yet.
func (e *Engine) gapToLeader(ctx context.Context) int {
	rivals, err := e.repo.ListRivals(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Competitive context unavailable; defaulting posture inputs")
		return 0
	}
	// GapToUs is rival total minus ours; the leader has the largest.
	maxAbove := 0
	for _, rival := range rivals {
		if rival.GapToUs > maxAbove {
			maxAbove = rival.GapToUs
		}
	}
	return -maxAbove
}

// classifyPosture maps the competitive gap onto the week's risk appetite.
// Leading means protecting; a big deficit means chasing.
func classifyPosture(gap int) string {
	switch {
	case gap >= 0:
		return PostureDefensive
	case gap < -200:
		return PostureAggressive
	case gap < -50:
		return PostureBalancedDifferentials
	default:
		return PostureBalanced
	}
}

// pickCaptains returns the primary armband pick and, for risk-seeking
// postures, a low-ownership alternative. Ties break to the lower id.
func pickCaptains(players []models.Player, predictions map[int]float64, posture string) (*CaptainPick, *CaptainPick) {
	var primary, differential *CaptainPick
	better := func(current *CaptainPick, xp float64, id int) bool {
		if current == nil {
			return true
		}
		if xp != current.Expected {
			return xp > current.Expected
		}
		return id < current.PlayerID
	}

	for i := range players {
		p := &players[i]
		xp, ok := predictions[p.ID]
		if !ok || xp <= 0 {
			continue
		}
		pick := &CaptainPick{PlayerID: p.ID, Name: p.WebName, Expected: xp, Ownership: p.SelectedByPercent}
		if better(primary, xp, p.ID) {
			primary = pick
		}
		if p.SelectedByPercent < differentialOwnership && better(differential, xp, p.ID) {
			differential = pick
		}
	}

	if posture != PostureAggressive {
		differential = nil
	}
	// The differential only adds information when it differs from the
	// primary pick.
	if primary != nil && differential != nil && differential.PlayerID == primary.PlayerID {
		differential = nil
	}
	return primary, differential
}

// templateRisks lists heavily-owned players whose availability has turned.
func templateRisks(players []models.Player) []TemplateRisk {
	var risks []TemplateRisk
	for _, p := range players {
		if p.SelectedByPercent >= templateOwnership && p.Status.Risky() {
			risks = append(risks, TemplateRisk{
				PlayerID:  p.ID,
				Name:      p.WebName,
				Ownership: p.SelectedByPercent,
				Status:    string(p.Status),
				News:      p.News,
			})
		}
	}
	sort.Slice(risks, func(i, j int) bool {
		if risks[i].Ownership != risks[j].Ownership {
			return risks[i].Ownership > risks[j].Ownership
		}
		return risks[i].PlayerID < risks[j].PlayerID
	})
	return risks
}

// flattenRankings merges the per-position rankings into one list ordered
// by score.
func flattenRankings(byPosition map[string][]events.RankedPlayer, limit int) []events.RankedPlayer {
	var all []events.RankedPlayer
	for _, ranked := range byPosition {
		all = append(all, ranked...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].PlayerID < all[j].PlayerID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (e *Engine) record(ctx context.Context, rec *Recommendation) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return e.repo.RecordDecision(ctx, &models.DecisionRecord{
		Gameweek: rec.Gameweek,
		Kind:     "rankings",
		Data:     datatypes.JSON(blob),
		Agent:    e.Name(),
	})
}

func (e *Engine) notify(ctx context.Context, kind events.Kind, title, message string) {
	event, err := events.New(kind, events.NotificationPayload{
		Level:   "warning",
		Title:   title,
		Message: message,
		Agent:   e.Name(),
	}, events.WithSource(e.Name()))
	if err != nil {
		return
	}
	if _, err := e.bus.Publish(ctx, event); err != nil {
		e.logger.WithError(err).Warn("Failed to publish synthesis notification")
	}
}
