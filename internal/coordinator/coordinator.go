package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/llm"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/optimizer"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/rules"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

const agentName = "coordinator"

// maxFreeTransfers is the ruleset cap on banked free transfers.
const maxFreeTransfers = 5

// Coordinator runs the full weekly decision: predictions, transfer
// optimization, chip arbitration, lineup selection, validation, draft
// persistence and announcement. It is the only writer of draft_team.
type Coordinator struct {
	repo      *storage.Repository
	bus       *events.Bus
	predictor optimizer.Predictor
	advisor   *optimizer.Advisor
	announcer *llm.Announcer
	horizon   int
	logger    *logrus.Logger
}

func New(repo *storage.Repository, bus *events.Bus, predictor optimizer.Predictor,
	advisor *optimizer.Advisor, announcer *llm.Announcer, horizon int, logger *logrus.Logger) *Coordinator {
	if horizon < 1 {
		horizon = optimizer.DefaultHorizon
	}
	return &Coordinator{
		repo:      repo,
		bus:       bus,
		predictor: predictor,
		advisor:   advisor,
		announcer: announcer,
		horizon:   horizon,
		logger:    logger,
	}
}

func (c *Coordinator) Name() string { return agentName }

func (c *Coordinator) Kinds() []events.Kind {
	return []events.Kind{
		events.KindGameweekPlanning,
		events.KindTeamSelectionRequested,
		events.KindDecisionRequired,
		events.KindGameweekStarted,
	}
}

func (c *Coordinator) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Kind {
	case events.KindGameweekPlanning:
		var payload events.GameweekPlanningPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		return c.RunSelection(ctx, payload.Gameweek, "planning-"+payload.Trigger, "")

	case events.KindTeamSelectionRequested:
		var payload events.SelectionRequestedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		return c.RunSelection(ctx, payload.Gameweek, "requested", "")

	case events.KindDecisionRequired:
		var payload events.DecisionRequiredPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		return c.RunSelection(ctx, payload.Gameweek, payload.Reason, payload.Posture)

	case events.KindGameweekStarted:
		var payload events.GameweekStartedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return err
		}
		return c.promoteDraft(ctx, payload.Gameweek)
	}
	return nil
}

// RunSelection executes the weekly decision for one gameweek. Re-running
// for the same gameweek overwrites the previous draft; only the latest
// before the deadline is authoritative.
func (c *Coordinator) RunSelection(ctx context.Context, gameweek int, trigger, posture string) error {
	log := c.logger.WithFields(logrus.Fields{
		"agent":    agentName,
		"gameweek": gameweek,
		"trigger":  trigger,
	})
	log.Info("Running team selection")

	squad, err := c.loadSquad(ctx)
	if err != nil {
		log.WithError(err).Error("No usable squad, selection aborted")
		c.notifyError(ctx, gameweek, fmt.Sprintf("selection for GW%d aborted: %v", gameweek, err))
		return nil
	}

	matrix := optimizer.BuildMatrix(ctx, c.predictor, gameweek, c.horizon, c.logger)

	pool, err := c.repo.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load player pool: %w", err)
	}

	var chip *optimizer.ChipAdvice
	if c.advisor != nil {
		chip, err = c.advisor.Recommend(ctx, squad, pool, matrix, gameweek)
		if err != nil {
			log.WithError(err).Warn("Chip advisor unavailable, proceeding without")
			chip = nil
		}
	}

	plan := optimizer.OptimizeTransfers(squad, pool, matrix, chip)
	log.WithFields(logrus.Fields{
		"action":    plan.Action,
		"rationale": plan.Rationale,
	}).Info("Transfer plan decided")

	working, transfers, chipPlayed, err := c.applyPlan(ctx, squad, pool, matrix, plan, gameweek)
	if err != nil {
		log.WithError(err).Error("Failed to apply transfer plan")
		c.notifyError(ctx, gameweek, fmt.Sprintf("selection for GW%d failed: %v", gameweek, err))
		return nil
	}

	xp := weekPoints(working, matrix)
	lineup, err := optimizer.ChooseLineup(working, xp)
	if err != nil {
		log.WithError(err).Error("Failed to choose a lineup")
		c.notifyError(ctx, gameweek, fmt.Sprintf("selection for GW%d failed: %v", gameweek, err))
		return nil
	}

	if violations := c.validate(working, lineup); len(violations) > 0 {
		log.WithField("violations", violations).Error("Selection failed validation, draft not written")
		c.notifyError(ctx, gameweek,
			fmt.Sprintf("selection for GW%d rejected: %s", gameweek, strings.Join(violations, "; ")))
		return nil
	}

	if err := c.repo.SaveDraft(ctx, gameweek, draftSlots(gameweek, lineup, xp, chipPlayed)); err != nil {
		return fmt.Errorf("failed to persist draft: %w", err)
	}

	announcement := c.announce(ctx, gameweek, lineup, transfers, chipPlayed, posture, plan.Rationale)

	if err := c.publishSelection(ctx, gameweek, lineup, xp, transfers, chipPlayed, plan, announcement); err != nil {
		return err
	}
	c.recordDecisions(ctx, gameweek, lineup, xp, transfers, chipPlayed, plan, announcement)

	log.WithFields(logrus.Fields{
		"formation": lineup.Formation.String(),
		"captain":   lineup.CaptainID,
		"transfers": len(transfers),
		"chip":      string(chipPlayed),
	}).Info("Team selected")
	return nil
}

// executedTransfer is one swap applied to the working squad this week.
type executedTransfer struct {
	Out     models.SquadPlayer
	In      models.SquadPlayer
	Gain    float64
	HitCost int
	Free    bool
}

// applyPlan turns the optimizer verdict into a concrete working squad.
// Chip plays route to the squad builders; a make applies the best swap.
func (c *Coordinator) applyPlan(ctx context.Context, squad *models.Squad, pool []models.Player,
	m *optimizer.Matrix, plan *optimizer.TransferPlan, gameweek int) (*models.Squad, []executedTransfer, models.Chip, error) {

	switch plan.Action {
	case optimizer.ActionUseChip:
		if plan.Chip == nil {
			return nil, nil, "", fmt.Errorf("chip action without chip advice")
		}
		switch plan.Chip.Chip {
		case models.ChipFreeHit:
			rebuilt, err := optimizer.BuildFreeHitSquad(pool, m)
			if err != nil {
				return nil, nil, "", fmt.Errorf("free hit build failed: %w", err)
			}
			rebuilt.FreeTransfers = squad.FreeTransfers
			return rebuilt, nil, models.ChipFreeHit, nil
		case models.ChipWildcard:
			rebuilt, err := optimizer.BuildWildcardSquad(squad, pool, m)
			if err != nil {
				return nil, nil, "", fmt.Errorf("wildcard build failed: %w", err)
			}
			rebuilt.FreeTransfers = squad.FreeTransfers
			return rebuilt, nil, models.ChipWildcard, nil
		default:
			// Bench boost and triple captain keep the squad as-is.
			return cloneSquad(squad), nil, plan.Chip.Chip, nil
		}

	case optimizer.ActionMake:
		if plan.Best == nil {
			return nil, nil, "", fmt.Errorf("make action without a transfer option")
		}
		working := cloneSquad(squad)
		opt := plan.Best

		in := models.SquadPlayer{
			PlayerID: opt.InID,
			Name:     opt.InName,
			Position: opt.Out.Position,
			TeamID:   opt.InTeamID,
			NowCost:  opt.InCost,
		}
		if p := findPlayer(pool, opt.InID); p != nil {
			in.Code = p.Code
		}

		budget := opt.Out.SellingPrice + working.Bank
		if ok, violations := rules.ValidateTransfer(opt.Out, in, working, budget); !ok {
			return nil, nil, "", fmt.Errorf("transfer rejected: %s", joinViolations(violations))
		}
		if err := working.ApplyTransfer(opt.Out.PlayerID, in); err != nil {
			return nil, nil, "", err
		}

		free := squad.FreeTransfers > 0
		transfer := executedTransfer{
			Out:     opt.Out,
			In:      in,
			Gain:    opt.AvgGain(),
			HitCost: plan.HitCost,
			Free:    free,
		}
		if free {
			working.FreeTransfers--
		}
		return working, []executedTransfer{transfer}, "", nil
	}

	// Roll: keep the squad untouched and bank the free transfer.
	return cloneSquad(squad), nil, "", nil
}

func (c *Coordinator) loadSquad(ctx context.Context) (*models.Squad, error) {
	slots, err := c.repo.GetMyTeam(ctx)
	if err != nil {
		return nil, err
	}
	if len(slots) != models.SquadSize {
		return nil, fmt.Errorf("squad holds %d players, need %d", len(slots), models.SquadSize)
	}
	state, err := c.repo.GetTeamState(ctx)
	if err != nil {
		return nil, err
	}

	squad := &models.Squad{
		Players:       make([]models.SquadPlayer, 0, len(slots)),
		Bank:          state.Bank,
		FreeTransfers: state.FreeTransfers,
	}
	for _, slot := range slots {
		squad.Players = append(squad.Players, models.SquadPlayer{
			PlayerID:      slot.PlayerID,
			Code:          slot.Code,
			Name:          slot.Name,
			Position:      models.Position(slot.ElementType),
			TeamID:        slot.TeamID,
			PurchasePrice: slot.PurchasePrice,
			SellingPrice:  slot.SellingPrice,
			NowCost:       slot.SellingPrice,
		})
	}
	return squad, nil
}

func (c *Coordinator) validate(squad *models.Squad, lineup *models.Lineup) []string {
	var messages []string
	// The budget available to a squad is everything spent on it plus the
	// bank, not the bank alone.
	if ok, violations := rules.ValidateSquad(squad.Players, squad.PurchaseTotal()+squad.Bank); !ok {
		messages = append(messages, joinViolations(violations))
	}
	if ok, violations := rules.ValidateStartingEleven(lineup.Starting, &lineup.Formation); !ok {
		messages = append(messages, joinViolations(violations))
	}
	return messages
}

func (c *Coordinator) announce(ctx context.Context, gameweek int, lineup *models.Lineup,
	transfers []executedTransfer, chip models.Chip, posture, rationale string) string {

	sel := llm.Selection{
		Gameweek:  gameweek,
		Captain:   nameOf(lineup.Starting, lineup.CaptainID),
		Vice:      nameOf(lineup.Starting, lineup.ViceID),
		Chip:      string(chip),
		Posture:   posture,
		Reasoning: rationale,
	}
	for _, t := range transfers {
		sel.Transfers = append(sel.Transfers, llm.TransferLine{
			Out:     t.Out.Name,
			In:      t.In.Name,
			InCost:  float64(t.In.NowCost) / 10.0,
			OutSold: float64(t.Out.SellingPrice) / 10.0,
		})
		sel.HitCost += t.HitCost
	}
	if c.announcer == nil {
		return llm.TemplateAnnouncement(sel)
	}
	return c.announcer.Announce(ctx, sel)
}

func (c *Coordinator) publishSelection(ctx context.Context, gameweek int, lineup *models.Lineup,
	xp map[int]float64, transfers []executedTransfer, chip models.Chip,
	plan *optimizer.TransferPlan, announcement string) error {

	captain := pickRef(lineup.Starting, lineup.CaptainID, xp)
	vice := pickRef(lineup.Starting, lineup.ViceID, xp)

	selected := events.TeamSelectedPayload{
		Gameweek:     gameweek,
		Formation:    lineup.Formation.String(),
		Starting:     pickRefs(lineup.Starting, xp, false),
		Bench:        pickRefs(lineup.Bench, xp, true),
		Captain:      captain,
		ViceCaptain:  vice,
		Transfers:    len(transfers),
		HitCost:      totalHits(transfers),
		Chip:         string(chip),
		ExpectedTot:  expectedTotal(lineup, xp, chip),
		Announcement: announcement,
	}
	if err := c.publish(ctx, events.KindTeamSelected, selected, events.WithPriority(events.PriorityHigh)); err != nil {
		return err
	}

	for _, t := range transfers {
		payload := events.TransferPayload{
			Gameweek: gameweek,
			OutID:    t.Out.PlayerID,
			OutName:  t.Out.Name,
			InID:     t.In.PlayerID,
			InName:   t.In.Name,
			Gain:     t.Gain,
			HitCost:  t.HitCost,
			Free:     t.Free,
		}
		if err := c.publish(ctx, events.KindTeamTransferExecuted, payload); err != nil {
			return err
		}
	}

	if err := c.publish(ctx, events.KindTeamCaptainSelected, events.CaptainSelectedPayload{
		Gameweek: gameweek,
		Captain:  captain,
		Vice:     vice,
	}); err != nil {
		return err
	}

	if chip != "" {
		if err := c.publish(ctx, events.KindTeamChipUsed, events.ChipUsedPayload{
			Gameweek: gameweek,
			Chip:     string(chip),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) recordDecisions(ctx context.Context, gameweek int, lineup *models.Lineup,
	xp map[int]float64, transfers []executedTransfer, chip models.Chip,
	plan *optimizer.TransferPlan, announcement string) {

	selection := map[string]interface{}{
		"formation":    lineup.Formation.String(),
		"captain_id":   lineup.CaptainID,
		"vice_id":      lineup.ViceID,
		"chip":         string(chip),
		"transfers":    len(transfers),
		"announcement": announcement,
	}
	c.record(ctx, gameweek, "team-selection", selection, plan.Rationale, expectedTotal(lineup, xp, chip))

	for _, t := range transfers {
		c.record(ctx, gameweek, "transfer", map[string]interface{}{
			"out_id":   t.Out.PlayerID,
			"out_name": t.Out.Name,
			"in_id":    t.In.PlayerID,
			"in_name":  t.In.Name,
			"hit_cost": t.HitCost,
			"free":     t.Free,
		}, plan.Rationale, t.Gain)
	}

	c.record(ctx, gameweek, "captain", map[string]interface{}{
		"captain_id":   lineup.CaptainID,
		"captain_name": nameOf(lineup.Starting, lineup.CaptainID),
		"vice_id":      lineup.ViceID,
		"vice_name":    nameOf(lineup.Starting, lineup.ViceID),
	}, fmt.Sprintf("highest expected points in the eleven (%.2f)", xp[lineup.CaptainID]), xp[lineup.CaptainID])
}

func (c *Coordinator) record(ctx context.Context, gameweek int, kind string,
	data map[string]interface{}, reasoning string, ev float64) {

	blob, err := json.Marshal(data)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode decision data")
		return
	}
	record := &models.DecisionRecord{
		Gameweek:      gameweek,
		Kind:          kind,
		Data:          datatypes.JSON(blob),
		Reasoning:     reasoning,
		ExpectedValue: ev,
		Agent:         agentName,
	}
	if err := c.repo.RecordDecision(ctx, record); err != nil {
		c.logger.WithError(err).WithField("kind", kind).Warn("Failed to record decision")
	}
}

func (c *Coordinator) notifyError(ctx context.Context, gameweek int, message string) {
	payload := events.NotificationPayload{
		Level:   "error",
		Title:   fmt.Sprintf("GW%d selection failed", gameweek),
		Message: message,
		Agent:   agentName,
	}
	if err := c.publish(ctx, events.KindNotificationError, payload, events.WithPriority(events.PriorityHigh)); err != nil {
		c.logger.WithError(err).Error("Failed to publish error notification")
	}
}

func (c *Coordinator) publish(ctx context.Context, kind events.Kind, payload interface{}, opts ...events.Option) error {
	opts = append(opts, events.WithSource(agentName))
	event, err := events.New(kind, payload, opts...)
	if err != nil {
		return err
	}
	if _, err := c.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}

func draftSlots(gameweek int, lineup *models.Lineup, xp map[int]float64, chip models.Chip) []models.DraftSlot {
	slots := make([]models.DraftSlot, 0, models.SquadSize)
	slot := 1
	for _, p := range lineup.Starting {
		slots = append(slots, models.DraftSlot{
			Gameweek:       gameweek,
			Slot:           slot,
			PlayerID:       p.PlayerID,
			Code:           p.Code,
			Name:           p.Name,
			ElementType:    int(p.Position),
			TeamID:         p.TeamID,
			IsCaptain:      p.PlayerID == lineup.CaptainID,
			IsVice:         p.PlayerID == lineup.ViceID,
			ExpectedPoints: xp[p.PlayerID],
			Formation:      lineup.Formation.String(),
			Chip:           string(chip),
		})
		slot++
	}
	for _, p := range lineup.Bench {
		slots = append(slots, models.DraftSlot{
			Gameweek:       gameweek,
			Slot:           slot,
			PlayerID:       p.PlayerID,
			Code:           p.Code,
			Name:           p.Name,
			ElementType:    int(p.Position),
			TeamID:         p.TeamID,
			ExpectedPoints: xp[p.PlayerID],
			Formation:      lineup.Formation.String(),
			Chip:           string(chip),
		})
		slot++
	}
	return slots
}

func weekPoints(squad *models.Squad, m *optimizer.Matrix) map[int]float64 {
	xp := make(map[int]float64, len(squad.Players))
	for _, p := range squad.Players {
		xp[p.PlayerID] = m.At(p.PlayerID, 0)
	}
	return xp
}

func expectedTotal(lineup *models.Lineup, xp map[int]float64, chip models.Chip) float64 {
	total := 0.0
	for _, p := range lineup.Starting {
		total += xp[p.PlayerID]
	}
	total += xp[lineup.CaptainID] // captain doubled
	if chip == models.ChipTripleCaptain {
		total += xp[lineup.CaptainID]
	}
	if chip == models.ChipBenchBoost {
		for _, p := range lineup.Bench {
			total += xp[p.PlayerID]
		}
	}
	return total
}

func pickRefs(players []models.SquadPlayer, xp map[int]float64, bench bool) []events.PickRef {
	refs := make([]events.PickRef, 0, len(players))
	for i, p := range players {
		ref := events.PickRef{
			PlayerID: p.PlayerID,
			Name:     p.Name,
			Position: p.Position.String(),
			XP:       xp[p.PlayerID],
		}
		if bench {
			ref.Bench = i + 1
		}
		refs = append(refs, ref)
	}
	return refs
}

func totalHits(transfers []executedTransfer) int {
	total := 0
	for _, t := range transfers {
		total += t.HitCost
	}
	return total
}

func pickRef(players []models.SquadPlayer, id int, xp map[int]float64) events.PickRef {
	for _, p := range players {
		if p.PlayerID == id {
			return events.PickRef{
				PlayerID: p.PlayerID,
				Name:     p.Name,
				Position: p.Position.String(),
				XP:       xp[p.PlayerID],
			}
		}
	}
	return events.PickRef{PlayerID: id}
}

func nameOf(players []models.SquadPlayer, id int) string {
	for _, p := range players {
		if p.PlayerID == id {
			return p.Name
		}
	}
	return fmt.Sprintf("player %d", id)
}

func cloneSquad(squad *models.Squad) *models.Squad {
	clone := &models.Squad{
		Players:       make([]models.SquadPlayer, len(squad.Players)),
		Bank:          squad.Bank,
		FreeTransfers: squad.FreeTransfers,
	}
	copy(clone.Players, squad.Players)
	return clone
}

func findPlayer(pool []models.Player, id int) *models.Player {
	for i := range pool {
		if pool[i].ID == id {
			return &pool[i]
		}
	}
	return nil
}

func joinViolations(violations []rules.Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.Message)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
