package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/cache"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/gateway"
)

// Trigger offsets before the deadline at which planning events fire. Each
// fires when hours-until is within ±1h of the offset, so a trigger can fire
// on two successive hourly checks; consumers dedupe on (gameweek, trigger).
var planningOffsets = []float64{48, 24, 6}

const triggerWindow = 1.0 // hours either side of an offset

// seasonTTL keeps once-only dedup keys alive for the rest of the season.
const seasonTTL = 300 * 24 * time.Hour

// Deadline describes the next gameweek deadline.
type Deadline struct {
	Gameweek   int       `json:"gameweek"`
	Deadline   time.Time `json:"deadline"`
	HoursUntil float64   `json:"hours_until"`
}

// TriggerStatus is one planning offset's state at a point in time.
type TriggerStatus struct {
	Label  string  `json:"label"` // "48h", "24h", "6h"
	Offset float64 `json:"offset"`
	Active bool    `json:"active"`
}

// PlanningStatus is the full trigger picture for the next deadline.
type PlanningStatus struct {
	Gameweek     int             `json:"gameweek"`
	Deadline     time.Time       `json:"deadline"`
	HoursUntil   float64         `json:"hours_until"`
	Triggers     []TriggerStatus `json:"triggers"`
	HoursToNext  float64         `json:"hours_to_next_trigger"`
	PastDeadline bool            `json:"past_deadline"`
}

// Scheduler converts calendar time into bus events. It owns no mutable
// domain state; an external cron drives its operations and event consumers
// own idempotency inside the ±1h window.
type Scheduler struct {
	gateway *gateway.Service
	cache   cache.Store
	bus     *events.Bus
	logger  *logrus.Logger
	now     func() time.Time
}

// New wires a scheduler.
func New(gw *gateway.Service, store cache.Store, bus *events.Bus, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		gateway: gw,
		cache:   store,
		bus:     bus,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// NextDeadline returns the next unfinished gameweek's deadline, or nil when
// none remains (season over or upstream unavailable). The gameweek list
// comes from the gateway's cached bootstrap.
func (s *Scheduler) NextDeadline(ctx context.Context) *Deadline {
	bootstrap := s.gateway.FetchBootstrap(ctx, false)
	now := s.now()
	for _, gw := range bootstrap.Events {
		if gw.Finished || !gw.DeadlineTime.After(now) {
			continue
		}
		return &Deadline{
			Gameweek:   gw.ID,
			Deadline:   gw.DeadlineTime,
			HoursUntil: gw.DeadlineTime.Sub(now).Hours(),
		}
	}
	return nil
}

// Status reports which planning triggers are active at the given time and
// the hours until the next one.
func (s *Scheduler) Status(ctx context.Context, now time.Time) *PlanningStatus {
	deadline := s.NextDeadline(ctx)
	if deadline == nil {
		return nil
	}

	hoursUntil := deadline.Deadline.Sub(now).Hours()
	status := &PlanningStatus{
		Gameweek:     deadline.Gameweek,
		Deadline:     deadline.Deadline,
		HoursUntil:   hoursUntil,
		PastDeadline: hoursUntil < 0,
		HoursToNext:  math.Inf(1),
	}

	for _, offset := range planningOffsets {
		active := math.Abs(hoursUntil-offset) <= triggerWindow
		status.Triggers = append(status.Triggers, TriggerStatus{
			Label:  triggerLabel(offset),
			Offset: offset,
			Active: active,
		})
		if until := hoursUntil - offset; until > 0 && until < status.HoursToNext {
			status.HoursToNext = until
		}
	}
	if math.IsInf(status.HoursToNext, 1) {
		status.HoursToNext = 0
	}
	return status
}

// CheckDeadlines publishes a gameweek.planning event for each active
// trigger, a critical deadline_approaching inside two hours, and a deduped
// gameweek.started once the deadline has just passed.
func (s *Scheduler) CheckDeadlines(ctx context.Context) error {
	now := s.now()
	status := s.Status(ctx, now)
	if status == nil {
		s.logger.Debug("No upcoming deadline; nothing to check")
		return nil
	}

	for _, trigger := range status.Triggers {
		if !trigger.Active {
			continue
		}
		priority := events.PriorityNormal
		if trigger.Label == "6h" {
			priority = events.PriorityHigh
		}
		payload := events.GameweekPlanningPayload{
			Gameweek: status.Gameweek,
			Trigger:  trigger.Label,
			Deadline: status.Deadline,
		}
		if err := s.publish(ctx, events.KindGameweekPlanning, payload, priority); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"gameweek": status.Gameweek,
			"trigger":  trigger.Label,
		}).Info("Planning trigger fired")
	}

	if status.HoursUntil > 0 && status.HoursUntil <= 2 {
		payload := events.DeadlineApproachingPayload{
			Gameweek:  status.Gameweek,
			Deadline:  status.Deadline,
			HoursLeft: status.HoursUntil,
		}
		if err := s.publish(ctx, events.KindGameweekDeadlineApproaching, payload, events.PriorityCritical); err != nil {
			return err
		}
	}

	return s.checkGameweekStarted(ctx, now)
}

// checkGameweekStarted publishes gameweek.started once when the most recent
// deadline passed within the last hour. SetNX dedupes across invocations.
func (s *Scheduler) checkGameweekStarted(ctx context.Context, now time.Time) error {
	bootstrap := s.gateway.FetchBootstrap(ctx, false)
	for _, gw := range bootstrap.Events {
		since := now.Sub(gw.DeadlineTime)
		if since < 0 || since > time.Hour {
			continue
		}
		key := fmt.Sprintf("sched:started:gw%d", gw.ID)
		won, err := s.cache.SetNX(ctx, key, now, seasonTTL)
		if err != nil {
			s.logger.WithError(err).Warn("Started dedup check failed; skipping to avoid duplicates")
			return nil
		}
		if !won {
			return nil
		}
		payload := events.GameweekStartedPayload{Gameweek: gw.ID, Deadline: gw.DeadlineTime}
		if err := s.publish(ctx, events.KindGameweekStarted, payload, events.PriorityHigh); err != nil {
			return err
		}
		s.logger.WithField("gameweek", gw.ID).Info("Gameweek started")
	}
	return nil
}

// DailyRefresh requests a full data refresh.
func (s *Scheduler) DailyRefresh(ctx context.Context) error {
	payload := events.DataRefreshRequestedPayload{Trigger: "scheduled-daily-refresh"}
	return s.publish(ctx, events.KindDataRefreshRequested, payload, events.PriorityNormal)
}

// PricePulse publishes a price.check tagged with the pulse phase ("pre"
// before the nightly price window, "post" after).
func (s *Scheduler) PricePulse(ctx context.Context, phase string) error {
	if phase != "pre" && phase != "post" {
		return fmt.Errorf("scheduler: unknown price pulse phase %q", phase)
	}
	return s.publish(ctx, events.KindPriceCheck, events.PriceCheckPayload{Phase: phase}, events.PriorityNormal)
}

// WeeklyReview publishes gameweek.completed for each newly finished
// gameweek, once per gameweek.
func (s *Scheduler) WeeklyReview(ctx context.Context) error {
	bootstrap := s.gateway.FetchBootstrap(ctx, false)
	for _, gw := range bootstrap.Events {
		if !gw.Finished || !gw.DataChecked {
			continue
		}
		key := fmt.Sprintf("sched:completed:gw%d", gw.ID)
		won, err := s.cache.SetNX(ctx, key, s.now(), seasonTTL)
		if err != nil {
			s.logger.WithError(err).Warn("Completed dedup check failed; skipping")
			return nil
		}
		if !won {
			continue
		}
		payload := events.GameweekCompletedPayload{Gameweek: gw.ID}
		if err := s.publish(ctx, events.KindGameweekCompleted, payload, events.PriorityHigh); err != nil {
			return err
		}
		s.logger.WithField("gameweek", gw.ID).Info("Gameweek completed")
	}
	return nil
}

// HealthPulse announces the scheduler is alive.
func (s *Scheduler) HealthPulse(ctx context.Context) error {
	return s.publish(ctx, events.KindSystemHealthCheck, events.HealthCheckPayload{At: s.now()}, events.PriorityLow)
}

func (s *Scheduler) publish(ctx context.Context, kind events.Kind, payload interface{}, priority events.Priority) error {
	event, err := events.New(kind, payload,
		events.WithSource("scheduler"),
		events.WithPriority(priority),
	)
	if err != nil {
		return err
	}
	if _, err := s.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("scheduler publish %s: %w", kind, err)
	}
	return nil
}

func triggerLabel(offset float64) string {
	return fmt.Sprintf("%dh", int(offset))
}
