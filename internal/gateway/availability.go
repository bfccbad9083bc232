package gateway

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/providers"
)

// availabilitySnapshotKey holds the previous per-player status view used to
// detect transitions between refreshes. No TTL: it lives until overwritten.
const availabilitySnapshotKey = "avail:prev"

type availEntry struct {
	Status string `json:"status"`
	Chance *int   `json:"chance,omitempty"`
	Name   string `json:"name"`
}

func (s *Service) loadAvailabilitySnapshot(ctx context.Context) map[int]availEntry {
	snapshot := make(map[int]availEntry)
	if hit, err := s.cache.Get(ctx, availabilitySnapshotKey, &snapshot); err != nil || !hit {
		return nil
	}
	return snapshot
}

func (s *Service) saveAvailabilitySnapshot(ctx context.Context, elements []providers.ElementDTO) {
	snapshot := make(map[int]availEntry, len(elements))
	for _, e := range elements {
		snapshot[e.ID] = availEntry{Status: e.Status, Chance: e.ChanceOfPlayingNextRound, Name: e.WebName}
	}
	if err := s.cache.Set(ctx, availabilitySnapshotKey, snapshot, 0); err != nil {
		s.logger.WithError(err).Warn("Failed to store availability snapshot")
	}
}

// publishAvailabilityChanges diffs the previous snapshot against the fresh
// bootstrap and announces status transitions. A nil previous snapshot (first
// run, cache wipe) produces nothing: there is no baseline to diff.
func (s *Service) publishAvailabilityChanges(ctx context.Context, prev map[int]availEntry, elements []providers.ElementDTO, correlationID string) {
	if prev == nil {
		return
	}

	for _, e := range elements {
		before, known := prev[e.ID]
		if !known || before.Status == e.Status {
			s.checkChanceDrop(ctx, before, known, &e, correlationID)
			continue
		}

		payload := events.PlayerStatusPayload{
			PlayerID:        e.ID,
			Name:            e.WebName,
			Status:          e.Status,
			PreviousStatus:  before.Status,
			ChanceOfPlaying: e.ChanceOfPlayingNextRound,
			News:            e.News,
		}

		var kind, intelKind events.Kind
		switch models.Availability(e.Status) {
		case models.StatusInjured, models.StatusUnavailable:
			kind, intelKind = events.KindPlayerInjury, events.KindIntelInjury
		case models.StatusSuspended:
			kind, intelKind = events.KindPlayerSuspended, events.KindIntelSuspension
		case models.StatusDoubtful:
			kind, intelKind = events.KindPlayerInjury, events.KindIntelInjury
		case models.StatusAvailable:
			kind = events.KindPlayerReturning
		default:
			continue
		}

		s.publishStatus(ctx, kind, payload, correlationID)
		if intelKind != "" {
			s.publishStatus(ctx, intelKind, events.IntelligencePayload{
				PlayerID: e.ID,
				Name:     e.WebName,
				Type:     string(intelKind),
				Detail:   e.News,
				Severity: e.Status,
			}, correlationID)
		}

		s.logger.WithFields(logrus.Fields{
			"player": e.WebName,
			"from":   before.Status,
			"to":     e.Status,
		}).Info("Player availability changed")
	}
}

// checkChanceDrop publishes a rotation-risk signal when a nominally fit
// player's chance of playing falls to 50% or below.
func (s *Service) checkChanceDrop(ctx context.Context, before availEntry, known bool, e *providers.ElementDTO, correlationID string) {
	if !known || e.ChanceOfPlayingNextRound == nil {
		return
	}
	now := *e.ChanceOfPlayingNextRound
	if now > 50 {
		return
	}
	if before.Chance != nil && *before.Chance <= 50 {
		return // already flagged
	}
	s.publishStatus(ctx, events.KindIntelRotationRisk, events.IntelligencePayload{
		PlayerID: e.ID,
		Name:     e.WebName,
		Type:     string(events.KindIntelRotationRisk),
		Detail:   e.News,
		Severity: "warning",
	}, correlationID)
}

func (s *Service) publishStatus(ctx context.Context, kind events.Kind, payload interface{}, correlationID string) {
	opts := []events.Option{events.WithSource(s.Name()), events.WithPriority(events.PriorityHigh)}
	if correlationID != "" {
		opts = append(opts, events.WithCorrelation(correlationID))
	}
	event, err := events.New(kind, payload, opts...)
	if err != nil {
		s.logger.WithError(err).WithField("kind", kind).Error("Failed to build status event")
		return
	}
	if _, err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to publish status event")
	}
}
