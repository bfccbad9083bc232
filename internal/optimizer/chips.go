package optimizer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
	"github.com/jolyonbrown/ron-clanker-sub001/internal/storage"
)

// chipThreshold is the minimum expected-value gain before a chip is worth
// announcing at all.
const chipThreshold = 4.0

// ChipAdvice is the best available chip play for a gameweek.
type ChipAdvice struct {
	Chip          models.Chip `json:"chip"`
	Gameweek      int         `json:"gameweek"`
	ExpectedValue float64     `json:"expected_value"`
	Reason        string      `json:"reason"`
}

// Advisor evaluates the available chip instances against the current squad
// and recommends the strongest play when one clears the threshold.
type Advisor struct {
	repo   *storage.Repository
	bus    *events.Bus
	logger *logrus.Logger
}

func NewAdvisor(repo *storage.Repository, bus *events.Bus, logger *logrus.Logger) *Advisor {
	return &Advisor{repo: repo, bus: bus, logger: logger}
}

// Recommend computes each available chip's expected value for the target
// gameweek. Returns nil when nothing clears the threshold. At most one chip
// plays per gameweek, so only the best survives.
func (a *Advisor) Recommend(ctx context.Context, squad *models.Squad, pool []models.Player, m *Matrix, gameweek int) (*ChipAdvice, error) {
	half := models.ChipHalf(gameweek)
	available, err := a.repo.AvailableChips(ctx, half)
	if err != nil {
		return nil, fmt.Errorf("chip advisor: load chip state: %w", err)
	}
	if len(available) == 0 {
		return nil, nil
	}

	lineup, err := ChooseLineup(squad, currentWeekXP(squad, m))
	if err != nil {
		return nil, fmt.Errorf("chip advisor: current lineup: %w", err)
	}
	currentGW := lineupXP(lineup, m)

	var best *ChipAdvice
	for _, chip := range available {
		advice := a.evaluate(chip, squad, pool, m, gameweek, lineup, currentGW)
		if advice == nil || advice.ExpectedValue < chipThreshold {
			continue
		}
		if best == nil || advice.ExpectedValue > best.ExpectedValue {
			best = advice
		}
	}
	if best == nil {
		return nil, nil
	}

	if err := a.announce(ctx, best); err != nil {
		a.logger.WithError(err).Warn("Failed to announce chip recommendation")
	}
	return best, nil
}

func (a *Advisor) evaluate(chip models.Chip, squad *models.Squad, pool []models.Player, m *Matrix,
	gameweek int, lineup *models.Lineup, currentGW float64) *ChipAdvice {

	switch chip {
	case models.ChipBenchBoost:
		bench := 0.0
		for _, p := range lineup.Bench {
			bench += m.At(p.PlayerID, 0)
		}
		return &ChipAdvice{
			Chip:          chip,
			Gameweek:      gameweek,
			ExpectedValue: bench,
			Reason:        fmt.Sprintf("bench projects %.1f points this week", bench),
		}

	case models.ChipTripleCaptain:
		captain := m.At(lineup.CaptainID, 0)
		return &ChipAdvice{
			Chip:          chip,
			Gameweek:      gameweek,
			ExpectedValue: captain,
			Reason:        fmt.Sprintf("captain projects %.1f extra points tripled", captain),
		}

	case models.ChipFreeHit:
		rebuilt, err := BuildFreeHitSquad(pool, m)
		if err != nil {
			a.logger.WithError(err).Warn("Free hit build failed during chip evaluation")
			return nil
		}
		rebuiltLineup, err := ChooseLineup(rebuilt, currentWeekXP(rebuilt, m))
		if err != nil {
			return nil
		}
		gain := lineupXP(rebuiltLineup, m) - currentGW
		return &ChipAdvice{
			Chip:          chip,
			Gameweek:      gameweek,
			ExpectedValue: gain,
			Reason:        fmt.Sprintf("one-week rebuild projects %.1f points over the current eleven", gain),
		}

	case models.ChipWildcard:
		rebuilt, err := BuildWildcardSquad(squad, pool, m)
		if err != nil {
			a.logger.WithError(err).Warn("Wildcard build failed during chip evaluation")
			return nil
		}
		gain := squadDecayedXP(rebuilt, m) - squadDecayedXP(squad, m)
		return &ChipAdvice{
			Chip:          chip,
			Gameweek:      gameweek,
			ExpectedValue: gain,
			Reason:        fmt.Sprintf("rebuild projects %.1f decayed points over the horizon", gain),
		}
	}
	return nil
}

func (a *Advisor) announce(ctx context.Context, advice *ChipAdvice) error {
	event, err := events.New(events.KindChipRecommendation, events.ChipRecommendationPayload{
		Gameweek:      advice.Gameweek,
		Chip:          string(advice.Chip),
		ExpectedValue: advice.ExpectedValue,
		Reason:        advice.Reason,
	}, events.WithSource("chip-advisor"))
	if err != nil {
		return err
	}
	if _, err := a.bus.Publish(ctx, event); err != nil {
		return err
	}

	blob, err := json.Marshal(advice)
	if err != nil {
		return err
	}
	record := &models.DecisionRecord{
		Gameweek:      advice.Gameweek,
		Kind:          "chip",
		Data:          datatypes.JSON(blob),
		Reasoning:     advice.Reason,
		ExpectedValue: advice.ExpectedValue,
		Agent:         "chip-advisor",
	}
	if err := a.repo.RecordDecision(ctx, record); err != nil {
		a.logger.WithError(err).Warn("Failed to record chip recommendation")
	}
	return nil
}

func currentWeekXP(squad *models.Squad, m *Matrix) map[int]float64 {
	xp := make(map[int]float64, len(squad.Players))
	for _, p := range squad.Players {
		xp[p.PlayerID] = m.At(p.PlayerID, 0)
	}
	return xp
}

func lineupXP(lineup *models.Lineup, m *Matrix) float64 {
	total := 0.0
	for _, p := range lineup.Starting {
		total += m.At(p.PlayerID, 0)
	}
	// The captain scores twice.
	total += m.At(lineup.CaptainID, 0)
	return total
}

func squadDecayedXP(squad *models.Squad, m *Matrix) float64 {
	total := 0.0
	for _, p := range squad.Players {
		total += m.Decayed(p.PlayerID, WildcardDecay)
	}
	return total
}
