package optimizer

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Predictor is the slice of the prediction service the optimizers need.
type Predictor interface {
	PredictAll(ctx context.Context, gameweek int, excludeUnavailable bool) (map[int]float64, error)
}

// Matrix holds expected points per player across a horizon of gameweeks
// starting at Start. A player or gameweek the predictor could not cover
// reads as 0, which naturally sinks them in every ranking.
type Matrix struct {
	Start   int
	Horizon int
	points  map[int][]float64
}

// BuildMatrix invokes the predictor once per horizon gameweek. A failed
// gameweek leaves its column at zero rather than failing the whole build.
func BuildMatrix(ctx context.Context, p Predictor, start, horizon int, logger *logrus.Logger) *Matrix {
	if horizon < 1 {
		horizon = 1
	}
	m := &Matrix{
		Start:   start,
		Horizon: horizon,
		points:  make(map[int][]float64),
	}
	for offset := 0; offset < horizon; offset++ {
		predictions, err := p.PredictAll(ctx, start+offset, true)
		if err != nil {
			logger.WithError(err).WithField("gameweek", start+offset).
				Warn("Prediction unavailable for horizon gameweek; treating as zero")
			continue
		}
		for id, xp := range predictions {
			col, ok := m.points[id]
			if !ok {
				col = make([]float64, horizon)
				m.points[id] = col
			}
			col[offset] = xp
		}
	}
	return m
}

// At returns the expected points for one player at a horizon offset.
func (m *Matrix) At(id, offset int) float64 {
	col, ok := m.points[id]
	if !ok || offset < 0 || offset >= len(col) {
		return 0
	}
	return col[offset]
}

// Total sums a player's expected points across the horizon.
func (m *Matrix) Total(id int) float64 {
	total := 0.0
	for _, xp := range m.points[id] {
		total += xp
	}
	return total
}

// Avg is the per-gameweek mean across the horizon.
func (m *Matrix) Avg(id int) float64 {
	if m.Horizon == 0 {
		return 0
	}
	return m.Total(id) / float64(m.Horizon)
}

// Decayed sums expected points with a geometric decay on later gameweeks:
// the n-th gameweek after the target weighs decay^n.
func (m *Matrix) Decayed(id int, decay float64) float64 {
	total := 0.0
	weight := 1.0
	for _, xp := range m.points[id] {
		total += xp * weight
		weight *= decay
	}
	return total
}
