package prediction

import (
	"context"
	"math"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/models"
)

// PriceCall is one classified price move.
type PriceCall struct {
	PlayerID     int     `json:"player_id"`
	Name         string  `json:"name"`
	Label        string  `json:"label"` // rise, fall, hold
	Confidence   float64 `json:"confidence"`
	NetTransfers int     `json:"net_transfers"`
}

const (
	// A player's threshold scales with ownership: widely-held players
	// need far more net transfers to move.
	priceBaseThreshold     = 50000.0
	priceOwnershipPerPoint = 8000.0
	priceHoldConfidence    = 0.55
	priceLogisticSteepness = 3.0
)

// PredictPriceChanges classifies each player's imminent price move from
// net event-transfer momentum. Confidence is a logistic over how far the
// momentum sits past the ownership-scaled threshold.
func (s *Service) PredictPriceChanges(ctx context.Context, playerIDs []int) (map[int]PriceCall, error) {
	out := make(map[int]PriceCall, len(playerIDs))
	for _, id := range playerIDs {
		player, err := s.repo.GetPlayer(ctx, id)
		if err != nil {
			out[id] = PriceCall{PlayerID: id, Label: "hold", Confidence: priceHoldConfidence}
			continue
		}
		out[id] = classifyPriceMove(player)
	}
	return out, nil
}

func classifyPriceMove(p *models.Player) PriceCall {
	net := p.TransfersInEvent - p.TransfersOutEvent
	threshold := priceBaseThreshold + p.SelectedByPercent*priceOwnershipPerPoint

	// Ratio > 1 means momentum has cleared the threshold in either
	// direction. The logistic maps that margin onto [0.5, 1).
	ratio := float64(net) / threshold
	magnitude := math.Abs(ratio)
	confidence := 1.0 / (1.0 + math.Exp(-priceLogisticSteepness*(magnitude-1.0)))

	call := PriceCall{
		PlayerID:     p.ID,
		Name:         p.WebName,
		NetTransfers: net,
		Confidence:   confidence,
	}

	switch {
	case ratio >= 1.0:
		call.Label = "rise"
	case ratio <= -1.0:
		call.Label = "fall"
	default:
		call.Label = "hold"
		// A quiet player is a confident hold; one near the threshold
		// is not.
		call.Confidence = priceHoldConfidence + (1.0-magnitude)*0.4
		if call.Confidence > 0.95 {
			call.Confidence = 0.95
		}
		if call.Confidence < priceHoldConfidence {
			call.Confidence = priceHoldConfidence
		}
	}
	return call
}
