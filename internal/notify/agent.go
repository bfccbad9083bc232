package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jolyonbrown/ron-clanker-sub001/internal/events"
)

const agentName = "notifier"

const webhookTimeout = 10 * time.Second

// message is the Slack-compatible webhook body. Team selections get block
// formatting; everything else is plain text.
type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks,omitempty"`
}

type block struct {
	Type string     `json:"type"`
	Text *blockText `json:"text,omitempty"`
}

type blockText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Agent posts noteworthy events to a webhook. Delivery is best effort:
// failures are logged and swallowed so a dead webhook can never stall the
// decision pipeline. An empty URL disables the agent entirely.
type Agent struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger
}

func New(url string, logger *logrus.Logger) *Agent {
	if url == "" {
		logger.WithField("agent", agentName).Warn("No webhook URL configured, notifications disabled")
	}
	return &Agent{
		url:        url,
		httpClient: &http.Client{Timeout: webhookTimeout},
		logger:     logger,
	}
}

// Enabled reports whether the agent will actually deliver anything.
func (a *Agent) Enabled() bool { return a.url != "" }

func (a *Agent) Name() string { return agentName }

func (a *Agent) Kinds() []events.Kind {
	return []events.Kind{
		events.KindTeamSelected,
		events.KindTeamChipUsed,
		events.KindChipRecommendation,
		events.KindNotificationInfo,
		events.KindNotificationWarning,
		events.KindNotificationError,
		events.KindPriceChangeDetected,
		events.KindGameweekDeadlineApproaching,
	}
}

func (a *Agent) HandleEvent(ctx context.Context, event *events.Event) error {
	if !a.Enabled() {
		return nil
	}
	msg, err := format(event)
	if err != nil {
		a.logger.WithError(err).WithField("kind", event.Kind).Warn("Unformattable event, skipping notification")
		return nil
	}
	if msg == nil {
		return nil
	}
	a.deliver(ctx, msg)
	return nil
}

func (a *Agent) deliver(ctx context.Context, msg *message) {
	body, err := json.Marshal(msg)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to encode webhook message")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		a.logger.WithError(err).Warn("Failed to build webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.logger.WithError(err).Warn("Webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		a.logger.WithField("status", resp.StatusCode).Warn("Webhook rejected message")
	}
}

func format(event *events.Event) (*message, error) {
	switch event.Kind {
	case events.KindTeamSelected:
		var payload events.TeamSelectedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return nil, err
		}
		return formatSelection(payload), nil

	case events.KindTeamChipUsed:
		var payload events.ChipUsedPayload
		if err := event.PayloadAs(&payload); err != nil {
			return nil, err
		}
		return plain(fmt.Sprintf(":zap: GW%d: playing the %s", payload.Gameweek, payload.Chip)), nil

	case events.KindChipRecommendation:
		var payload events.ChipRecommendationPayload
		if err := event.PayloadAs(&payload); err != nil {
			return nil, err
		}
		return plain(fmt.Sprintf("Chip watch GW%d: %s looks worth %.1f points. %s",
			payload.Gameweek, payload.Chip, payload.ExpectedValue, payload.Reason)), nil

	case events.KindNotificationInfo, events.KindNotificationWarning, events.KindNotificationError:
		var payload events.NotificationPayload
		if err := event.PayloadAs(&payload); err != nil {
			return nil, err
		}
		prefix := ""
		switch payload.Level {
		case "warning":
			prefix = ":warning: "
		case "error":
			prefix = ":rotating_light: "
		}
		if payload.Title != "" {
			return plain(fmt.Sprintf("%s%s — %s", prefix, payload.Title, payload.Message)), nil
		}
		return plain(prefix + payload.Message), nil

	case events.KindPriceChangeDetected:
		var payload events.PriceChangePayload
		if err := event.PayloadAs(&payload); err != nil {
			return nil, err
		}
		arrow := "rose"
		if payload.NewCost < payload.OldCost {
			arrow = "fell"
		}
		return plain(fmt.Sprintf("%s %s %.1f -> %.1f", payload.Name, arrow,
			float64(payload.OldCost)/10.0, float64(payload.NewCost)/10.0)), nil

	case events.KindGameweekDeadlineApproaching:
		var payload events.DeadlineApproachingPayload
		if err := event.PayloadAs(&payload); err != nil {
			return nil, err
		}
		return plain(fmt.Sprintf(":alarm_clock: GW%d deadline in %.0f hours (%s)",
			payload.Gameweek, payload.HoursLeft, payload.Deadline.Format("Mon 15:04 MST"))), nil
	}
	return nil, nil
}

func formatSelection(payload events.TeamSelectedPayload) *message {
	header := fmt.Sprintf("GW%d: %s, %s (c), %s (v)",
		payload.Gameweek, payload.Formation, payload.Captain.Name, payload.ViceCaptain.Name)

	var starting []string
	for _, p := range payload.Starting {
		starting = append(starting, p.Name)
	}
	var bench []string
	for _, p := range payload.Bench {
		bench = append(bench, p.Name)
	}

	body := fmt.Sprintf("*Starting:* %s\n*Bench:* %s", strings.Join(starting, ", "), strings.Join(bench, ", "))
	if payload.Transfers > 0 {
		body += fmt.Sprintf("\n*Transfers:* %d", payload.Transfers)
		if payload.HitCost > 0 {
			body += fmt.Sprintf(" (-%d)", payload.HitCost)
		}
	}
	if payload.Chip != "" {
		body += "\n*Chip:* " + payload.Chip
	}

	msg := &message{
		Text: header,
		Blocks: []block{
			{Type: "header", Text: &blockText{Type: "plain_text", Text: header}},
			{Type: "section", Text: &blockText{Type: "mrkdwn", Text: body}},
		},
	}
	if payload.Announcement != "" {
		msg.Blocks = append(msg.Blocks, block{
			Type: "section",
			Text: &blockText{Type: "mrkdwn", Text: "_" + payload.Announcement + "_"},
		})
	}
	return msg
}

func plain(text string) *message {
	return &message{Text: text}
}
