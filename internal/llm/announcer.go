package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const announcerSystem = "You are the press officer for an autonomous fantasy football manager. " +
	"Write a short, confident team announcement in plain English. " +
	"No hashtags, no emoji, at most 120 words."

// TransferLine is one executed transfer, already priced in currency units.
type TransferLine struct {
	Out     string
	In      string
	InCost  float64
	OutSold float64
}

// Selection carries everything the announcement needs to mention.
type Selection struct {
	Gameweek  int
	Captain   string
	Vice      string
	Chip      string
	Posture   string
	Transfers []TransferLine
	HitCost   int
	Reasoning string
}

// Announcer turns a finalized selection into prose, preferring the language
// model and falling back to a fixed template when it is unavailable or fails.
type Announcer struct {
	client *Client
	logger *logrus.Logger
}

func NewAnnouncer(client *Client, logger *logrus.Logger) *Announcer {
	return &Announcer{client: client, logger: logger}
}

// Announce never fails: any generation error downgrades to the template.
func (a *Announcer) Announce(ctx context.Context, sel Selection) string {
	if a.client != nil && a.client.Available() {
		text, err := a.client.Generate(ctx, announcerSystem, buildPrompt(sel))
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil && err != ErrDisabled {
			a.logger.WithError(err).WithField("gameweek", sel.Gameweek).
				Warn("Announcement generation failed, using template")
		}
	}
	return TemplateAnnouncement(sel)
}

func buildPrompt(sel Selection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gameweek: %d\n", sel.Gameweek)
	fmt.Fprintf(&b, "Captain: %s (vice: %s)\n", sel.Captain, sel.Vice)
	fmt.Fprintf(&b, "Posture: %s\n", sel.Posture)
	if sel.Chip != "" {
		fmt.Fprintf(&b, "Chip played: %s\n", sel.Chip)
	}
	if len(sel.Transfers) == 0 {
		b.WriteString("Transfers: none, roll the free transfer\n")
	} else {
		b.WriteString("Transfers:\n")
		for _, t := range sel.Transfers {
			fmt.Fprintf(&b, "  - %s out (sold %.1f), %s in (cost %.1f)\n", t.Out, t.OutSold, t.In, t.InCost)
		}
		if sel.HitCost > 0 {
			fmt.Fprintf(&b, "Points hit taken: -%d\n", sel.HitCost)
		}
	}
	if sel.Reasoning != "" {
		fmt.Fprintf(&b, "Manager's reasoning: %s\n", sel.Reasoning)
	}
	b.WriteString("\nWrite the announcement now.")
	return b.String()
}

// TemplateAnnouncement is the deterministic fallback.
func TemplateAnnouncement(sel Selection) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GW%d team news: ", sel.Gameweek)
	if len(sel.Transfers) == 0 {
		b.WriteString("no transfers this week. ")
	} else {
		moves := make([]string, 0, len(sel.Transfers))
		for _, t := range sel.Transfers {
			moves = append(moves, fmt.Sprintf("%s out, %s in", t.Out, t.In))
		}
		b.WriteString(strings.Join(moves, "; "))
		if sel.HitCost > 0 {
			fmt.Fprintf(&b, " (-%d hit)", sel.HitCost)
		}
		b.WriteString(". ")
	}
	if sel.Chip != "" {
		fmt.Fprintf(&b, "Playing the %s. ", sel.Chip)
	}
	fmt.Fprintf(&b, "%s wears the armband with %s as vice.", sel.Captain, sel.Vice)
	return b.String()
}
