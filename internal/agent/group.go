package agent

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Group starts and stops a set of agents as a unit. Agents start in
// registration order and stop in reverse.
type Group struct {
	agents []*Agent
	logger *logrus.Logger
}

// NewGroup builds an empty group.
func NewGroup(logger *logrus.Logger) *Group {
	return &Group{logger: logger}
}

// Add appends an agent to the group and returns it for chaining.
func (g *Group) Add(a *Agent) *Agent {
	g.agents = append(g.agents, a)
	return a
}

// Start starts every agent in order. The first failure stops the ones
// already started and is returned.
func (g *Group) Start(ctx context.Context) error {
	for i, a := range g.agents {
		if err := a.Start(ctx); err != nil {
			g.logger.WithError(err).WithField("agent", a.Name()).Error("Agent failed to start")
			for j := i - 1; j >= 0; j-- {
				_ = g.agents[j].Stop(ctx)
			}
			return fmt.Errorf("start agent %s: %w", a.Name(), err)
		}
	}
	return nil
}

// Stop stops every agent in reverse order, logging failures but carrying on.
func (g *Group) Stop(ctx context.Context) {
	for i := len(g.agents) - 1; i >= 0; i-- {
		if err := g.agents[i].Stop(ctx); err != nil {
			g.logger.WithError(err).WithField("agent", g.agents[i].Name()).Warn("Agent failed to stop cleanly")
		}
	}
}

// Stats returns a snapshot per agent, in registration order.
func (g *Group) Stats() []Stats {
	out := make([]Stats, 0, len(g.agents))
	for _, a := range g.agents {
		out = append(out, a.Stats())
	}
	return out
}
