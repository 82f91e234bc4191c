package router

import (
	"eventrelay/internal/models"
)

// Assignment names one destination an event must reach. Escalate is
// set for critical error alerts routed to the error-alert destination.
type Assignment struct {
	Destination string
	Escalate    bool
}

// Config declares the routing table. All referenced names must be
// configured destinations.
type Config struct {
	// Destination for events not otherwise subscribed. Optional.
	General string

	// Dedicated destination that always receives error_raised events.
	ErrorAlert string

	// Explicit per-event-type subscriptions, in delivery order.
	Subscriptions map[models.EventType][]string

	// Every configured destination, in configured order. Critical
	// events fan out to all of them.
	All []string
}

// Table maps (event_type, severity) to an ordered set of destinations.
// It is a pure lookup: the table itself is the unit under test, and
// routing a given event is deterministic.
type Table struct {
	cfg Config
}

// New builds a routing table from config.
func New(cfg Config) *Table {
	return &Table{cfg: cfg}
}

// Route returns the ordered assignments for an event. An empty result
// means the event is unroutable; callers count and log it.
func (t *Table) Route(e *models.Event) []Assignment {
	escalate := e.Type == models.TypeErrorRaised && e.Severity == models.SeverityCritical

	if e.Severity == models.SeverityCritical {
		out := make([]Assignment, 0, len(t.cfg.All))
		for _, name := range t.cfg.All {
			out = append(out, Assignment{
				Destination: name,
				Escalate:    escalate && name == t.cfg.ErrorAlert,
			})
		}
		return out
	}

	var out []Assignment
	seen := make(map[string]bool)
	add := func(name string, esc bool) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Assignment{Destination: name, Escalate: esc})
	}

	if e.Type == models.TypeErrorRaised {
		add(t.cfg.ErrorAlert, false)
	} else {
		add(t.cfg.General, false)
	}

	for _, name := range t.cfg.Subscriptions[e.Type] {
		add(name, false)
	}

	return out
}
