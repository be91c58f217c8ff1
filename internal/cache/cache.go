// Package cache notifies downstream readers (an HTTP layer's response
// cache, a websocket fanout, a CDN purge queue) that a market's quote
// surface changed. The execution engine calls this after every committed
// trade; nothing here may block or fail the trade itself.
package cache

import (
	"log/slog"

	"github.com/google/uuid"
)

// Event describes what changed and is handed to every Invalidator.
type Event struct {
	MarketID uuid.UUID
	EventID  *uuid.UUID
	OptionID uuid.UUID
}

// Invalidator receives a best-effort notification after a trade commits.
// Implementations must not block the caller; a slow or unavailable
// downstream should drop the event rather than stall trading.
type Invalidator interface {
	InvalidateOnTrade(evt Event)
}

// Noop discards every event. It is the default Invalidator when a caller
// has nothing downstream to notify (tests, offline tooling).
type Noop struct{}

func (Noop) InvalidateOnTrade(Event) {}

// Chan fans invalidation events out over a buffered channel to a single
// consumer (e.g. a websocket broadcaster). Sends never block: a full
// channel means the event is dropped and logged, since a downstream cache
// miss is recoverable but a stalled trade is not.
type Chan struct {
	events chan Event
	logger *slog.Logger
}

// NewChan creates a Chan-backed Invalidator with the given buffer size.
func NewChan(buffer int, logger *slog.Logger) *Chan {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chan{events: make(chan Event, buffer), logger: logger.With("component", "cache")}
}

// Events returns the channel consumers should range over.
func (c *Chan) Events() <-chan Event { return c.events }

func (c *Chan) InvalidateOnTrade(evt Event) {
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("invalidation channel full, dropping event", "market_id", evt.MarketID)
	}
}
