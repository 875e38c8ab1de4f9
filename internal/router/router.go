package router

import (
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/spot-tv/internal/transport"
)

// Handler receives typed session events.
type Handler interface {
	HandleSessionEvent(Event)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleSessionEvent(ev Event) {
	f(ev)
}

// Subscriber is the part of a transport session the router attaches to.
type Subscriber interface {
	AddListener(name transport.EventName, h transport.Handler) (unregister func())
}

// Stats contains runtime statistics.
type Stats struct {
	Received     int64
	Dispatched   int64
	DecodeErrors int64
}

// Router subscribes to transport events and dispatches typed events.
type Router struct {
	logger *slog.Logger

	received     atomic.Int64
	dispatched   atomic.Int64
	decodeErrors atomic.Int64
}

// New creates a new Session Event Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// Register attaches one listener per named event to sub and records every
// unregister handle in reg. The handler sees typed events only.
func (r *Router) Register(reg *Registry, sub Subscriber, h Handler) {
	for _, name := range Events {
		unregister := sub.AddListener(name, func(ev transport.Event) {
			r.dispatch(ev, h)
		})
		reg.Add(string(name), unregister)
	}
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Received:     r.received.Load(),
		Dispatched:   r.dispatched.Load(),
		DecodeErrors: r.decodeErrors.Load(),
	}
}

func (r *Router) dispatch(raw transport.Event, h Handler) {
	r.received.Add(1)

	ev, err := Decode(raw)
	if err != nil {
		r.decodeErrors.Add(1)
		r.logger.Warn("failed to decode session event", "event", raw.Name, "error", err)
		return
	}

	h.HandleSessionEvent(ev)
	r.dispatched.Add(1)
}
