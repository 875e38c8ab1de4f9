package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

// fakeSubscriber records listeners the way a transport session would.
type fakeSubscriber struct {
	mu        sync.Mutex
	listeners map[transport.EventName][]*transport.Handler
	removed   []transport.EventName
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{listeners: make(map[transport.EventName][]*transport.Handler)}
}

func (s *fakeSubscriber) AddListener(name transport.EventName, h transport.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	hp := &h
	s.listeners[name] = append(s.listeners[name], hp)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.removed = append(s.removed, name)
		list := s.listeners[name]
		for i, cur := range list {
			if cur == hp {
				s.listeners[name] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

func (s *fakeSubscriber) emit(ev transport.Event) {
	s.mu.Lock()
	handlers := append([]*transport.Handler(nil), s.listeners[ev.Name]...)
	s.mu.Unlock()

	for _, h := range handlers {
		(*h)(ev)
	}
}

func (s *fakeSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listeners {
		n += len(l)
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) HandleSessionEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestRouter_RegisterSubscribesEveryEvent(t *testing.T) {
	sub := newFakeSubscriber()
	reg := NewRegistry()
	r := New(slog.Default())

	r.Register(reg, sub, &recorder{})

	if reg.Len() != len(Events) {
		t.Fatalf("registry Len() = %d, want %d", reg.Len(), len(Events))
	}
	if sub.count() != len(Events) {
		t.Fatalf("subscribed listeners = %d, want %d", sub.count(), len(Events))
	}

	names := reg.Names()
	for i, name := range Events {
		if names[i] != string(name) {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], name)
		}
	}

	if n := reg.Drain(); n != len(Events) {
		t.Errorf("Drain() = %d, want %d", n, len(Events))
	}
	if sub.count() != 0 {
		t.Errorf("listeners after drain = %d, want 0", sub.count())
	}
}

func TestRouter_DispatchesTypedEvents(t *testing.T) {
	sub := newFakeSubscriber()
	reg := NewRegistry()
	rec := &recorder{}
	r := New(nil)
	r.Register(reg, sub, rec)

	cause := errors.New("socket closed")

	sub.emit(transport.Event{Name: transport.EventCalendarRefreshRequested})
	sub.emit(transport.Event{Name: transport.EventUnrecoverableDisconnect, Err: cause})
	sub.emit(transport.Event{
		Name: transport.EventRemoteJoinCodeChange,
		Data: payload(t, map[string]string{"remoteJoinCode": "abc123"}),
	})
	sub.emit(transport.Event{
		Name: transport.EventRegistrationUpdated,
		Data: payload(t, map[string]string{"jwt": "token", "tenant": "acme"}),
	})
	sub.emit(transport.Event{
		Name: transport.EventClientJoined,
		Data: payload(t, map[string]string{"id": "remote-1", "type": "spot-remote-permanent"}),
	})
	sub.emit(transport.Event{
		Name: transport.EventClientLeft,
		Data: payload(t, map[string]string{"id": "remote-2", "type": "spot-remote-temporary"}),
	})

	got := rec.all()
	if len(got) != 6 {
		t.Fatalf("received %d events, want 6", len(got))
	}

	if _, ok := got[0].(CalendarRefreshRequested); !ok {
		t.Errorf("event 0 = %T, want CalendarRefreshRequested", got[0])
	}
	if ev, ok := got[1].(UnrecoverableDisconnect); !ok || !errors.Is(ev.Err, cause) {
		t.Errorf("event 1 = %#v, want UnrecoverableDisconnect with cause", got[1])
	}
	if ev, ok := got[2].(JoinCodeChanged); !ok || ev.Code != "abc123" {
		t.Errorf("event 2 = %#v, want JoinCodeChanged{abc123}", got[2])
	}
	if ev, ok := got[3].(RegistrationUpdated); !ok || ev.JWT != "token" || ev.Tenant != "acme" {
		t.Errorf("event 3 = %#v, want RegistrationUpdated{token, acme}", got[3])
	}
	if ev, ok := got[4].(ClientJoined); !ok || ev.ID != "remote-1" || ev.Type != model.ClientTypeSpotRemotePermanent {
		t.Errorf("event 4 = %#v, want permanent ClientJoined", got[4])
	}
	if ev, ok := got[5].(ClientLeft); !ok || ev.Type != model.ClientTypeSpotRemoteTemporary {
		t.Errorf("event 5 = %#v, want temporary ClientLeft", got[5])
	}

	stats := r.Stats()
	if stats.Received != 6 || stats.Dispatched != 6 || stats.DecodeErrors != 0 {
		t.Errorf("Stats() = %+v, want 6 received, 6 dispatched, 0 errors", stats)
	}
}

func TestRouter_DropsUndecodableEvents(t *testing.T) {
	sub := newFakeSubscriber()
	rec := &recorder{}
	r := New(nil)
	r.Register(NewRegistry(), sub, rec)

	sub.emit(transport.Event{Name: transport.EventRemoteJoinCodeChange, Data: json.RawMessage(`{not json`)})
	sub.emit(transport.Event{Name: transport.EventClientJoined})

	if len(rec.all()) != 0 {
		t.Errorf("handler received %d events, want 0", len(rec.all()))
	}
	if stats := r.Stats(); stats.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", stats.DecodeErrors)
	}
}

func TestRouter_NoDispatchAfterDrain(t *testing.T) {
	sub := newFakeSubscriber()
	reg := NewRegistry()
	rec := &recorder{}
	r := New(nil)
	r.Register(reg, sub, rec)

	reg.Drain()
	sub.emit(transport.Event{Name: transport.EventCalendarRefreshRequested})

	if len(rec.all()) != 0 {
		t.Errorf("handler received %d events after drain, want 0", len(rec.all()))
	}
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode(transport.Event{Name: "SOMETHING_ELSE"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Decode() error = %v, want ErrUnknownEvent", err)
	}
}

func TestDecode_UnknownClientType(t *testing.T) {
	ev, err := Decode(transport.Event{
		Name: transport.EventClientJoined,
		Data: json.RawMessage(`{"id":"x","type":"projector"}`),
	})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	joined := ev.(ClientJoined)
	if joined.Type != model.ClientTypeUnknown {
		t.Errorf("Type = %q, want %q", joined.Type, model.ClientTypeUnknown)
	}
}
