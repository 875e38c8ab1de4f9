package connection

import (
	"errors"

	"github.com/rickgao/spot-tv/internal/credentials"
	"github.com/rickgao/spot-tv/internal/metrics"
	"github.com/rickgao/spot-tv/internal/router"
)

var errConnectionLost = errors.New("connection lost")

// eventHandler receives router events for one connect attempt. Events that
// arrive after the attempt ended are dropped.
type eventHandler struct {
	m       *Manager
	s       *session
	attempt int
}

func (h *eventHandler) HandleSessionEvent(ev router.Event) {
	m := h.m
	metrics.RecordSessionEvent(string(ev.Name()))

	if !m.isCurrent(h.s, h.attempt) {
		m.logger.Debug("dropping event from a finished attempt", "event", ev.Name(), "attempt", h.attempt)
		return
	}

	switch e := ev.(type) {
	case router.CalendarRefreshRequested:
		m.logger.Info("calendar refresh requested")
		m.refreshCalendar()

	case router.UnrecoverableDisconnect:
		err := e.Err
		if err == nil {
			err = errConnectionLost
		}
		m.fail(h.s, h.attempt, &TransportError{
			Op:          "session",
			Err:         err,
			Recoverable: m.session.IsRecoverableRequestError(err),
		})

	case router.JoinCodeChanged:
		m.updateCredentials(func(st *credentials.State) {
			st.Credentials.JoinCode = e.Code
		})

	case router.RegistrationUpdated:
		m.updateCredentials(func(st *credentials.State) {
			st.Credentials.JWT = e.JWT
			st.Credentials.Tenant = e.Tenant
		})

	case router.ClientJoined:
		m.logger.Info("detected remote control connection", "id", e.ID, "type", e.Type)
		if e.Type.IsPermanentRemote() {
			m.setPermanentRemotePaired(true)
		}

	case router.ClientLeft:
		m.logger.Info("detected remote control disconnect", "id", e.ID, "type", e.Type)
		if e.Type.IsPermanentRemote() && m.session.PermanentRemoteCount() == 0 {
			m.setPermanentRemotePaired(false)
		}
	}
}

func (m *Manager) isCurrent(s *session, attempt int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !s.stopped && m.current == s && s.attempt == attempt
}

func (m *Manager) setPermanentRemotePaired(paired bool) {
	m.mu.Lock()
	m.permanentRemotePaired = paired
	m.mu.Unlock()
}
