package router

import (
	"errors"

	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

// ErrUnknownEvent is returned by Decode for event names outside the closed set.
var ErrUnknownEvent = errors.New("unknown session event")

// Event is a typed session notification. The set of implementations is closed.
type Event interface {
	// Name returns the transport event this variant was decoded from.
	Name() transport.EventName

	sealed()
}

// CalendarRefreshRequested asks the calendar collaborator to refresh now.
type CalendarRefreshRequested struct{}

// UnrecoverableDisconnect reports that the transport dropped the session.
type UnrecoverableDisconnect struct {
	Err error
}

// JoinCodeChanged carries a rotated remote join code.
type JoinCodeChanged struct {
	Code string
}

// RegistrationUpdated carries credentials rotated by the backend without a reconnect.
type RegistrationUpdated struct {
	JWT    string
	Tenant string
}

// ClientJoined reports a remote control client joining the session.
type ClientJoined struct {
	ID   string
	Type model.ClientType
}

// ClientLeft reports a remote control client leaving the session.
type ClientLeft struct {
	ID   string
	Type model.ClientType
}

func (CalendarRefreshRequested) Name() transport.EventName {
	return transport.EventCalendarRefreshRequested
}
func (UnrecoverableDisconnect) Name() transport.EventName {
	return transport.EventUnrecoverableDisconnect
}
func (JoinCodeChanged) Name() transport.EventName     { return transport.EventRemoteJoinCodeChange }
func (RegistrationUpdated) Name() transport.EventName { return transport.EventRegistrationUpdated }
func (ClientJoined) Name() transport.EventName        { return transport.EventClientJoined }
func (ClientLeft) Name() transport.EventName          { return transport.EventClientLeft }

func (CalendarRefreshRequested) sealed() {}
func (UnrecoverableDisconnect) sealed()  {}
func (JoinCodeChanged) sealed()          {}
func (RegistrationUpdated) sealed()      {}
func (ClientJoined) sealed()             {}
func (ClientLeft) sealed()               {}

// Events lists every transport event the router subscribes to, in registration order.
var Events = []transport.EventName{
	transport.EventCalendarRefreshRequested,
	transport.EventUnrecoverableDisconnect,
	transport.EventRemoteJoinCodeChange,
	transport.EventRegistrationUpdated,
	transport.EventClientJoined,
	transport.EventClientLeft,
}

// -----------------------------------------------------------------------------
// Wire payloads
// -----------------------------------------------------------------------------

type joinCodeChangeWire struct {
	RemoteJoinCode string `json:"remoteJoinCode"`
}

type registrationWire struct {
	JWT    string `json:"jwt"`
	Tenant string `json:"tenant,omitempty"`
}

type clientWire struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}
