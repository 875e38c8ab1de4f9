package router

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/spot-tv/internal/model"
	"github.com/rickgao/spot-tv/internal/transport"
)

// Decode turns a raw transport notification into its typed variant.
func Decode(ev transport.Event) (Event, error) {
	switch ev.Name {
	case transport.EventCalendarRefreshRequested:
		return CalendarRefreshRequested{}, nil

	case transport.EventUnrecoverableDisconnect:
		return UnrecoverableDisconnect{Err: ev.Err}, nil

	case transport.EventRemoteJoinCodeChange:
		var wire joinCodeChangeWire
		if err := unmarshal(ev, &wire); err != nil {
			return nil, err
		}
		return JoinCodeChanged{Code: wire.RemoteJoinCode}, nil

	case transport.EventRegistrationUpdated:
		var wire registrationWire
		if err := unmarshal(ev, &wire); err != nil {
			return nil, err
		}
		return RegistrationUpdated{JWT: wire.JWT, Tenant: wire.Tenant}, nil

	case transport.EventClientJoined:
		var wire clientWire
		if err := unmarshal(ev, &wire); err != nil {
			return nil, err
		}
		return ClientJoined{ID: wire.ID, Type: model.ParseClientType(wire.Type)}, nil

	case transport.EventClientLeft:
		var wire clientWire
		if err := unmarshal(ev, &wire); err != nil {
			return nil, err
		}
		return ClientLeft{ID: wire.ID, Type: model.ParseClientType(wire.Type)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
	}
}

func unmarshal(ev transport.Event, v any) error {
	if len(ev.Data) == 0 {
		return fmt.Errorf("decode %s: empty payload", ev.Name)
	}
	if err := json.Unmarshal(ev.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Name, err)
	}
	return nil
}
