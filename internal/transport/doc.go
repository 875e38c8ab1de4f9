// Package transport defines the contract between the Connection Manager and
// the remote control signaling channel.
//
// The Connection Manager treats the transport as opaque: it can connect,
// disconnect, subscribe to named events and classify request errors. Event
// names are plain strings only at this boundary; the router package turns
// them into typed events before they reach the manager.
package transport
