// Package signaling implements transport.Session over a JSON WebSocket
// protocol spoken with the remote control service.
//
// Every frame is a JSON object:
//
//	{"id": 7, "type": "join", "payload": {...}}
//	{"id": 7, "type": "result", "payload": {...}}
//	{"id": 7, "type": "error", "error": {"condition": "conflict"}}
//	{"type": "event", "event": "CLIENT_JOINED", "payload": {"id": "r1", "type": "spot-remote-permanent"}}
//
// Requests (join, set_join_code, remove_client, leave) carry an id that the
// server echoes in its result or error frame. Events carry no id.
//
// Events are handed to listeners from a single dispatch goroutine fed by an
// unbounded queue, so a slow listener never stalls the read loop.
package signaling
