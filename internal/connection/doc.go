// Package connection implements the Connection Manager.
//
// The Connection Manager:
//   - Opens one session to the remote control service per Connect call
//   - Attaches the Session Event Router before every transport connect
//   - Classifies every disconnect (conflict, recoverable, permanent code)
//   - Reconnects after a jittered delay while the classification allows it
//   - Writes pairing credentials to the credential store
//
// State machine:
//
//	Idle -> Connecting -> Connected -> RetryScheduled -> Connecting ...
//	any  -> Disconnecting -> Idle
//
// A session that ends in an identity conflict is routed to the Navigator
// instead of failing Connect.
package connection
