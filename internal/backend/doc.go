// Package backend provides the pairing backend client.
//
// Endpoints (relative to the pairing service URL):
//   - POST /pair                  exchange a pairing code for a room registration
//   - POST /pair/refresh          rotate the registration token
//   - POST /pair/long-lived-code  issue a long lived pairing code
//   - GET  /room/exit-password    read the room exit password
//
// All calls after Register authenticate with the registration JWT as a bearer
// token. The JWT expiry is read from its exp claim without verifying the
// signature; the backend remains the authority on validity.
package backend
