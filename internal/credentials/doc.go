// Package credentials provides the Spot-TV credential store.
//
// The store holds the pairing credentials, the long lived pairing code and the
// device-level room identity. Only the Connection Manager writes to it. Every
// write goes through Update so that read-modify-write cycles stay atomic for
// the backing driver (memory, JSON file or Redis; Postgres lives in the
// database package).
package credentials
