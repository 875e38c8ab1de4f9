// Package router implements the Session Event Router.
//
// The Session Event Router:
//   - Subscribes one listener per named transport event when a connect attempt starts
//   - Decodes each notification into a typed Event variant
//   - Dispatches typed events to the Connection Manager
//   - Records every unregister handle in a Registry owned by the manager
//
// Event names are strings only at the transport boundary. Everything past
// Decode works with the closed set of Event types defined here.
package router
