// Package model defines shared data types used across the Spot-TV connection stack.
//
// Conventions:
//   - Expiry timestamps: time.Time, serialized as epoch milliseconds on the wire
//   - Device IDs: uuid strings
//   - Empty strings mean "unset" for every credential field
package model
