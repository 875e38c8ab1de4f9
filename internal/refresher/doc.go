// Package refresher implements the long lived pairing code refresher.
//
// The refresher:
//   - Checks the stored long lived pairing code on start and every interval
//   - Generates a new code when none is stored or it expires within the minimum validity
//   - Only runs checks while a backend session is established
package refresher
