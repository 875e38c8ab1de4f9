// Package database provides PostgreSQL connection management and a
// credential store backed by a single state table.
//
// Each device owns one row in spot_tv_state keyed by device ID. The state
// column holds the same JSON document the file store writes, so devices can
// move between drivers without a migration.
package database
