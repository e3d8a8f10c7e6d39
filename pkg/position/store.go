// Package position implements the position store: a small persistent
// mapping holding the last acknowledged binlog file name and byte offset,
// so the producer can resume a replication stream across restarts without
// redelivering events that already landed in the staging cache.
package position

import "github.com/cuemby/binlogtap/pkg/types"

// Store is the position store contract. Durability is synchronous: Set calls
// return only once the backend has durably recorded the write, and the
// producer must not advance the offset before the binlog event at that
// position has been applied to the staging cache.
type Store interface {
	// Get returns the last recorded position, or a zero Position with
	// ok=false if nothing has ever been written.
	Get() (pos types.Position, ok bool, err error)

	// SetFile atomically updates the recorded log file name, used on a
	// rotate event. It does not touch the recorded offset.
	SetFile(file string) error

	// SetPos atomically updates the recorded byte offset, used after each
	// successfully handled row event.
	SetPos(pos uint32) error

	// Close releases the backend connection.
	Close() error
}
