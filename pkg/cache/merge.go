package cache

import "github.com/cuemby/binlogtap/pkg/types"

// mergeRow computes a row's new net effect: given the current stored state
// `old` (nil if the row has no pending entry) and an incoming mutation
// `new`, it returns the row to store and whether it should be kept at all
// (false means insert-then-delete cancelled out and the entry must be
// removed). warn is non-empty for the inconsistent delete-then-update
// combination.
func mergeRow(old, new types.Row) (merged types.Row, keep bool, warn string) {
	if old == nil {
		return new, true, ""
	}

	switch old.Action() {
	case types.ActionInsert:
		switch new.Action() {
		case types.ActionInsert:
			// Only reachable after an intervening truncate or
			// out-of-order event; demote to update so the loader
			// upserts instead of double-inserting.
			new.SetAction(types.ActionUpdate)
			return new, true, ""
		case types.ActionUpdate:
			new.SetAction(types.ActionInsert)
			return new, true, ""
		case types.ActionDelete:
			return nil, false, ""
		}
	case types.ActionUpdate:
		switch new.Action() {
		case types.ActionInsert:
			new.SetAction(types.ActionUpdate)
			return new, true, ""
		case types.ActionUpdate:
			return new, true, ""
		case types.ActionDelete:
			return new, true, ""
		}
	case types.ActionDelete:
		switch new.Action() {
		case types.ActionInsert:
			new.SetAction(types.ActionUpdate)
			return new, true, ""
		case types.ActionUpdate:
			// Inconsistent input: a delete was already pending and an
			// update arrived for the same row. Keep the delete, warn,
			// drop the update.
			return old, true, "delete followed by update for same row; keeping delete"
		case types.ActionDelete:
			return new, true, ""
		}
	}

	// Old row carries no recognized cdc_action; treat the new mutation as
	// authoritative rather than silently dropping it.
	return new, true, ""
}
