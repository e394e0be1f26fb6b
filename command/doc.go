// Package command translates semantic client commands into hub writes and
// correlates those writes with the hub's responses.
//
// A Translator validates a set or toggle command against the accessory
// lookup index (identity, then characteristic, then write permission),
// coerces the value to the characteristic's format, clamps numbers to the
// declared bounds and encodes a set-characteristics frame addressed by
// aid/iid. Rejections are *CommandError values naming a Cause.
//
// A Tracker holds one pending entry per aid/iid key. Registering a second
// write for the same key replaces the first and restarts the timer. An entry
// is removed exactly once: by Resolve when the hub answers, by Cancel when the
// send failed, or by its timer, which then calls the timeout callback.
package command
