// Package accessory mirrors the hub's accessories and their characteristics.
//
// Store.Apply takes an accessories-data payload and classifies it:
//
//   - Full Load: more accessories than the threshold, or nothing loaded yet.
//     The snapshot is replaced. A payload byte-identical to the previous full
//     payload is reported as Redundant and produces no deltas.
//   - Incremental Load: each accessory is merged into the snapshot by
//     identity. Nothing is removed by an incremental load.
//
// Both modes return per-characteristic Deltas computed with strict equality,
// and both rebuild the lookup Index. Every load publishes a new immutable View
// through an atomic pointer, so readers never observe a half-built index.
//
// Values are held in the Value variant. A value the hub did not send is
// absent, which is distinct from false and from zero.
package accessory
