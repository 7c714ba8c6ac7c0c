// Package app turns domain events into room broadcasts.
//
// The Router serializes events per poll, keeps a snapshot cache of poll tallies and
// serves on-demand snapshots to newly subscribed connections from the cache or the
// backend. Event envelopes (the JSON shape used by ingest and the event bus) are
// encoded and decoded here.
package app
