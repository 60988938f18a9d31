// Package pipeline compiles module declarations into a validated, dependency
// ordered execution plan per cycler.
//
// The compiler resolves every declared input to exactly one producer, orders
// each cycler's modules topologically (declaration order breaks ties, so
// unchanged declarations always compile to the same plan), and emits a wiring
// table binding each input to its concrete source: the cycler's own
// in-progress database, another cycler's channel, or another cycler's
// historic buffer. All wiring errors are caught here, before anything runs.
package pipeline
