// Package types defines the contract between the framework and computational
// modules: module descriptors, the per-tick database record, and the execution
// context handed to a module on each step.
//
// A module declares what it consumes and produces through a Descriptor; the
// pipeline compiler turns those declarations into a wiring plan, and the cycler
// runtime resolves them into a Context for every tick. Modules never touch
// channels, buffers, or the parameter store directly.
package types
