// Package kernel provides the task and messaging primitives the update
// pipeline consumes from the GOS kernel, implemented on goroutines so the
// pipeline runs on a development host.
//
// Tasks are spawned through a Scheduler which keeps a table indexed the same
// way the link reports tasks to its peer. A task cooperates with
// suspend/block requests by calling Checkpoint between units of work.
package kernel
