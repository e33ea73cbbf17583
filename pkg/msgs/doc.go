// Package msgs defines the protobuf encoded status and event messages a
// node publishes for monitoring.
package msgs
