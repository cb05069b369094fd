// Package app wires a phasing run together: it builds the run manifest, the
// task graph and the engine, serves the health endpoints, applies deferred
// cleanup and turns the run's outcome into an error the entrypoint can map
// to an exit code. It is decoupled from flag parsing.
package app
