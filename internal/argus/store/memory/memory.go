// Package memory holds in-memory store implementations for tests and for
// running without a database.
package memory
