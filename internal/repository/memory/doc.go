// Package memory provides in-process implementations of the repository
// interfaces, used by tests and by the single-binary development mode.
// Everything is guarded by a mutex and returned as copies.
package memory
