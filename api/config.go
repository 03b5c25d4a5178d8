// Package api provides an HTTP API server for inspecting runs and their
// metric histories.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8831")
	ListenAddr string
}
