// Package gateway orchestrates the inbox-gateway server.
//
// # Overview
//
// The gateway wires together the email store, the session broker, the
// failover proxy and the profile watcher, and exposes them over one HTTP
// server:
//
//   - /ws            WebSocket endpoint for assistant clients
//   - /api/profile   current user profile as JSON
//   - /health        liveness probe
//   - /health/ready  readiness with client/session counts
//
// # Lifecycle
//
// New() builds every component from the configuration. Run() listens,
// starts the inbox snapshot loop, the profile watcher and the initial
// failover connection attempt, then blocks until the context is canceled.
// Shutdown drains the HTTP server, tears down sessions and closes the
// store.
//
// # Chat routing
//
// Incoming chat messages go to the remote backend whenever the proxy
// connection is up, and to local Anthropic-backed sessions otherwise. The
// decision is made per message inside the broker.
package gateway
