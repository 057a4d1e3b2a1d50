// Package ws serves the observer WebSocket endpoint.
//
// The package implements:
//   - Hub: the registry of live clients and owner of background tasks
//   - Keepalive: a task that pings every client periodically
//   - Handler: upgrades connections and routes transfer frames
//
// Background tasks such as the window change detector run only while at
// least one client is connected.
package ws
