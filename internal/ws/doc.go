// Package ws provides the real-time coordination layer for race sessions.
//
// The package implements:
//   - Inbound/outbound frame codec for the JSON wire protocol
//   - Session: per-connection state machine with a cached race snapshot
//   - Dispatch pipeline: action table lookup, identity resolution, and
//     hand-off to the race store
//   - Human and bot session variants over the same Session implementation
//   - Handler: connection acceptance and the read/write pumps
//
// Key behaviors:
//   - Connections to unknown races are refused before the websocket handshake
//   - A fresh connection is primed with race.data and race.renders frames
//   - Group events update the cached snapshot with a version-monotonic guard
//   - Recoverable failures surface as error frames; the connection stays open
package ws
