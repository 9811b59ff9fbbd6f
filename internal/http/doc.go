// Package http provides the HTTP surface of the planner daemon.
//
// The router exposes:
//   - GET /status: connection state, online users and the lock flag.
//   - GET /export: the full schedule as a downloadable JSON document.
//   - POST /import: replaces local state from an exported document.
//   - POST /unlock: checks admin credentials and unlocks editing.
//     Body: {"name","password"}.
//   - POST /lock: locks editing and broadcasts the new auth state.
//   - POST /publish: re-broadcasts schedule and cell tags, notifies room
//     members and delivers the rendered document to Telegram.
//
// Request/response DTOs live alongside their handlers.
package http
