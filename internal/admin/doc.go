// Package admin provides the HTTP admin API for a running linger daemon.
//
// # Endpoints
//
// Read-only inspection of runtime state:
//
//   - GET /api/streams - List known conversation streams
//   - GET /api/streams/{id}/messages - Recent messages for a stream
//   - GET /api/streams/{id}/reasoning - Recent model reasoning logs for a stream
//   - GET /api/followup - Open follow-up windows
//   - GET /api/willingness - Per-stream willingness values
//   - GET /api/events - Live bot events over SSE
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (platform connections)
//
// # SSE Streaming
//
// /api/events streams events as Server-Sent Events. Each event's SSE type
// matches its bot event type (message_received, reply_sent, followup_started,
// followup_restarted, followup_ended). A "stream" query parameter scopes the
// subscription to a single stream; without it the firehose delivers
// everything. Heartbeat comments keep idle connections open.
//
// # Authentication
//
// When a JWT verifier is configured, /api routes require a bearer token.
// Health endpoints are always public. Tokens are minted with the linger
// "token" subcommand from the configured secret.
//
// # Usage
//
//	srv := admin.New(admin.Options{Store: st, FollowUp: fu, Events: ev})
//	srv.RegisterRoutes(mux)
package admin
