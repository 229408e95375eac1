// Package schema defines the TimeTracker entities the client works with
// offline: projects, tasks, and time entries.
//
// The shapes mirror the REST API's JSON representations so cached rows and
// queued payloads round-trip through the server without translation. Fields
// the server owns (ids, created_at) are optional on the client side; a time
// entry composed offline has no id until the server accepts it.
package schema
