// Package daemon wires the HTTP surface, the workflow manager, and the
// single-instance lock into one long-running process.
//
// The public routes (/start, /events, /download) drive the download
// lifecycle for browser and script clients; the /api routes expose
// operational state for the CLI and are guarded by a bearer token when an
// API key is configured.
package daemon
