// Package main hosts the instaweb CLI entrypoint and command graph.
//
// The Cobra-based command tree starts the daemon with its HTTP front end,
// inspects and maintains the download job queue, scaffolds configuration, and
// verifies the runtime environment. It centralizes configuration resolution so
// subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
