// Package workflow drives download jobs through their lifecycle.
//
// A fixed pool of workers claims pending jobs from the queue and runs the
// download stage with a heartbeat so crashed workers are detected. A cleaner
// loop sweeps expired job files on a schedule. The manager owns worker
// lifecycle and exposes aggregate status for the HTTP API and CLI.
package workflow
