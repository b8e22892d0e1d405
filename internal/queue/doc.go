// Package queue persists download jobs in SQLite.
//
// Jobs move through a small lifecycle: pending -> downloading -> ready or
// failed. Workers claim the oldest pending job and maintain a heartbeat
// while downloading; jobs whose heartbeat expires are reclaimed back to
// pending so a crashed worker never strands a request.
//
// Every job carries two identifiers: the integer rowid used internally and
// a random token handed to HTTP clients. Routes never accept rowids.
package queue
