// handlers.go implements general utility commands: PING, INFO, SAVE and DEL.

package main

import (
	"fmt"
	"io"
	"strings"
)

// handlePing handles the PING command.
// Syntax: PING
//
// Standard liveness check; confirms the server is reachable and
// processing commands.
func (app *application) handlePing(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "PING")
		return
	}

	_ = app.writeSimpleStringResponse(w, "PONG")
}

// handleInfo handles the INFO command.
// Syntax: INFO
//
// Text report of the server's state in the Redis INFO format: sections
// marked with #, key:value lines terminated by CRLF.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) > 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	totalConns := app.metrics.TotalConnections.Load()
	totalCmds := app.metrics.TotalCommands.Load()
	activeConns := len(app.connLimiter)

	var b strings.Builder

	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "connections_total:%d\r\n", totalConns)
	fmt.Fprintf(&b, "connections_active:%d\r\n", activeConns)
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", totalCmds)
	b.WriteString("# Keyspace\r\n")
	fmt.Fprintf(&b, "keys:%d\r\n", app.store.Len())
	fmt.Fprintf(&b, "default_precision:%d\r\n", app.config.defaultPrecision)

	_ = app.writeBulkStringResponse(w, b.String())
}

// handleSave handles the SAVE command.
// Syntax: SAVE
//
// Writes a point-in-time snapshot of every key to the configured snapshot
// file and blocks until it is on disk. The sharded store stays responsive
// during the write; only one shard at a time is briefly read-locked.
func (app *application) handleSave(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "SAVE")
		return
	}

	if app.config.snapshotPath == "" {
		_ = app.writeErrorResponse(w, "ERR snapshots are disabled, no snapshot path configured")
		return
	}

	// One snapshot at a time; overlapping saves would race on the
	// temporary file.
	if !app.isSaving.CompareAndSwap(false, true) {
		_ = app.writeErrorResponse(w, "ERR snapshot already in progress")
		return
	}
	defer app.isSaving.Store(false)

	if err := app.saveSnapshot(); err != nil {
		app.logger.Error("snapshot failed", "error", err, "path", app.config.snapshotPath)
		_ = app.writeErrorResponse(w, "ERR snapshot failed")
		return
	}

	app.logger.Info("snapshot saved", "path", app.config.snapshotPath)
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleDel handles the DEL command.
// Syntax: DEL key [key ...]
//
// Removes the given keys; missing keys are ignored. Returns the number of
// keys actually deleted.
func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	count := 0
	for _, key := range args {
		if app.store.Delete(key) {
			count++
		}
	}

	_ = app.writeIntegerResponse(w, count)
}
