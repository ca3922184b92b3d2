// handlers.go implements the generic (non-sketch) commands: PING, DEL,
// MEMORY USAGE, INFO, and COMPACT.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

// handlePing handles the PING command.
func (app *application) handlePing(w io.Writer, args []string) {
	_ = app.writeSimpleStringResponse(w, "PONG")
}

// handleDel handles the DEL command.
// Syntax: DEL key [key ...]
func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	deleted := int64(0)
	for _, key := range args {
		if app.store.Delete(key) {
			deleted++
		}
	}

	if deleted > 0 {
		app.logCommand("DEL", args)
	}
	_ = app.writeIntegerResponse(w, deleted)
}

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE key
func (app *application) handleMemory(w io.Writer, args []string) {
	if len(args) != 2 || strings.ToUpper(args[0]) != "USAGE" {
		_ = app.writeErrorResponse(w, "ERR syntax: MEMORY USAGE <key>")
		return
	}

	// Rough per-entry map overhead: key string header, sketch struct,
	// bucket bookkeeping.
	const mapOverhead = 96

	var size int64
	found := false
	_ = app.store.View(args[1], func(sk *loglogbeta.Sketch) error {
		if sk != nil {
			found = true
			size = int64(len(args[1]) + sk.Footprint() + mapOverhead)
		}
		return nil
	})

	if !found {
		_ = app.writeNilResponse(w)
		return
	}
	_ = app.writeIntegerResponse(w, size)
}

// handleInfo handles the INFO command, reporting a short operational
// summary. The full instrument set lives on the Prometheus endpoint;
// INFO is for a human on redis-cli.
func (app *application) handleInfo(w io.Writer, args []string) {
	var sb strings.Builder

	uptime := time.Since(app.startTime).Round(time.Second)
	keys := app.store.Len()

	var journalSize int64
	if stat, err := os.Stat(app.config.aofFilename); err == nil {
		journalSize = stat.Size()
	}

	sb.WriteString("# Server\r\n")
	fmt.Fprintf(&sb, "uptime_seconds:%d\r\n", int64(uptime.Seconds()))
	fmt.Fprintf(&sb, "default_precision:%d\r\n", app.config.defaultPrecision)
	sb.WriteString("# Keyspace\r\n")
	fmt.Fprintf(&sb, "keys:%s\r\n", humanize.Comma(int64(keys)))
	sb.WriteString("# Persistence\r\n")
	fmt.Fprintf(&sb, "journal_size_bytes:%d\r\n", journalSize)
	fmt.Fprintf(&sb, "journal_size_human:%s\r\n", humanize.IBytes(uint64(journalSize)))
	fmt.Fprintf(&sb, "rewrite_in_progress:%t\r\n", app.isRewriting.Load())

	_ = app.writeBulkStringResponse(w, sb.String())
}

// handleCompact handles the COMPACT command: an operator-triggered
// journal rewrite. Runs synchronously so the reply reflects the outcome.
func (app *application) handleCompact(w io.Writer, args []string) {
	if app.aof == nil {
		_ = app.writeErrorResponse(w, "ERR persistence is disabled")
		return
	}
	if !app.isRewriting.CompareAndSwap(false, true) {
		_ = app.writeErrorResponse(w, "ERR compaction already in progress")
		return
	}
	defer app.isRewriting.Store(false)

	if err := app.CompactAOF(); err != nil {
		app.logger.Error("manual compaction failed", "error", err)
		_ = app.writeErrorResponse(w, "ERR compaction failed")
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}
