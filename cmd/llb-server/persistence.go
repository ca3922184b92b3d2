// persistence.go orchestrates the interaction between the in-memory
// Store and the on-disk journal: loading state at startup, logging
// writes during operation, and compacting the journal into a fresh
// snapshot.
//
// The server uses a hybrid persistence model. The journal file starts
// with an optional binary snapshot preamble (the LLB1 format described
// in snapshot.go) followed by a text tail of RESP commands:
//
//	+-----------------------+---------------------------+
//	| Binary Preamble       | Text Tail                 |
//	| (LLB1 Snapshot)       | (RESP Commands)           |
//	+-----------------------+---------------------------+
//
// On startup the loader restores the preamble almost instantly, then
// replays only the commands that arrived after the last compaction.
// The result is fast startup and at most one fsync interval of data
// loss on a crash.
//
// Command Logging
// ===============
//
// Every successful write command (LLB.ADD, LLB.INIT, LLB.MERGE, DEL)
// is appended to the journal as RESP text after the in-memory mutation
// succeeds. Disk errors are logged but not returned to the client: the
// in-memory state is already correct, and we prioritize availability
// over strict durability.
//
// Compaction
// ==========
//
// CompactAOF collapses the accumulated command history into a single
// binary snapshot, written to a temp file and swapped in with an
// atomic rename. A crash at any point leaves either the old journal or
// the new one on disk, never a hybrid of both.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// logCommand appends a write command to the journal in RESP format.
// Called by every handler that successfully modifies in-memory state.
//
// Fire-and-forget: a disk failure is logged, not bubbled up. The
// mutation already succeeded, so failing the request now would only
// confuse clients.
func (app *application) logCommand(command string, args []string) {
	if app.aof == nil {
		return
	}

	data := encodeCommand(command, args)

	// The AOF handles its own locking, so concurrent calls from
	// different request goroutines are safe.
	if err := app.aof.Write(data); err != nil {
		app.logger.Error("CRITICAL: failed to append to AOF", "error", err, "command", command)
	}
}

// loadAOF restores the server state from the journal file at startup.
// It handles both pure-text AOF files and hybrid files (binary
// preamble + text tail) transparently.
func (app *application) loadAOF() error {
	//
	// DESIGN
	// ------
	//
	// The loader peeks at the first 4 bytes to detect the format. If
	// they spell "LLB1" we have a hybrid file: the binary loader
	// consumes exactly the snapshot section and stops after the
	// checksum, leaving the same *bufio.Reader positioned at the start
	// of the text tail. Anything else is treated as a pure-text AOF
	// (or an empty file) and goes straight to RESP replay.
	//
	// A single buffered reader advances monotonically through the
	// file; we never seek or read twice.
	//

	f, err := os.Open(app.config.aofFilename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)

	magic, _ := reader.Peek(4)

	if string(magic) == snapshotMagic {
		app.logger.Info("loading hybrid AOF preamble...")
		if err := app.store.LoadSnapshotFromReader(reader); err != nil {
			return fmt.Errorf("corrupt hybrid preamble: %w", err)
		}
	}

	// The reader is now positioned at the start of the text log (or EOF).
	parser := NewParser(reader)

	for {
		parts, err := parser.Parse()
		if err == io.EOF {
			break
		}
		if err != nil {
			// io.ErrUnexpectedEOF means the last command was half-written
			// when the process died. The classic crash-during-write case.
			//
			// The -aof-load-truncated flag (default true) controls
			// recovery: drop the partial command and schedule a
			// compaction, or refuse to start and require manual repair.
			//
			// Other parse errors in the middle of the file remain fatal:
			// they indicate real corruption, not truncation.
			if err == io.ErrUnexpectedEOF {
				if app.config.aofLoadTruncated {
					app.logger.Warn("AOF truncated at end - ignoring partial last command (this is normal after a crash)")
					app.needsCompaction = true // Signal main.go to compact immediately after AOF opens
					return nil
				}
				return errors.New("AOF truncated (run with -aof-load-truncated=true to auto-recover, or use llb-check to inspect)")
			}
			return err
		}

		app.router.Dispatch(app, io.Discard, parts)
	}

	return nil
}

// CompactAOF rewrites the journal file, replacing the accumulated
// command history with a fresh binary snapshot.
func (app *application) CompactAOF() error {
	//
	// DESIGN
	// ------
	//
	// Two phases with very different concurrency characteristics.
	//
	// Phase 1 streams the snapshot to a temp file. This can take a
	// while for large datasets, but SaveSnapshotToWriter only holds
	// per-shard read locks, so the server stays responsive.
	//
	// Phase 2 holds the exclusive AOF lock for the swap itself: flush,
	// close, rename, reopen. A few milliseconds of added latency for
	// in-flight writers, no dropped requests.
	//
	// The 'fileClosed' and 'renameSuccess' flags let the deferred
	// cleanup know exactly which resources are still pending release,
	// so a failed attempt never double-closes or deletes the live
	// journal.
	//

	tmpName := app.config.aofFilename + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}

	var (
		fileClosed    bool
		renameSuccess bool
	)

	defer func() {
		if !fileClosed {
			_ = f.Close()
		}
		if !renameSuccess {
			_ = os.Remove(tmpName)
		}
	}()

	{
		bw := bufio.NewWriter(f)
		if err := app.store.SaveSnapshotToWriter(bw); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return err
		}
	}

	// Data must be physically on disk before the swap.
	if err := f.Sync(); err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}
	fileClosed = true

	// Critical section: stop incoming logCommand calls for the switch.
	app.aof.mu.Lock()
	defer app.aof.mu.Unlock()

	if err := app.aof.writer.Flush(); err != nil {
		// Even if flush fails we proceed: we are strictly replacing
		// history with a newer snapshot state.
		app.logger.Error("warning: failed to flush old AOF before rewrite", "error", err)
	}
	_ = app.aof.file.Close()

	if err := os.Rename(tmpName, app.config.aofFilename); err != nil {
		return err
	}
	renameSuccess = true

	newFile, err := os.OpenFile(app.config.aofFilename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return err
	}

	app.aof.file = newFile
	app.aof.writer.Reset(newFile)

	// The auto-rewrite logic measures growth against this baseline.
	if stat, err := newFile.Stat(); err == nil {
		app.aofBaseSize.Store(stat.Size())
	}

	return nil
}
