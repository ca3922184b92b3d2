// handlers_llb.go implements the LogLog-Beta sketch commands.
//
// The sketches themselves carry no locking; every handler keeps its
// sketch access inside a Store View (shared lock) or Mutate (exclusive
// lock) callback, which is exactly the external synchronization the
// estimator's contract asks for.
//
// Concurrency Strategy
// ====================
//   - LLB.ADD, LLB.INIT: Mutate() for an atomic read-modify-write.
//   - LLB.COUNT, LLB.PRECISION: View() with a shared lock; multi-key
//     COUNT folds each source into a private clone, so no source is ever
//     written.
//   - LLB.MERGE: reads all sources into an accumulator under shared
//     locks, then updates the destination under its exclusive lock. Two
//     phases, never two shard locks at once, so no lock-order deadlocks.

package main

import (
	"io"
	"strconv"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

// handleLLBInit handles the LLB.INIT command.
// Syntax: LLB.INIT key [precision]
//
// LLB.ADD creates keys lazily at the server's default precision; INIT
// exists for callers that want a non-default precision, which must be
// chosen before the first insertion because it is immutable afterwards.
func (app *application) handleLLBInit(w io.Writer, args []string) {
	if len(args) < 1 || len(args) > 2 {
		app.wrongNumberOfArgsResponse(w, "LLB.INIT")
		return
	}

	precision := app.config.defaultPrecision
	if len(args) == 2 {
		p, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			_ = app.writeErrorResponse(w, "ERR precision is not an integer")
			return
		}
		precision = uint8(p)
	}

	sk, err := loglogbeta.New(precision)
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR precision must be between 4 and 18")
		return
	}

	var exists bool
	app.store.Mutate(args[0], func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
		if cur != nil {
			exists = true
			return cur, false
		}
		return sk, true
	})

	if exists {
		_ = app.writeErrorResponse(w, "ERR key already exists")
		return
	}

	app.logCommand("LLB.INIT", args)
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleLLBAdd handles the LLB.ADD command.
// Syntax: LLB.ADD key element [element ...]
//
// Missing keys are created lazily at the default precision. The reply is
// 1 if any insertion changed the sketch state, 0 otherwise, mirroring
// the Redis PFADD contract.
func (app *application) handleLLBAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "LLB.ADD")
		return
	}

	key := args[0]
	elements := args[1:]

	var changed, created bool
	app.store.Mutate(key, func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
		sk := cur
		if sk == nil {
			sk, _ = loglogbeta.New(app.config.defaultPrecision)
			created = true
		}

		for _, el := range elements {
			if sk.Add([]byte(el)) {
				changed = true
			}
		}

		// A brand-new key must be stored even if no element changed the
		// state (possible only for empty element edge cases); an existing
		// key is rewritten only when something changed.
		return sk, changed || created
	})

	if changed || created {
		app.logCommand("LLB.ADD", args)
	}

	if changed {
		_ = app.writeIntegerResponse(w, 1)
		return
	}
	_ = app.writeIntegerResponse(w, 0)
}

// handleLLBCount handles the LLB.COUNT command.
// Syntax: LLB.COUNT key [key ...]
//
// With one key the sketch's own cardinality is returned; missing keys
// count as zero. With several keys the reply is the cardinality of the
// union: the first existing sketch is cloned and the rest are merged into
// the clone, so the stored sketches are read but never written.
func (app *application) handleLLBCount(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "LLB.COUNT")
		return
	}

	if len(args) == 1 {
		var count uint64
		_ = app.store.View(args[0], func(sk *loglogbeta.Sketch) error {
			if sk != nil {
				count = sk.Cardinality()
			}
			return nil
		})
		_ = app.writeIntegerResponse(w, int64(count))
		return
	}

	var union *loglogbeta.Sketch
	for _, key := range args {
		var mismatch bool
		_ = app.store.View(key, func(sk *loglogbeta.Sketch) error {
			if sk == nil {
				return nil // missing keys are empty sets
			}
			if union == nil {
				union = sk.Clone()
				return nil
			}
			if err := union.Merge(sk); err != nil {
				mismatch = true
			}
			return nil
		})
		if mismatch {
			app.precisionMismatchResponse(w)
			return
		}
	}

	if union == nil {
		_ = app.writeIntegerResponse(w, 0)
		return
	}
	_ = app.writeIntegerResponse(w, int64(union.Cardinality()))
}

// handleLLBMerge handles the LLB.MERGE command.
// Syntax: LLB.MERGE destKey srcKey [srcKey ...]
//
// Phase 1 folds all sources into a private accumulator under shared
// locks. Phase 2 merges the accumulator into the destination under its
// exclusive lock, creating the destination at the accumulator's precision
// if it does not exist. Sources are never mutated.
func (app *application) handleLLBMerge(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "LLB.MERGE")
		return
	}

	var acc *loglogbeta.Sketch
	for _, key := range args[1:] {
		var mismatch bool
		_ = app.store.View(key, func(sk *loglogbeta.Sketch) error {
			if sk == nil {
				return nil
			}
			if acc == nil {
				acc = sk.Clone()
				return nil
			}
			if err := acc.Merge(sk); err != nil {
				mismatch = true
			}
			return nil
		})
		if mismatch {
			app.precisionMismatchResponse(w)
			return
		}
	}

	if acc == nil {
		// All sources missing: union of empty sets. Create the
		// destination if needed so the key exists afterwards, as with
		// PFMERGE.
		acc, _ = loglogbeta.New(app.config.defaultPrecision)
	}

	var mismatch bool
	app.store.Mutate(args[0], func(cur *loglogbeta.Sketch) (*loglogbeta.Sketch, bool) {
		if cur == nil {
			return acc, true
		}
		if err := cur.Merge(acc); err != nil {
			mismatch = true
			return cur, false
		}
		return cur, true
	})

	if mismatch {
		app.precisionMismatchResponse(w)
		return
	}

	app.logCommand("LLB.MERGE", args)
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleLLBPrecision handles the LLB.PRECISION command.
// Syntax: LLB.PRECISION key
func (app *application) handleLLBPrecision(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "LLB.PRECISION")
		return
	}

	var precision int64 = -1
	_ = app.store.View(args[0], func(sk *loglogbeta.Sketch) error {
		if sk != nil {
			precision = int64(sk.Precision())
		}
		return nil
	})

	if precision < 0 {
		_ = app.writeNilResponse(w)
		return
	}
	_ = app.writeIntegerResponse(w, precision)
}
