// main.go is the entry point for the llb server. It wires together the
// storage layer, persistence layer, and network server, and manages
// the operational lifecycle including background maintenance tasks.
//
// Startup Sequence
// ================
//
// The server follows a careful initialization order. First the empty
// in-memory Store is created. Then loadAOF() reads the journal file
// (if one exists) and populates the store; this happens before any
// network listener is active, so no locking is needed during the load
// phase. Only after the state is fully restored do we open the AOF for
// writing and start accepting client connections.
//
// Durability Policy
// =================
//
// The server does not fsync on every write. Writes are buffered in
// memory and a background goroutine calls Fsync() every second:
//
//   - Under normal operation, committed data reaches the physical
//     disk within one second of the write.
//   - After a kernel panic or power failure, at most one second of
//     recent writes may be lost.
//
// This trade-off prioritizes throughput over per-write durability.
//
// Background Maintenance
// ======================
//
// A single background goroutine flushes the AOF buffer to disk every
// second and monitors the journal size for the auto-rewrite policy:
//
//	-aof-min-size:        Minimum file size before considering a rewrite.
//	-aof-rewrite-percent: Growth percentage over the base size to trigger.
//
// With the defaults of 64MB min and 100% growth: if the base size is
// 64MB, compaction triggers when the file reaches 128MB. After each
// compaction the new file becomes the base for future calculations.
//
// Graceful Shutdown
// =================
//
// On exit (SIGINT/SIGTERM or clean return) we perform a final
// CompactAOF so the journal is as small as possible for the next
// startup. Best-effort: if it fails, the journal remains valid, just
// larger than optimal.

package main

import (
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

type config struct {
	port              int
	maxConnections    int
	shutdownTimeout   time.Duration
	idleTimeout       time.Duration
	defaultPrecision  uint8
	persistence       bool
	aofFilename       string
	aofMinSize        int64
	aofRewritePercent int
	aofLoadTruncated  bool
	metricsAddr       string
}

type application struct {
	config          config
	logger          *slog.Logger
	listener        net.Listener
	store           *Store
	router          *Router
	metrics         *Metrics
	readyCh         chan struct{}
	wg              sync.WaitGroup
	connLimiter     chan struct{}
	aof             *AOF
	aofBaseSize     atomic.Int64
	isRewriting     atomic.Bool
	needsCompaction bool
	startTime       time.Time
}

func main() {
	var cfg config
	var precision uint

	flag.IntVar(&cfg.port, "port", 6479, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.UintVar(&precision, "precision", uint(loglogbeta.DefaultPrecision), "Default precision for sketches created by LLB.ADD (4-18)")
	flag.BoolVar(&cfg.persistence, "persistence", true, "Enable AOF persistence (set false for in-memory only mode)")
	flag.StringVar(&cfg.aofFilename, "aof", "journal.aof", "Append Only File path")
	flag.Int64Var(&cfg.aofMinSize, "aof-min-size", 64*1024*1024, "Min size (bytes) to trigger AOF rewrite")
	flag.IntVar(&cfg.aofRewritePercent, "aof-rewrite-percent", 100, "Percentage growth to trigger AOF rewrite")
	flag.BoolVar(&cfg.aofLoadTruncated, "aof-load-truncated", true, "Auto-recover from truncated AOF (set false for strict mode)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty to disable)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if precision < loglogbeta.MinPrecision || precision > loglogbeta.MaxPrecision {
		logger.Error("invalid -precision, must be between 4 and 18", "precision", precision)
		os.Exit(1)
	}
	cfg.defaultPrecision = uint8(precision)

	app := &application{
		config:      cfg,
		logger:      logger,
		store:       NewStore(),
		connLimiter: make(chan struct{}, cfg.maxConnections),
		startTime:   time.Now(),
	}
	app.metrics = NewMetrics(func() float64 { return float64(app.store.Len()) })

	app.router = app.commands()

	// Persistence setup: load existing data and open AOF for writing.
	// When persistence is disabled, the server runs in memory-only mode.
	if cfg.persistence {
		// Replays any commands that happened after the snapshot
		// (or all of them if there is no snapshot).
		if err := app.loadAOF(); err != nil {
			logger.Error("failed to load AOF", "error", err)
			os.Exit(1) // Fatal: AOF corruption implies data loss risk
		}

		aof, err := NewAOF(cfg.aofFilename)
		if err != nil {
			logger.Error("failed to open AOF", "error", err)
			os.Exit(1)
		}
		app.aof = aof

		// Initialize base size on startup so growth is calculated correctly.
		if stat, err := aof.file.Stat(); err == nil {
			app.aofBaseSize.Store(stat.Size())
		} else {
			app.aofBaseSize.Store(0)
		}

		// If loadAOF detected truncation, compact immediately to heal the
		// file: a clean binary snapshot replaces the corrupted tail.
		if app.needsCompaction {
			logger.Info("AOF was truncated on load, triggering immediate compaction to heal the file...")
			if err := app.CompactAOF(); err != nil {
				logger.Error("failed to compact AOF after truncation recovery", "error", err)
				// Non-fatal: the server can still run, but the file won't be
				// healed until the next automatic or manual compaction.
			} else {
				logger.Info("AOF healed successfully")
			}
		}
	} else {
		logger.Info("persistence disabled, running in memory-only mode")
	}

	// Optional Prometheus endpoint on its own listener, so scraping
	// never competes with the RESP data path.
	if cfg.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", app.metrics.Handler())
			logger.Info("metrics endpoint starting", "address", cfg.metricsAddr)
			if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	// Background Maintenance Loop
	//
	// The heartbeat of the persistence system: flush data to disk every
	// second and trigger compaction when the journal grows too large.
	go func() {
		fsyncTicker := time.NewTicker(1 * time.Second)
		defer fsyncTicker.Stop()

		for range fsyncTicker.C {
			// Skip persistence operations in memory-only mode.
			if app.aof == nil {
				continue
			}

			// Durability: force buffered writes to the physical disk. This
			// backs the "at most 1 second of data loss" guarantee.
			if err := app.aof.Fsync(); err != nil {
				logger.Error("background sync failed", "error", err)
			}

			// Compaction check. Stat() is essentially free on modern
			// filesystems (cached in the inode).
			stat, err := app.aof.file.Stat()
			if err != nil {
				continue
			}

			currentSize := stat.Size()
			baseSize := app.aofBaseSize.Load()

			// Don't rewrite tiny files. Even if the percentage threshold is
			// technically exceeded (1KB -> 2KB is 100% growth), the overhead
			// of compaction isn't worth it for small datasets.
			if currentSize < cfg.aofMinSize {
				continue
			}

			// Growth policy: trigger when size exceeds base + (base * percent / 100).
			growthTarget := baseSize + (baseSize * int64(cfg.aofRewritePercent) / 100)

			if currentSize > growthTarget {
				// Only one compaction at a time. CompareAndSwap returns true
				// only if we flipped false -> true.
				if app.isRewriting.CompareAndSwap(false, true) {
					logger.Info("auto-rewrite triggered",
						"current_bytes", currentSize,
						"base_bytes", baseSize,
						"threshold_percent", cfg.aofRewritePercent)

					// Run in a separate goroutine so the maintenance loop
					// doesn't miss fsync ticks.
					go func() {
						defer app.isRewriting.Store(false)

						start := time.Now()
						if err := app.CompactAOF(); err != nil {
							logger.Error("auto-rewrite failed", "error", err)
						} else {
							logger.Info("auto-rewrite completed", "duration", time.Since(start))
						}
					}()
				}
			}
		}
	}()

	// Final compaction on exit, so the next startup replays as little
	// text tail as possible.
	defer func() {
		if app.aof == nil {
			logger.Info("shutting down...")
			return
		}
		logger.Info("shutting down, compacting AOF...")
		if err := app.CompactAOF(); err != nil {
			logger.Error("failed to compact AOF on exit", "error", err)
		}
		_ = app.aof.Close()
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
