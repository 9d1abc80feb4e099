// main.go is the entry point for the Cardinal server. It wires together the
// storage layer, the snapshot persistence and the network server, and
// manages the operational lifecycle.
//
// Startup Sequence
// ================
//
// The empty in-memory Store is created first, then loadSnapshot() restores
// any previous state from the snapshot file. This happens before the
// listener opens, so the load phase needs no locking. Only with the state
// fully restored does the server start accepting connections.
//
// Durability Policy
// =================
//
// Persistence is snapshot-based and explicit: the SAVE command writes a
// point-in-time copy of every key, and a final snapshot is taken on
// graceful shutdown. Sketches are approximations by nature, so losing the
// updates since the last snapshot degrades an estimate's freshness, not
// the dataset's integrity. Clients that need tighter bounds issue SAVE at
// their own cadence.
//
// Observability
// =============
//
// When -metrics-addr is set, a separate HTTP listener exposes Prometheus
// metrics on /metrics: commands by name, connections and live key count.
// Keeping the scrape endpoint off the RESP port means monitoring can never
// consume a client connection slot.

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

	"github.com/cardinalkit/cardinal/internal/sketch/hll"
)

type config struct {
	port             int
	maxConnections   int
	shutdownTimeout  time.Duration
	idleTimeout      time.Duration
	defaultPrecision int
	snapshotPath     string
	metricsAddr      string
}

type application struct {
	config      config
	logger      *slog.Logger
	listener    net.Listener
	store       *Store
	router      *Router
	metrics     *Metrics
	readyCh     chan struct{}
	wg          sync.WaitGroup
	connLimiter chan struct{}
	isSaving    atomic.Bool
}

func main() {
	var cfg config

	flag.IntVar(&cfg.port, "port", 6479, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.IntVar(&cfg.defaultPrecision, "default-precision", hll.DefaultPrecision, "Precision for sketches created implicitly by SK.ADD")
	flag.StringVar(&cfg.snapshotPath, "snapshot", "cardinal.crd", "Snapshot file path (empty to disable persistence)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (empty to disable)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store := NewStore()

	app := &application{
		config:      cfg,
		logger:      logger,
		store:       store,
		metrics:     NewMetrics(store),
		connLimiter: make(chan struct{}, cfg.maxConnections),
	}

	app.router = app.commands()

	if err := app.loadSnapshot(); err != nil {
		logger.Error("failed to load snapshot", "error", err, "path", cfg.snapshotPath)
		os.Exit(1) // Fatal: snapshot corruption implies data loss risk
	}

	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", app.metrics.Handler())
		go func() {
			logger.Info("metrics listener starting", "address", cfg.metricsAddr)
			if err := http.ListenAndServe(cfg.metricsAddr, mux); err != nil {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
	}

	// Final snapshot on exit, best-effort: if it fails, the previous
	// snapshot on disk is still valid, just older.
	defer func() {
		if cfg.snapshotPath == "" {
			logger.Info("shutting down...")
			return
		}
		logger.Info("shutting down, saving snapshot...")
		if err := app.saveSnapshot(); err != nil {
			logger.Error("failed to save snapshot on exit", "error", err)
		}
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}
