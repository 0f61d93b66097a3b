package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skyward-data/depthcap/internal/api"
	"github.com/skyward-data/depthcap/internal/config"
	"github.com/skyward-data/depthcap/internal/counterdb"
	"github.com/skyward-data/depthcap/internal/dataset"
	"github.com/skyward-data/depthcap/internal/eventbus"
	"github.com/skyward-data/depthcap/internal/sampler"
	"github.com/skyward-data/depthcap/internal/simsource"
	"github.com/skyward-data/depthcap/internal/version"
)

var (
	configPath = flag.String("config", "", "Path to JSON config file")
	listen     = flag.String("listen", ":8080", "Listen address")
	devMode    = flag.Bool("dev", false, "Run the synthetic flight unpaced (as fast as possible)")
	frames     = flag.Uint64("frames", 0, "Stop after this many frames (0 = run until interrupted)")
	outputDir  = flag.String("output", "", "Override output directory from config")
)

// Main
func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyCaptureConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadCaptureConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	baseDir := cfg.GetOutputDir()
	if *outputDir != "" {
		baseDir = *outputDir
	}

	// The counter database lives at the dataset root, outside any
	// per-session timestamp subdirectory, so counters survive across
	// sessions.
	store, err := counterdb.Open(filepath.Join(baseDir, counterdb.DBFileName))
	if err != nil {
		log.Fatalf("failed to open counter database: %v", err)
	}
	defer store.Close()

	sessionID, err := store.BeginSession(baseDir)
	if err != nil {
		log.Fatalf("failed to record session: %v", err)
	}
	log.Printf("depthcap %s session %s recording to %s", version.Version, sessionID, baseDir)

	bus := eventbus.New()

	src := simsource.NewSynthetic(simsource.SyntheticConfig{
		Bus:      bus,
		Frames:   *frames,
		Realtime: !*devMode,
	})

	writer, err := dataset.NewWriter(dataset.WriterConfig{
		BaseDir:    baseDir,
		Counters:   store,
		Bus:        bus,
		QueueDepth: cfg.GetQueueDepth(),
		Verbose:    cfg.GetVerbose(),
	})
	if err != nil {
		log.Fatalf("failed to create batch writer: %v", err)
	}

	collector, err := dataset.NewCollector(dataset.CollectorConfig{
		Bus: bus,
		Providers: simsource.Providers{
			Pose:   src,
			Target: src,
			Depth:  src,
		},
		Sampler:         sampler.New(cfg.GetCaptureEvery(), cfg.GetVictimThreshold()),
		Writer:          writer,
		Counters:        store,
		BatchSize:       cfg.GetBatchSize(),
		BaseDir:         baseDir,
		TimestampSubdir: cfg.GetTimestampSubdir(),
		SplitRatios:     cfg.GetSplitRatios(),
		Verbose:         cfg.GetVerbose(),
	})
	if err != nil {
		log.Fatalf("failed to create collector: %v", err)
	}
	if err := collector.Attach(); err != nil {
		log.Fatalf("failed to attach collector: %v", err)
	}

	// Create a wait group for the simulation, status, and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Batch outcomes are published from the writer goroutines; route them
	// through a queue so the log lines come off one goroutine.
	statusQueue := eventbus.NewQueue()
	subscribeStatus := func(topic string, fn eventbus.Callback) {
		if _, err := bus.SubscribeQueued(topic, "main-status", statusQueue, fn); err != nil {
			log.Fatalf("failed to subscribe to %s: %v", topic, err)
		}
	}
	subscribeStatus(dataset.TopicBatchSaved, func(p any) {
		ev := p.(dataset.BatchSaved)
		log.Printf("saved %s batch %d (%d samples) to %s", ev.Split, ev.Counter, ev.Count, ev.Folder)
	})
	subscribeStatus(dataset.TopicBatchError, func(p any) {
		ev := p.(dataset.BatchError)
		log.Printf("batch dropped: split=%s count=%d: %s", ev.Split, ev.Count, ev.Err)
	})
	subscribeStatus(dataset.TopicVictimDetected, func(p any) {
		ev := p.(dataset.VictimDetected)
		log.Printf("victim detected at frame %d, distance %.2fm", ev.Frame, ev.Distance)
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		statusQueue.Run(ctx)
		log.Print("status routine terminated")
	}()

	// run the simulation routine: the frame loop owns capture, so every
	// collector frame callback runs on this goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("simulation source error: %v", err)
		}
		log.Print("simulation routine terminated")
		// A frame-limited run finishes on its own; shut the rest down too.
		stop()
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(collector, store, cfg).ServeMux()
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish, then drain the capture pipeline
	wg.Wait()
	if err := collector.Shutdown(cfg.GetShutdownTimeout()); err != nil {
		log.Printf("collector shutdown: %v", err)
	}
	statusQueue.Drain()
	bus.UnsubscribeAll("main-status")
	log.Printf("Graceful shutdown complete")
}
