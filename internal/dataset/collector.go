package dataset

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skyward-data/depthcap/internal/eventbus"
	"github.com/skyward-data/depthcap/internal/geom"
	"github.com/skyward-data/depthcap/internal/sampler"
	"github.com/skyward-data/depthcap/internal/simsource"
)

// ErrSimulationRunning is returned when an operator action requires the
// simulation to be stopped.
var ErrSimulationRunning = errors.New("dataset: refused, simulation is running")

// CounterStore is the counter persistence the collector needs beyond the
// writer's Sequencer: resynchronization and interlocked removal. Implemented
// by counterdb.Store.
type CounterStore interface {
	Resync(split, dir string) (int64, error)
	ClearSplit(split, dir string) (int, error)
}

// owner identifier used for every bus subscription, so teardown can remove
// them in one UnsubscribeAll.
const collectorOwner = "dataset-collector"

// CollectorConfig configures a Collector.
type CollectorConfig struct {
	Bus       *eventbus.Bus        // required
	Providers simsource.Providers  // required: Pose, Target, Depth
	Sampler   *sampler.Sampler     // required
	Writer    *Writer              // required
	Counters  CounterStore         // required
	BatchSize int                  // samples per batch; default 500
	BaseDir   string               // dataset root; default "depth_dataset"
	// TimestampSubdir nests output under a session timestamp directory.
	TimestampSubdir bool
	// SplitRatios is train/val/test selection probability. Defaults to
	// 0.98/0.01/0.01.
	SplitRatios [3]float64
	// Rand drives split selection; seedable for tests. Defaults to a
	// time-seeded source.
	Rand    *rand.Rand
	Logger  *log.Logger
	Verbose bool
}

// Collector wires the capture pipeline together: it subscribes to the
// simulation topics, consults the sampler once per frame, builds samples from
// the providers, and feeds the accumulator. Everything here runs on the
// simulation goroutine except Stats, ClearBatches, and Shutdown, which may be
// called from the admin surface.
type Collector struct {
	bus       *eventbus.Bus
	providers simsource.Providers
	sampler   *sampler.Sampler
	acc       *Accumulator
	writer    *Writer
	counters  CounterStore
	rnd       *rand.Rand
	logger    *log.Logger

	mu         sync.Mutex
	baseDir    string
	tsSubdir   bool
	ratios     [3]float64
	verbose    bool
	active     bool // scene ready, capture allowed
	simRunning bool
	lastAction int
	frames     uint64
	captured   uint64
	anomalies  uint64
}

// NewCollector creates the collector, prepares the output directory tree,
// and resynchronizes every split counter against it. Call Attach to begin
// receiving frames.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	if cfg.Bus == nil || cfg.Sampler == nil || cfg.Writer == nil || cfg.Counters == nil {
		return nil, fmt.Errorf("collector requires bus, sampler, writer, and counters")
	}
	if cfg.Providers.Pose == nil || cfg.Providers.Target == nil || cfg.Providers.Depth == nil {
		return nil, fmt.Errorf("collector requires pose, target, and depth providers")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "depth_dataset"
	}
	if cfg.SplitRatios == ([3]float64{}) {
		cfg.SplitRatios = [3]float64{0.98, 0.01, 0.01}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Collector{
		bus:        cfg.Bus,
		providers:  cfg.Providers,
		sampler:    cfg.Sampler,
		writer:     cfg.Writer,
		counters:   cfg.Counters,
		rnd:        cfg.Rand,
		logger:     logger,
		baseDir:    cfg.BaseDir,
		tsSubdir:   cfg.TimestampSubdir,
		ratios:     cfg.SplitRatios,
		verbose:    cfg.Verbose,
		lastAction: ActionHover,
	}
	c.acc = NewAccumulator(cfg.BatchSize, cfg.Writer)

	if c.tsSubdir {
		c.baseDir = filepath.Join(c.baseDir, time.Now().Format("2006-01-02_15-04-05"))
	}
	if err := c.setupDirs(c.baseDir); err != nil {
		return nil, err
	}
	c.writer.SetBaseDir(c.baseDir)
	return c, nil
}

// setupDirs creates the split directories and resyncs counters against them.
func (c *Collector) setupDirs(base string) error {
	for _, split := range Splits() {
		dir := filepath.Join(base, string(split))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if _, err := c.counters.Resync(string(split), dir); err != nil {
			return fmt.Errorf("resync %s: %w", split, err)
		}
	}
	return nil
}

// Attach registers every bus subscription. Frame handling runs synchronously
// on the publisher's (simulation) goroutine.
func (c *Collector) Attach() error {
	subs := []struct {
		topic string
		fn    eventbus.Callback
	}{
		{simsource.TopicFrame, c.onFrame},
		{simsource.TopicStarted, func(any) { c.setSimRunning(true) }},
		{simsource.TopicStopped, func(any) { c.setSimRunning(false) }},
		{simsource.TopicSceneCreated, c.onSceneCreated},
		{simsource.TopicSceneCleared, c.onSceneCleared},
		{simsource.TopicMove, c.onMove},
		{simsource.TopicRotate, c.onRotate},
		{TopicDirChanged, c.onDirChanged},
	}
	for _, s := range subs {
		if _, err := c.bus.Subscribe(s.topic, collectorOwner, s.fn); err != nil {
			return err
		}
	}
	return nil
}

// onFrame is the per-tick capture decision. No I/O, no unbounded waits: the
// heaviest work is copying one depth image into a sample.
func (c *Collector) onFrame(any) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	ratios := c.ratios
	action := c.lastAction
	c.mu.Unlock()

	pose, poseOK := c.providers.Pose.DronePose()
	target, targetOK := c.providers.Target.TargetPosition()

	var bearing geom.Bearing
	if poseOK && targetOK {
		bearing = geom.TargetBearing(pose, target)
	}

	dec := c.sampler.Observe(sampler.Frame{
		Distance: bearing.Distance,
		PoseOK:   poseOK,
		TargetOK: targetOK,
	})
	frame := c.sampler.FrameCount()

	c.mu.Lock()
	c.frames = frame
	if dec.Reason == sampler.ReasonAnomaly {
		c.anomalies++
	}
	c.mu.Unlock()

	if dec.Reason == sampler.ReasonAnomaly {
		c.bus.Publish(TopicVictimDetected, VictimDetected{
			Frame:     frame,
			Distance:  bearing.Distance,
			VictimVec: bearing.Vec4(),
		})
	}
	if !dec.Accept {
		return
	}

	depth, ok := c.providers.Depth.DepthImage()
	if !ok {
		// Transient sensor unavailability; skipped, not an error.
		return
	}

	sample := Sample{
		Frame:     frame,
		Depth:     depth,
		Pose:      poseArray(pose),
		Distance:  float32(bearing.Distance),
		VictimDir: bearing.Vec4(),
		Action:    action,
	}

	split := c.pickSplit(ratios)
	c.acc.Append(split, sample)

	c.mu.Lock()
	c.captured++
	c.mu.Unlock()

	c.bus.Publish(TopicCaptureComplete, CaptureComplete{
		Frame:     frame,
		Distance:  bearing.Distance,
		Action:    action,
		VictimVec: bearing.Vec4(),
	})
}

func poseArray(p geom.Pose) [6]float32 {
	return [6]float32{
		float32(p.Pos.X), float32(p.Pos.Y), float32(p.Pos.Z),
		float32(p.Roll), float32(p.Pitch), float32(p.Yaw),
	}
}

func (c *Collector) pickSplit(ratios [3]float64) Split {
	c.mu.Lock()
	p := c.rnd.Float64()
	c.mu.Unlock()
	switch {
	case p < ratios[0]:
		return SplitTrain
	case p < ratios[0]+ratios[1]:
		return SplitVal
	default:
		return SplitTest
	}
}

func (c *Collector) setSimRunning(running bool) {
	c.mu.Lock()
	c.simRunning = running
	c.mu.Unlock()
}

func (c *Collector) onSceneCreated(any) {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.logger.Printf("Collector: scene ready, capture active")
}

// onSceneCleared deactivates capture and discards buffered samples: they
// belong to a scene that no longer exists.
func (c *Collector) onSceneCleared(any) {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.acc.Discard()
	c.sampler.Reset()
	c.logger.Printf("Collector: scene cleared, capture inactive")
}

func (c *Collector) onMove(payload any) {
	m, ok := payload.(simsource.Move)
	if !ok {
		return
	}
	if label, ok := MoveAction(m.DX, m.DY, m.DZ); ok {
		c.mu.Lock()
		c.lastAction = label
		c.mu.Unlock()
	}
}

func (c *Collector) onRotate(payload any) {
	delta, ok := payload.(float64)
	if !ok {
		return
	}
	label := RotateAction(delta)
	c.mu.Lock()
	c.lastAction = label
	c.mu.Unlock()
}

// ChangeDirectory requests an output directory switch through the bus, so
// the change is serialized with frame handling.
func (c *Collector) ChangeDirectory(baseDir string, useTimestamp bool) {
	c.bus.Publish(TopicDirChanged, DirChanged{BaseDir: baseDir, UseTimestamp: useTimestamp})
}

// onDirChanged flushes pending buffers, waits for the writer to drain them
// into the old directory, swaps roots, and resyncs every counter against the
// new one.
func (c *Collector) onDirChanged(payload any) {
	req, ok := payload.(DirChanged)
	if !ok || req.BaseDir == "" {
		return
	}

	c.acc.FlushAll()
	// Queued batches must land in the old tree under the old counters before
	// the resync below resets those counters against the new tree.
	c.writer.Sync()

	base := req.BaseDir
	if req.UseTimestamp {
		base = filepath.Join(base, time.Now().Format("2006-01-02_15-04-05"))
	}
	if err := c.setupDirs(base); err != nil {
		c.logger.Printf("Collector: directory change to %s failed: %v", base, err)
		return
	}

	c.mu.Lock()
	c.baseDir = base
	verbose := c.verbose
	c.mu.Unlock()
	c.writer.SetBaseDir(base)

	c.logger.Printf("Collector: output directory changed to %s", base)
	c.bus.Publish(TopicConfigUpdated, ConfigUpdated{BaseDir: base, Verbose: verbose})
}

// ClearBatches removes every persisted batch file. Operator action, only
// permitted while the simulation is stopped; counters are resynced before
// capture can resume.
func (c *Collector) ClearBatches() (int, error) {
	c.mu.Lock()
	running := c.simRunning
	base := c.baseDir
	c.mu.Unlock()
	if running {
		return 0, ErrSimulationRunning
	}

	removed := 0
	for _, split := range Splits() {
		n, err := c.counters.ClearSplit(string(split), filepath.Join(base, string(split)))
		removed += n
		if err != nil {
			return removed, err
		}
	}
	c.logger.Printf("Collector: removed %d batch files under %s", removed, base)
	return removed, nil
}

// Flush hands off partially-filled buffers to the writer.
func (c *Collector) Flush() { c.acc.FlushAll() }

// Shutdown tears the collector down: unsubscribes everything (after which no
// collector callback will begin), flushes partial buffers, and gives the
// writer a bounded window to finish queued writes.
func (c *Collector) Shutdown(timeout time.Duration) error {
	c.bus.UnsubscribeAll(collectorOwner)
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()

	c.acc.FlushAll()
	if err := c.writer.Close(timeout); err != nil {
		return fmt.Errorf("collector shutdown: %w", err)
	}
	c.logger.Printf("Collector: shutdown complete")
	return nil
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Frames     uint64 `json:"frames"`
	Captured   uint64 `json:"captured"`
	Anomalies  uint64 `json:"anomalies"`
	Active     bool   `json:"active"`
	SimRunning bool   `json:"sim_running"`
	OutputDir  string `json:"output_dir"`
	LastAction string `json:"last_action"`
}

// Stats returns a snapshot of collector state. Safe from any goroutine.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Frames:     c.frames,
		Captured:   c.captured,
		Anomalies:  c.anomalies,
		Active:     c.active,
		SimRunning: c.simRunning,
		OutputDir:  c.baseDir,
		LastAction: ActionName(c.lastAction),
	}
}

// BaseDir returns the current dataset root.
func (c *Collector) BaseDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseDir
}
