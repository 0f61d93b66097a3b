package dataset

import (
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/skyward-data/depthcap/internal/counterdb"
	"github.com/skyward-data/depthcap/internal/eventbus"
	"github.com/skyward-data/depthcap/internal/geom"
	"github.com/skyward-data/depthcap/internal/sampler"
	"github.com/skyward-data/depthcap/internal/simsource"
)

// scriptedSim implements the provider interfaces with a settable
// target distance (drone on the -X axis, target at the origin).
type scriptedSim struct {
	mu        sync.Mutex
	distance  float64
	poseOK    bool
	targetOK  bool
	depthOK   bool
	depthGets int
}

func newScriptedSim() *scriptedSim {
	return &scriptedSim{distance: 10, poseOK: true, targetOK: true, depthOK: true}
}

func (s *scriptedSim) setDistance(d float64) {
	s.mu.Lock()
	s.distance = d
	s.mu.Unlock()
}

func (s *scriptedSim) DronePose() (geom.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geom.Pose{Pos: r3.Vec{X: -s.distance}}, s.poseOK
}

func (s *scriptedSim) TargetPosition() (r3.Vec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return r3.Vec{}, s.targetOK
}

func (s *scriptedSim) DepthImage() ([][]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depthGets++
	return [][]float32{{1, 2}, {3, 4}}, s.depthOK
}

func (s *scriptedSim) providers() simsource.Providers {
	return simsource.Providers{Pose: s, Target: s, Depth: s}
}

// fakeCounters satisfies both Sequencer and CounterStore.
type fakeCounters struct {
	fakeSequencer
	mu      sync.Mutex
	resyncs []string
	cleared []string
}

// Resync resets the split's sequence the way the real store does when it
// rescans a directory with no batch files in it.
func (f *fakeCounters) Resync(split, dir string) (int64, error) {
	f.mu.Lock()
	f.resyncs = append(f.resyncs, split)
	f.mu.Unlock()
	f.fakeSequencer.reset(split)
	return 1, nil
}

func (f *fakeCounters) ClearSplit(split, dir string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, split)
	return 1, nil
}

func (f *fakeCounters) resyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resyncs)
}

type collectorHarness struct {
	bus       *eventbus.Bus
	sim       *scriptedSim
	counters  *fakeCounters
	collector *Collector
	writer    *Writer
	rec       *eventRecorder
	captures  *captureRecorder
}

type captureRecorder struct {
	mu      sync.Mutex
	samples []CaptureComplete
	victims []VictimDetected
}

func (r *captureRecorder) counts() (samples, victims int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples), len(r.victims)
}

func newCollectorHarness(t *testing.T, captureEvery, batchSize int, threshold float64) *collectorHarness {
	t.Helper()

	h := &collectorHarness{
		bus:      eventbus.New(),
		sim:      newScriptedSim(),
		counters: &fakeCounters{},
	}
	h.rec = newEventRecorder(t, h.bus)

	h.captures = &captureRecorder{}
	_, err := h.bus.Subscribe(TopicCaptureComplete, "test", func(p any) {
		h.captures.mu.Lock()
		h.captures.samples = append(h.captures.samples, p.(CaptureComplete))
		h.captures.mu.Unlock()
	})
	require.NoError(t, err)
	_, err = h.bus.Subscribe(TopicVictimDetected, "test", func(p any) {
		h.captures.mu.Lock()
		h.captures.victims = append(h.captures.victims, p.(VictimDetected))
		h.captures.mu.Unlock()
	})
	require.NoError(t, err)

	h.writer, err = NewWriter(WriterConfig{
		BaseDir:  t.TempDir(),
		Counters: h.counters,
		Bus:      h.bus,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)

	h.collector, err = NewCollector(CollectorConfig{
		Bus:         h.bus,
		Providers:   h.sim.providers(),
		Sampler:     sampler.New(captureEvery, threshold),
		Writer:      h.writer,
		Counters:    h.counters,
		BatchSize:   batchSize,
		BaseDir:     t.TempDir(),
		SplitRatios: [3]float64{1, 0, 0}, // deterministic: everything train
		Rand:        rand.New(rand.NewSource(1)),
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, h.collector.Attach())
	return h
}

func (h *collectorHarness) tick(n int) {
	for i := 0; i < n; i++ {
		h.bus.Publish(simsource.TopicFrame, simsource.Frame{FrameIndex: uint64(i)})
	}
}

func (h *collectorHarness) startScene() {
	h.bus.Publish(simsource.TopicStarted, nil)
	h.bus.Publish(simsource.TopicSceneCreated, nil)
}

func TestCollectorPeriodicCapture(t *testing.T) {
	h := newCollectorHarness(t, 10, 100, 0)
	h.startScene()

	h.tick(25)

	stats := h.collector.Stats()
	assert.Equal(t, uint64(25), stats.Frames)
	assert.Equal(t, uint64(2), stats.Captured)

	samples, victims := h.captures.counts()
	assert.Equal(t, 2, samples)
	assert.Zero(t, victims)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorInactiveUntilSceneCreated(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)

	h.tick(5)
	assert.Zero(t, h.collector.Stats().Captured)

	h.startScene()
	h.tick(5)
	assert.Equal(t, uint64(5), h.collector.Stats().Captured)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorVictimEdgeTrigger(t *testing.T) {
	h := newCollectorHarness(t, 1000, 100, 2.0)
	h.startScene()

	for _, d := range []float64{5, 3, 1.5, 1.0, 2.5, 1.8} {
		h.sim.setDistance(d)
		h.tick(1)
	}

	stats := h.collector.Stats()
	assert.Equal(t, uint64(2), stats.Anomalies)
	assert.Equal(t, uint64(2), stats.Captured)

	_, victims := h.captures.counts()
	assert.Equal(t, 2, victims)

	h.captures.mu.Lock()
	frames := []uint64{h.captures.victims[0].Frame, h.captures.victims[1].Frame}
	h.captures.mu.Unlock()
	assert.Equal(t, []uint64{3, 6}, frames)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorSkipsWhenPoseUnavailable(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene()

	h.sim.mu.Lock()
	h.sim.poseOK = false
	h.sim.mu.Unlock()
	h.tick(3)

	assert.Zero(t, h.collector.Stats().Captured)
	assert.Equal(t, uint64(3), h.collector.Stats().Frames)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorSkipsWhenTargetUnavailable(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene()

	h.sim.mu.Lock()
	h.sim.targetOK = false
	h.sim.mu.Unlock()
	h.tick(3)

	stats := h.collector.Stats()
	assert.Zero(t, stats.Captured)
	assert.Equal(t, uint64(3), stats.Frames)
	samples, victims := h.captures.counts()
	assert.Zero(t, samples)
	assert.Zero(t, victims)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorShutdownFlushesPartialBatch(t *testing.T) {
	h := newCollectorHarness(t, 1, 3, 0)
	h.startScene()

	// 7 accepted samples: 2 full batches now, 1 buffered until shutdown.
	h.tick(7)
	saved := h.rec.waitSaved(t, 2)
	assert.Len(t, saved, 2)

	require.NoError(t, h.collector.Shutdown(5*time.Second))
	saved = h.rec.waitSaved(t, 3)
	assert.Equal(t, 1, saved[2].Count)
}

func TestCollectorShutdownStopsCapture(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene()
	h.tick(2)
	require.NoError(t, h.collector.Shutdown(time.Second))

	before := h.collector.Stats().Captured
	h.tick(5)
	assert.Equal(t, before, h.collector.Stats().Captured)
}

func TestCollectorSceneClearedDiscardsBuffer(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene()
	h.tick(4)

	h.bus.Publish(simsource.TopicSceneCleared, nil)
	h.collector.Flush()

	// Nothing reaches the writer: the buffered samples were discarded.
	time.Sleep(10 * time.Millisecond)
	saved, _ := h.rec.counts()
	assert.Zero(t, saved)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorActionTracking(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene()

	h.bus.Publish(simsource.TopicMove, simsource.Move{DY: 0.5})
	h.tick(1)
	h.bus.Publish(simsource.TopicRotate, -0.3)
	h.tick(1)
	h.bus.Publish(simsource.TopicRotate, 0.001) // deadband: hover
	h.tick(1)

	h.captures.mu.Lock()
	actions := []int{
		h.captures.samples[0].Action,
		h.captures.samples[1].Action,
		h.captures.samples[2].Action,
	}
	h.captures.mu.Unlock()
	assert.Equal(t, []int{ActionForward, ActionTurnLeft, ActionHover}, actions)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorClearBatchesInterlock(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene() // publishes simulation/started

	_, err := h.collector.ClearBatches()
	assert.ErrorIs(t, err, ErrSimulationRunning)
	assert.Empty(t, h.counters.cleared)

	h.bus.Publish(simsource.TopicStopped, nil)
	removed, err := h.collector.ClearBatches()
	require.NoError(t, err)
	assert.Equal(t, 3, removed) // one per split from the fake
	assert.Equal(t, []string{"train", "val", "test"}, h.counters.cleared)
	require.NoError(t, h.collector.Shutdown(time.Second))
}

func TestCollectorDirectoryChange(t *testing.T) {
	h := newCollectorHarness(t, 1, 100, 0)
	h.startScene()
	h.tick(2) // buffer some samples

	baseline := h.counters.resyncCount()
	newDir := t.TempDir()
	h.collector.ChangeDirectory(newDir, false)

	assert.Equal(t, newDir, h.collector.BaseDir())
	// One resync per split against the new directory.
	assert.Equal(t, baseline+3, h.counters.resyncCount())

	// The buffered samples were flushed into the old tree rather than
	// silently dropped.
	saved := h.rec.waitSaved(t, 1)
	assert.Equal(t, 2, saved[0].Count)

	// Split subdirectories exist under the new root.
	for _, split := range Splits() {
		assert.DirExists(t, filepath.Join(newDir, string(split)))
	}
	require.NoError(t, h.collector.Shutdown(time.Second))
}

// A directory change issued while a write is in flight must wait for the
// write to land in the old tree under the old counters. Without that, the
// resync resets the counter against the empty new tree and the in-flight
// batch renames itself over an existing file in the old one.
func TestCollectorDirectoryChangeWaitsForInFlightWrites(t *testing.T) {
	h := newCollectorHarness(t, 1, 1, 0) // every sample is its own batch
	h.startScene()
	oldDir := h.collector.BaseDir()

	h.tick(1)
	saved := h.rec.waitSaved(t, 1)
	first := filepath.Join(saved[0].Folder, counterdb.BatchFileName("train", saved[0].Counter))
	want, err := ReadBatchFile(first)
	require.NoError(t, err)

	// Block the worker inside the sequencer with the second batch in flight.
	gate := make(chan struct{})
	h.counters.setGate(gate)
	h.tick(1)

	newDir := t.TempDir()
	changed := make(chan struct{})
	go func() {
		h.collector.ChangeDirectory(newDir, false)
		close(changed)
	}()

	select {
	case <-changed:
		t.Fatal("directory change completed with a write in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, oldDir, h.collector.BaseDir())

	close(gate)
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("directory change did not complete")
	}
	assert.Equal(t, newDir, h.collector.BaseDir())

	// The in-flight batch landed in the old tree with the next counter.
	saved = h.rec.waitSaved(t, 2)
	assert.Equal(t, filepath.Join(oldDir, "train"), saved[1].Folder)
	assert.Equal(t, int64(2), saved[1].Counter)

	// The first batch file was not replaced.
	got, err := ReadBatchFile(first)
	require.NoError(t, err)
	assert.Equal(t, want.Samples[0].Frame, got.Samples[0].Frame)

	// Capture after the change starts over in the new tree.
	h.tick(1)
	saved = h.rec.waitSaved(t, 3)
	assert.Equal(t, filepath.Join(newDir, "train"), saved[2].Folder)
	assert.Equal(t, int64(1), saved[2].Counter)

	require.NoError(t, h.collector.Shutdown(5*time.Second))
}
