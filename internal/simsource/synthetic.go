package simsource

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/skyward-data/depthcap/internal/eventbus"
	"github.com/skyward-data/depthcap/internal/geom"
)

// SyntheticConfig configures a SyntheticSource.
type SyntheticConfig struct {
	// Bus receives the simulation topics. Required.
	Bus *eventbus.Bus
	// TickRate is the simulated frame rate. Defaults to 20 Hz.
	TickRate float64
	// Frames limits the run; 0 means run until the context is cancelled.
	Frames uint64
	// Width and Height size the synthetic depth images. Default 64x48.
	Width, Height int
	// Realtime paces ticks with a wall-clock ticker. Tests leave it false
	// to run as fast as possible.
	Realtime bool
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
}

// SyntheticSource is a stand-in simulator: it flies a scripted orbit that
// repeatedly approaches and leaves a fixed target, renders a synthetic depth
// gradient, and publishes the simulation topics the collector subscribes to.
// It implements the three provider interfaces.
type SyntheticSource struct {
	bus    *eventbus.Bus
	cfg    SyntheticConfig
	logger *log.Logger

	mu      sync.Mutex
	frame   uint64
	pose    geom.Pose
	target  r3.Vec
	running bool
}

// NewSynthetic returns a source with the target at a fixed world position.
func NewSynthetic(cfg SyntheticConfig) *SyntheticSource {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 20
	}
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SyntheticSource{
		bus:    cfg.Bus,
		cfg:    cfg,
		logger: logger,
		target: r3.Vec{X: 4, Y: 0, Z: 0.5},
		pose:   geom.Pose{Pos: r3.Vec{X: -6, Y: 0, Z: 2}},
	}
}

// Run drives the frame loop on the calling goroutine (the simulation
// "thread"). It publishes scene/created, then one simulation/frame per tick,
// then scene/cleared and simulation/stopped on exit.
func (s *SyntheticSource) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.bus.Publish(TopicStarted, nil)
	s.bus.Publish(TopicSceneCreated, nil)
	s.logger.Printf("SyntheticSource: running at %.0f Hz", s.cfg.TickRate)

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.bus.Publish(TopicSceneCleared, nil)
		s.bus.Publish(TopicStopped, nil)
	}()

	dt := 1 / s.cfg.TickRate
	var ticker *time.Ticker
	if s.cfg.Realtime {
		ticker = time.NewTicker(time.Duration(dt * float64(time.Second)))
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.cfg.Realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}

		frame := s.step(dt)
		s.bus.Publish(TopicFrame, Frame{FrameIndex: frame, DeltaTime: dt})

		if s.cfg.Frames > 0 && frame >= s.cfg.Frames {
			return nil
		}
	}
}

// step advances the scripted flight by one tick and returns the frame index.
// The path is a slow ellipse through the target's neighborhood so the
// distance trace repeatedly crosses any reasonable detection threshold.
func (s *SyntheticSource) step(dt float64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame++
	t := float64(s.frame) * dt * 0.25
	s.pose.Pos = r3.Vec{
		X: s.target.X + 6*math.Cos(t),
		Y: s.target.Y + 2*math.Sin(t),
		Z: 2 + 0.5*math.Sin(t/3),
	}
	s.pose.Yaw = math.Atan2(s.target.Y-s.pose.Pos.Y, s.target.X-s.pose.Pos.X)
	return s.frame
}

// Running reports whether the frame loop is active. The batch-removal
// interlock consults this.
func (s *SyntheticSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// DronePose implements PoseProvider.
func (s *SyntheticSource) DronePose() (geom.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose, true
}

// TargetPosition implements TargetProvider.
func (s *SyntheticSource) TargetPosition() (r3.Vec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target, true
}

// DepthImage implements DepthProvider. The image is a radial gradient
// centered on the target bearing; cheap but shaped enough to exercise the
// batch codec with realistic sizes.
func (s *SyntheticSource) DepthImage() ([][]float32, bool) {
	s.mu.Lock()
	pose := s.pose
	target := s.target
	s.mu.Unlock()

	dist := r3.Norm(r3.Sub(target, pose.Pos))
	img := make([][]float32, s.cfg.Height)
	cx, cy := float64(s.cfg.Width)/2, float64(s.cfg.Height)/2
	for y := range img {
		row := make([]float32, s.cfg.Width)
		for x := range row {
			dx := (float64(x) - cx) / cx
			dy := (float64(y) - cy) / cy
			row[x] = float32(dist + math.Sqrt(dx*dx+dy*dy))
		}
		img[y] = row
	}
	return img, true
}
