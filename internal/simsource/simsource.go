// Package simsource defines the simulation-side collaborators of the capture
// pipeline at their interface boundary, plus a synthetic source used by dev
// mode and tests. The real simulator connection lives outside this module;
// anything that can publish simulation/frame and answer the provider
// interfaces can drive the collector.
package simsource

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/skyward-data/depthcap/internal/geom"
)

// Bus topics published by the simulation side.
const (
	// TopicFrame fires once per simulation tick, on the simulation
	// goroutine. Payload: Frame. This is the sole entry point driving the
	// capture pipeline.
	TopicFrame = "simulation/frame"
	// TopicStarted and TopicStopped bracket a simulation run. No payload.
	TopicStarted = "simulation/started"
	TopicStopped = "simulation/stopped"
	// TopicSceneCreated and TopicSceneCleared bracket a usable scene.
	// Capture is active only in between. No payload.
	TopicSceneCreated = "scene/created"
	TopicSceneCleared = "scene/cleared"
	// TopicMove and TopicRotate carry control input. Payloads: Move, float64
	// (yaw rate).
	TopicMove   = "control/move"
	TopicRotate = "control/rotate"
)

// Frame is the per-tick payload of TopicFrame.
type Frame struct {
	FrameIndex uint64
	DeltaTime  float64
}

// Move is the payload of TopicMove.
type Move struct {
	DX, DY, DZ float64
}

// PoseProvider reports the drone pose. ok is false when the pose is
// transiently unavailable (expected near scene resets).
type PoseProvider interface {
	DronePose() (pose geom.Pose, ok bool)
}

// TargetProvider reports the tracked target's world position. ok is false
// when no target exists in the scene.
type TargetProvider interface {
	TargetPosition() (pos r3.Vec, ok bool)
}

// DepthProvider reports the latest depth image, row-major [height][width].
// ok is false when no image is available this frame.
type DepthProvider interface {
	DepthImage() (img [][]float32, ok bool)
}

// Providers bundles the three collaborator interfaces the collector consumes.
type Providers struct {
	Pose   PoseProvider
	Target TargetProvider
	Depth  DepthProvider
}
