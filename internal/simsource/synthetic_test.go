package simsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-data/depthcap/internal/eventbus"
)

func TestSyntheticRunPublishesLifecycle(t *testing.T) {
	bus := eventbus.New()

	var trace []string
	for _, topic := range []string{TopicStarted, TopicSceneCreated, TopicFrame, TopicSceneCleared, TopicStopped} {
		topic := topic
		_, err := bus.Subscribe(topic, "test", func(any) {
			trace = append(trace, topic)
		})
		require.NoError(t, err)
	}

	src := NewSynthetic(SyntheticConfig{Bus: bus, Frames: 10})
	require.NoError(t, src.Run(context.Background()))

	require.Len(t, trace, 14)
	assert.Equal(t, []string{TopicStarted, TopicSceneCreated}, trace[:2])
	for _, topic := range trace[2:12] {
		assert.Equal(t, TopicFrame, topic)
	}
	assert.Equal(t, []string{TopicSceneCleared, TopicStopped}, trace[12:])
	assert.False(t, src.Running())
}

func TestSyntheticFrameIndicesAdvance(t *testing.T) {
	bus := eventbus.New()

	var indices []uint64
	_, err := bus.Subscribe(TopicFrame, "test", func(p any) {
		indices = append(indices, p.(Frame).FrameIndex)
	})
	require.NoError(t, err)

	src := NewSynthetic(SyntheticConfig{Bus: bus, Frames: 5})
	require.NoError(t, src.Run(context.Background()))

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, indices)
}

func TestSyntheticRunStopsOnCancel(t *testing.T) {
	bus := eventbus.New()
	src := NewSynthetic(SyntheticConfig{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, src.Running())
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, src.Running())
}

func TestSyntheticProviders(t *testing.T) {
	bus := eventbus.New()
	src := NewSynthetic(SyntheticConfig{Bus: bus, Width: 8, Height: 4})

	pose, ok := src.DronePose()
	require.True(t, ok)
	target, ok := src.TargetPosition()
	require.True(t, ok)
	assert.NotEqual(t, pose.Pos, target)

	img, ok := src.DepthImage()
	require.True(t, ok)
	require.Len(t, img, 4)
	for _, row := range img {
		assert.Len(t, row, 8)
	}
	// Depth values are positive ranges, not raw zeros.
	assert.Greater(t, img[0][0], float32(0))
}
