package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingSink collects handed-off batches.
type recordingSink struct {
	batches []*Batch
	reject  bool
}

func (s *recordingSink) Enqueue(b *Batch) bool {
	if s.reject {
		return false
	}
	s.batches = append(s.batches, b)
	return true
}

func sampleN(n int) Sample {
	return Sample{Frame: uint64(n), Distance: float32(n)}
}

// For N appended samples, exactly floor(N/batchSize) full batches are handed
// off, each with batchSize samples in insertion order, nothing skipped or
// duplicated.
func TestAppendHandsOffFullBatches(t *testing.T) {
	sink := &recordingSink{}
	a := NewAccumulator(3, sink)

	for i := 1; i <= 7; i++ {
		a.Append(SplitTrain, sampleN(i))
	}

	assert.Len(t, sink.batches, 2)
	assert.Equal(t, 1, a.Buffered(SplitTrain))

	var frames []uint64
	for _, b := range sink.batches {
		assert.Equal(t, SplitTrain, b.Split)
		assert.Len(t, b.Samples, 3)
		for _, s := range b.Samples {
			frames = append(frames, s.Frame)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, frames)
}

// batch_size=3, 7 accepted samples: 2 full batches plus 1 buffered sample
// that only leaves on Flush, as a partial batch of size 1.
func TestFlushHandsOffPartialBuffer(t *testing.T) {
	sink := &recordingSink{}
	a := NewAccumulator(3, sink)

	for i := 1; i <= 7; i++ {
		a.Append(SplitTrain, sampleN(i))
	}
	a.Flush(SplitTrain)

	assert.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[2].Samples, 1)
	assert.Equal(t, uint64(7), sink.batches[2].Samples[0].Frame)
	assert.Equal(t, 0, a.Buffered(SplitTrain))

	// Flushing an empty buffer is a no-op.
	a.Flush(SplitTrain)
	assert.Len(t, sink.batches, 3)
}

func TestSplitsAreIndependent(t *testing.T) {
	sink := &recordingSink{}
	a := NewAccumulator(2, sink)

	a.Append(SplitTrain, sampleN(1))
	a.Append(SplitVal, sampleN(2))
	a.Append(SplitTrain, sampleN(3))

	assert.Len(t, sink.batches, 1)
	assert.Equal(t, SplitTrain, sink.batches[0].Split)
	assert.Equal(t, 1, a.Buffered(SplitVal))
}

func TestFlushAll(t *testing.T) {
	sink := &recordingSink{}
	a := NewAccumulator(10, sink)

	a.Append(SplitTrain, sampleN(1))
	a.Append(SplitVal, sampleN(2))
	a.Append(SplitTest, sampleN(3))
	a.FlushAll()

	assert.Len(t, sink.batches, 3)
}

func TestDiscardDropsWithoutHandOff(t *testing.T) {
	sink := &recordingSink{}
	a := NewAccumulator(10, sink)

	a.Append(SplitTrain, sampleN(1))
	a.Append(SplitTrain, sampleN(2))
	a.Discard()
	a.FlushAll()

	assert.Empty(t, sink.batches)
	assert.Equal(t, 0, a.Buffered(SplitTrain))
}
