package dataset

import "sync"

// Sink receives full batches from the accumulator. Enqueue must not block;
// it reports whether the batch was taken.
type Sink interface {
	Enqueue(b *Batch) bool
}

// Accumulator keeps one fixed-capacity in-memory buffer per split and hands
// full buffers to the sink. Append runs on the simulation goroutine and never
// performs I/O; the lock is held only for the buffer swap. Each full buffer
// is handed off exactly once, and no sample is ever duplicated across
// batches.
type Accumulator struct {
	mu   sync.Mutex
	size int
	bufs map[Split][]Sample
	sink Sink
}

// NewAccumulator returns an accumulator producing batches of batchSize
// samples. batchSize < 1 is treated as 1.
func NewAccumulator(batchSize int, sink Sink) *Accumulator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Accumulator{
		size: batchSize,
		bufs: make(map[Split][]Sample),
		sink: sink,
	}
}

// Append adds a sample to the split's buffer. When the buffer reaches
// capacity it is swapped for a fresh one and handed to the sink outside the
// lock.
func (a *Accumulator) Append(split Split, s Sample) {
	a.mu.Lock()
	buf := append(a.bufs[split], s)
	if len(buf) < a.size {
		a.bufs[split] = buf
		a.mu.Unlock()
		return
	}
	a.bufs[split] = make([]Sample, 0, a.size)
	a.mu.Unlock()

	a.sink.Enqueue(&Batch{Split: split, Samples: buf})
}

// Flush hands off the split's buffer even if partially filled. Used on
// graceful shutdown so no trailing samples are silently dropped. A no-op for
// an empty buffer.
func (a *Accumulator) Flush(split Split) {
	a.mu.Lock()
	buf := a.bufs[split]
	if len(buf) == 0 {
		a.mu.Unlock()
		return
	}
	a.bufs[split] = make([]Sample, 0, a.size)
	a.mu.Unlock()

	a.sink.Enqueue(&Batch{Split: split, Samples: buf})
}

// FlushAll flushes every split.
func (a *Accumulator) FlushAll() {
	for _, split := range Splits() {
		a.Flush(split)
	}
}

// Discard drops all buffered samples without hand-off. Used when the scene is
// cleared and pending samples no longer belong to a valid capture.
func (a *Accumulator) Discard() {
	a.mu.Lock()
	a.bufs = make(map[Split][]Sample)
	a.mu.Unlock()
}

// Buffered returns the number of samples currently buffered for split.
func (a *Accumulator) Buffered(split Split) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bufs[split])
}
