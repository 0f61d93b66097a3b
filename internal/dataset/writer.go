package dataset

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/skyward-data/depthcap/internal/counterdb"
	"github.com/skyward-data/depthcap/internal/eventbus"
)

// Sequencer hands out persisted batch sequence numbers. Implemented by
// counterdb.Store.
type Sequencer interface {
	Next(split string) (int64, error)
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	// BaseDir is the dataset root; batches land in BaseDir/<split>/.
	BaseDir string
	// Counters names batch files. Required.
	Counters Sequencer
	// Bus receives dataset/batch/saved and dataset/batch/error events.
	// Required.
	Bus *eventbus.Bus
	// QueueDepth is the per-split queue capacity. Defaults to 8.
	QueueDepth int
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
	// Verbose enables per-batch debug logging.
	Verbose bool
}

// writeReq is one unit of worker input: a batch to persist, or a barrier to
// acknowledge. The destination directory is captured at enqueue time so a
// base-directory change cannot redirect a batch that was already queued.
type writeReq struct {
	batch   *Batch
	dir     string
	barrier chan struct{}
}

// Writer persists batches on background goroutines, one per split so that
// writes within a split keep submission order (sequence numbers stay
// monotonic on disk) while splits proceed in parallel. It never runs on, or
// blocks, the simulation goroutine: Enqueue is a non-blocking channel send,
// and a batch that cannot be queued is dropped and reported, not retried.
// Sync quiesces the queues so counter resynchronization can run with no
// write in flight.
type Writer struct {
	counters Sequencer
	bus      *eventbus.Bus
	logger   *log.Logger
	verbose  bool

	mu      sync.Mutex
	baseDir string
	closed  bool

	queues map[Split]chan writeReq
	wg     sync.WaitGroup
}

// NewWriter creates a writer and starts its per-split workers.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Counters == nil {
		return nil, fmt.Errorf("writer requires a sequencer")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("writer requires a bus")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = 8
	}
	w := &Writer{
		counters: cfg.Counters,
		bus:      cfg.Bus,
		logger:   logger,
		verbose:  cfg.Verbose,
		baseDir:  cfg.BaseDir,
		queues:   make(map[Split]chan writeReq, len(Splits())),
	}
	for _, split := range Splits() {
		q := make(chan writeReq, depth)
		w.queues[split] = q
		w.wg.Add(1)
		go w.worker(split, q)
	}
	return w, nil
}

// Enqueue implements Sink. It hands ownership of the batch to the writer.
// Returns false, after publishing dataset/batch/error, when the writer is
// closed or the split's queue is full.
func (w *Writer) Enqueue(b *Batch) bool {
	if b == nil || len(b.Samples) == 0 {
		return false
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.reportDrop(b, 0, "writer closed")
		return false
	}
	q := w.queues[b.Split]
	if q == nil {
		w.mu.Unlock()
		w.reportDrop(b, 0, fmt.Sprintf("unknown split %q", b.Split))
		return false
	}
	req := writeReq{batch: b, dir: filepath.Join(w.baseDir, string(b.Split))}
	// The send happens under the same lock that Close holds while closing
	// the queues, so it can never hit a closed channel; it is non-blocking,
	// so the lock is never held across a wait.
	select {
	case q <- req:
		w.mu.Unlock()
		return true
	default:
		w.mu.Unlock()
		w.reportDrop(b, 0, "writer queue full")
		return false
	}
}

// SetBaseDir switches the dataset root for subsequently enqueued batches.
// Callers should Sync, flush, and resync counters around the switch.
func (w *Writer) SetBaseDir(dir string) {
	w.mu.Lock()
	w.baseDir = dir
	w.mu.Unlock()
}

// Sync blocks until every batch enqueued before the call has been persisted
// or dropped. Required before a counter resync: a queued batch still names
// its file from the pre-resync counter, and letting it land after the resync
// would reuse a sequence number and silently replace an existing file.
// Returns immediately once the writer is closed.
func (w *Writer) Sync() {
	var barriers []chan struct{}
	for _, split := range Splits() {
		done := make(chan struct{})
		for {
			w.mu.Lock()
			if w.closed {
				w.mu.Unlock()
				return
			}
			q := w.queues[split]
			sent := false
			select {
			case q <- writeReq{barrier: done}:
				sent = true
			default:
			}
			w.mu.Unlock()
			if sent {
				barriers = append(barriers, done)
				break
			}
			// Queue full; the worker is draining it.
			time.Sleep(time.Millisecond)
		}
	}
	for _, done := range barriers {
		<-done
	}
}

// Close stops intake and waits up to timeout for queued writes to finish.
// Batches still pending after the timeout are abandoned and reported through
// dataset/batch/error, not silently lost.
func (w *Writer) Close(timeout time.Duration) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, q := range w.queues {
		close(q)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		abandoned := 0
		for _, split := range Splits() {
			for _, req := range drainQueue(w.queues[split]) {
				if req.barrier != nil {
					close(req.barrier)
					continue
				}
				w.reportDrop(req.batch, 0, "abandoned at shutdown")
				abandoned++
			}
		}
		return fmt.Errorf("writer shutdown timed out after %v (%d batches abandoned)", timeout, abandoned)
	}
}

// drainQueue empties whatever is left in a closed queue without blocking.
func drainQueue(q chan writeReq) []writeReq {
	var out []writeReq
	for {
		select {
		case req, ok := <-q:
			if !ok {
				return out
			}
			out = append(out, req)
		default:
			return out
		}
	}
}

func (w *Writer) worker(split Split, q chan writeReq) {
	defer w.wg.Done()
	for req := range q {
		if req.barrier != nil {
			close(req.barrier)
			continue
		}
		w.writeBatch(split, req)
	}
}

func (w *Writer) writeBatch(split Split, req writeReq) {
	b, dir := req.batch, req.dir

	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.reportError(b, dir, 0, err)
		return
	}

	seq, err := w.counters.Next(string(split))
	if err != nil {
		w.reportError(b, dir, 0, fmt.Errorf("next sequence: %w", err))
		return
	}

	path := filepath.Join(dir, counterdb.BatchFileName(string(split), seq))
	if err := WriteBatchFile(path, b); err != nil {
		w.reportError(b, dir, seq, err)
		return
	}

	if w.verbose {
		w.logger.Printf("BatchWriter: saved %s (%d samples)", path, len(b.Samples))
	}
	w.bus.Publish(TopicBatchSaved, BatchSaved{
		Folder:  dir,
		Counter: seq,
		Split:   split,
		Count:   len(b.Samples),
	})
}

func (w *Writer) reportError(b *Batch, dir string, seq int64, err error) {
	w.logger.Printf("BatchWriter: dropping %s batch (%d samples): %v", b.Split, len(b.Samples), err)
	w.bus.Publish(TopicBatchError, BatchError{
		Folder:  dir,
		Counter: seq,
		Split:   b.Split,
		Count:   len(b.Samples),
		Err:     err.Error(),
	})
}

func (w *Writer) reportDrop(b *Batch, seq int64, reason string) {
	w.mu.Lock()
	dir := filepath.Join(w.baseDir, string(b.Split))
	w.mu.Unlock()
	w.logger.Printf("BatchWriter: dropping %s batch (%d samples): %s", b.Split, len(b.Samples), reason)
	w.bus.Publish(TopicBatchError, BatchError{
		Folder:  dir,
		Counter: seq,
		Split:   b.Split,
		Count:   len(b.Samples),
		Err:     reason,
	})
}
