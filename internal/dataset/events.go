package dataset

// Bus topics published by the capture pipeline. Background writer goroutines
// publish the batch topics; subscribers that cannot be entered off their own
// goroutine should register with eventbus.SubscribeQueued.
const (
	// TopicCaptureComplete fires per accepted sample, on the simulation
	// goroutine. Payload: CaptureComplete.
	TopicCaptureComplete = "dataset/capture/complete"
	// TopicBatchSaved fires after a batch file is written. Payload: BatchSaved.
	TopicBatchSaved = "dataset/batch/saved"
	// TopicBatchError fires when a batch is dropped instead of written.
	// Payload: BatchError.
	TopicBatchError = "dataset/batch/error"
	// TopicVictimDetected fires on the anomaly trigger edge. Payload:
	// VictimDetected.
	TopicVictimDetected = "victim/detected"
	// TopicDirChanged requests an output directory change. Payload: DirChanged.
	TopicDirChanged = "dataset/dir/changed"
	// TopicConfigUpdated announces collector reconfiguration. Payload:
	// ConfigUpdated.
	TopicConfigUpdated = "dataset/config/updated"
)

// CaptureComplete reports one accepted sample.
type CaptureComplete struct {
	Frame     uint64
	Distance  float64
	Action    int
	VictimVec [4]float32
}

// BatchSaved reports a persisted batch.
type BatchSaved struct {
	Folder  string
	Counter int64
	Split   Split
	Count   int
}

// BatchError reports a dropped batch. Counter is zero when the batch was
// dropped before a sequence number was assigned.
type BatchError struct {
	Folder  string
	Counter int64
	Split   Split
	Count   int
	Err     string
}

// VictimDetected reports the anomaly edge-trigger.
type VictimDetected struct {
	Frame     uint64
	Distance  float64
	VictimVec [4]float32
}

// DirChanged requests that the collector switch its output directory.
type DirChanged struct {
	BaseDir      string
	UseTimestamp bool
}

// ConfigUpdated announces the collector's effective configuration after a
// directory change or config reload.
type ConfigUpdated struct {
	BaseDir string
	Verbose bool
}
