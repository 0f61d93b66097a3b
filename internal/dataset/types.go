// Package dataset implements the capture side of the training pipeline:
// sample accumulation into fixed-size batches, background persistence, and
// the collector that drives both from simulation frame events.
package dataset

// Split is the dataset partition a batch belongs to.
type Split string

const (
	SplitTrain Split = "train"
	SplitVal   Split = "val"
	SplitTest  Split = "test"
)

// Splits returns all partitions in a fixed order.
func Splits() []Split {
	return []Split{SplitTrain, SplitVal, SplitTest}
}

// Sample is one captured frame. Immutable once constructed; ownership passes
// to the batch it is appended to, so callers must not retain or mutate the
// Depth slice after Append.
type Sample struct {
	// Frame is the simulation frame counter at capture time.
	Frame uint64
	// Depth is the depth image, row-major [height][width].
	Depth [][]float32
	// Pose is position x,y,z followed by roll,pitch,yaw.
	Pose [6]float32
	// Distance is the Euclidean distance to the target at capture time.
	Distance float32
	// VictimDir is the body-frame unit direction to the target plus the
	// scalar distance: [x, y, z, distance].
	VictimDir [4]float32
	// Action is the control action label active at capture time.
	Action int
}

// Batch is a fixed-capacity ordered group of samples persisted together as
// one file. A batch has exactly one owner at any time: the accumulator until
// hand-off, then the writer until it is persisted or dropped.
type Batch struct {
	Split   Split
	Samples []Sample
}

// Len returns the number of samples in the batch.
func (b *Batch) Len() int { return len(b.Samples) }
