package dataset

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// batchRecord is the on-disk layout: column-per-field arrays, one entry per
// sample, gob-encoded inside a gzip stream. Columnar so a training loader can
// pull whole arrays without walking sample structs.
type batchRecord struct {
	Split      string
	Frames     []uint64
	Depths     [][][]float32
	Poses      [][6]float32
	Distances  []float32
	Actions    []int64
	VictimDirs [][4]float32
}

// EncodeBatch writes the batch to w as a gzip-compressed gob record.
func EncodeBatch(w io.Writer, b *Batch) error {
	n := len(b.Samples)
	rec := batchRecord{
		Split:      string(b.Split),
		Frames:     make([]uint64, n),
		Depths:     make([][][]float32, n),
		Poses:      make([][6]float32, n),
		Distances:  make([]float32, n),
		Actions:    make([]int64, n),
		VictimDirs: make([][4]float32, n),
	}
	for i, s := range b.Samples {
		rec.Frames[i] = s.Frame
		rec.Depths[i] = s.Depth
		rec.Poses[i] = s.Pose
		rec.Distances[i] = s.Distance
		rec.Actions[i] = int64(s.Action)
		rec.VictimDirs[i] = s.VictimDir
	}

	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(rec); err != nil {
		gz.Close()
		return fmt.Errorf("encode batch: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	return nil
}

// DecodeBatch reads a batch previously written by EncodeBatch.
func DecodeBatch(r io.Reader) (*Batch, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open batch stream: %w", err)
	}
	defer gz.Close()

	var rec batchRecord
	if err := gob.NewDecoder(gz).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}

	b := &Batch{
		Split:   Split(rec.Split),
		Samples: make([]Sample, len(rec.Frames)),
	}
	for i := range rec.Frames {
		b.Samples[i] = Sample{
			Frame:     rec.Frames[i],
			Depth:     rec.Depths[i],
			Pose:      rec.Poses[i],
			Distance:  rec.Distances[i],
			Action:    int(rec.Actions[i]),
			VictimDir: rec.VictimDirs[i],
		}
	}
	return b, nil
}

// WriteBatchFile persists the batch to path. The file is written to a
// temporary name in the same directory and renamed into place, so a reader
// never observes a half-written batch.
func WriteBatchFile(path string, b *Batch) error {
	// Never replace an existing batch: a name collision means the counters
	// and the directory disagree, and the old batch would be lost silently.
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("batch file already exists: %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create batch file: %w", err)
	}
	if err := EncodeBatch(tmp, b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close batch file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize batch file: %w", err)
	}
	return nil
}

// ReadBatchFile loads a batch file written by WriteBatchFile.
func ReadBatchFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeBatch(f)
}
