package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBatch(split Split, n int) *Batch {
	b := &Batch{Split: split}
	for i := 0; i < n; i++ {
		b.Samples = append(b.Samples, Sample{
			Frame: uint64(100 + i),
			Depth: [][]float32{
				{float32(i), float32(i) + 0.5},
				{1.25, 2.75},
			},
			Pose:      [6]float32{1, 2, 3, 0.1, 0.2, 0.3},
			Distance:  float32(i) * 1.5,
			VictimDir: [4]float32{0, 1, 0, float32(i) * 1.5},
			Action:    ActionForward,
		})
	}
	return b
}

func TestWriteReadBatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train_batch_000001.bin.gz")
	want := makeBatch(SplitTrain, 4)

	require.NoError(t, WriteBatchFile(path, want))

	got, err := ReadBatchFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("batch round trip mismatch (-want +got):\n%s", diff)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "leftover temp file %s", e.Name())
	}
}

func TestWriteBatchFileRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train_batch_000001.bin.gz")
	want := makeBatch(SplitTrain, 2)
	require.NoError(t, WriteBatchFile(path, want))

	err := WriteBatchFile(path, makeBatch(SplitTrain, 1))
	assert.Error(t, err)

	// The original batch is intact.
	got, err := ReadBatchFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

func TestWriteBatchFileBadDirectory(t *testing.T) {
	err := WriteBatchFile(filepath.Join(t.TempDir(), "missing", "x.bin.gz"), makeBatch(SplitVal, 1))
	assert.Error(t, err)
}

func TestReadBatchFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin.gz")
	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o644))
	_, err := ReadBatchFile(path)
	assert.Error(t, err)
}

func TestEncodeEmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin.gz")
	require.NoError(t, WriteBatchFile(path, &Batch{Split: SplitTest}))
	got, err := ReadBatchFile(path)
	require.NoError(t, err)
	assert.Equal(t, SplitTest, got.Split)
	assert.Zero(t, got.Len())
}
