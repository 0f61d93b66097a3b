package counterdb

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// BatchFileExt is the extension of persisted batch files (gob + gzip).
const BatchFileExt = ".bin.gz"

// BatchFileName returns the deterministic batch filename for a split and
// sequence number, e.g. "train_batch_000042.bin.gz".
func BatchFileName(split string, seq int64) string {
	return fmt.Sprintf("%s_batch_%06d%s", split, seq, BatchFileExt)
}

// batchGlob returns the glob matching every batch file of a split in dir.
func batchGlob(dir, split string) string {
	return filepath.Join(dir, split+"_batch_*"+BatchFileExt)
}

// parseBatchSeq extracts the sequence number from a batch filename. Returns
// false for names that do not match the pattern.
func parseBatchSeq(name, split string) (int64, bool) {
	base := filepath.Base(name)
	prefix := split + "_batch_"
	if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, BatchFileExt) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(base, prefix), BatchFileExt)
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
