package engine

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/stn/searchlite/index"
)

// manifestFilename lists the shards of an index directory, one line per
// shard holding the shard's first global docid. The mandated index file
// layout has no header to put the base in, so it lives here instead.
const manifestFilename = "shards"

func writeManifest(dir string, bases []uint32) (err error) {
	f, err := os.Create(filepath.Join(dir, manifestFilename))
	if err != nil {
		return errors.Wrap(err, "engine: write manifest")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	for _, base := range bases {
		if _, err := w.WriteString(strconv.FormatUint(uint64(base), 10)); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readManifest returns the shard bases. A directory without a manifest
// but with a plain index file is treated as one shard based at 0.
func readManifest(dir string) ([]uint32, error) {
	f, err := os.Open(filepath.Join(dir, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			if _, serr := os.Stat(filepath.Join(dir, index.Filename)); serr == nil {
				return []uint32{0}, nil
			}
		}
		return nil, errors.Wrap(err, "engine: read manifest")
	}
	defer f.Close()

	var bases []uint32
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		base, err := strconv.ParseUint(sc.Text(), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "engine: manifest line %d", len(bases)+1)
		}
		bases = append(bases, uint32(base))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, errors.New("engine: empty shard manifest")
	}
	return bases, nil
}
