package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/stn/searchlite/codec"
	"github.com/stn/searchlite/postings"
)

// ErrIndexCorrupt is returned when the index file does not parse: an
// unknown tag, a record cut short, or an offset pointing outside the
// mapped region.
var ErrIndexCorrupt = errors.New("index: corrupt index file")

// lexEntry locates one term's posting list inside the mapped file.
type lexEntry struct {
	freq int
	tag  byte
	off  int
}

// Reader answers queries against one memory-mapped index shard.
//
// The mapping is read-only and owned by the Reader; every cursor
// borrows it, so all cursors must be dropped before Close. Concurrent
// queries are safe because each query builds its own cursors and the
// lexicon is never written after Restore.
type Reader struct {
	f    *os.File
	mem  []byte
	lex  map[string]lexEntry
	base uint32

	corruptOnce sync.Once
}

// Restore opens and maps shard's index file under dir and scans it into
// the lexicon. base is the shard's first global docid, added back to
// every shard-local id the reader returns.
func Restore(dir string, shard int, base uint32) (*Reader, error) {
	name := filepath.Join(dir, ShardFilename(shard))
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrap(err, "index: open")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "index: stat")
	}
	if fi.Size() == 0 {
		f.Close()
		return nil, errors.Wrapf(ErrIndexCorrupt, "%s: empty file", name)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "index: mmap")
	}

	r := &Reader{f: f, mem: mem, base: base}
	if err := r.scan(); err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "%s", name)
	}
	slog.Info("restored index shard",
		slog.Int("shard", shard),
		slog.Int("terms", len(r.lex)),
		slog.Int64("bytes", fi.Size()))
	return r, nil
}

// scan walks the record stream once, recording (freq, tag, offset) per
// term. It stops at a zero term length or a clean end of file and
// rejects anything that would read past the region.
func (r *Reader) scan() error {
	r.lex = make(map[string]lexEntry)
	mem := r.mem
	pos := 0
	for {
		if pos == len(mem) {
			return nil
		}
		if pos+codec.TokenLenBytes > len(mem) {
			return errors.Wrapf(ErrIndexCorrupt, "short term length at %d", pos)
		}
		termLen := int(mem[pos])<<8 | int(mem[pos+1])
		pos += codec.TokenLenBytes
		if termLen == 0 {
			return nil
		}
		if pos+termLen+1 > len(mem) {
			return errors.Wrapf(ErrIndexCorrupt, "short term record at %d", pos)
		}
		term := string(mem[pos : pos+termLen])
		pos += termLen
		tag := mem[pos]
		pos++

		switch tag {
		case postings.TagSingle:
			if pos >= len(mem) {
				return errors.Wrapf(ErrIndexCorrupt, "term %q: missing docid at %d", term, pos)
			}
			n := codec.DocIDLen(mem[pos])
			if n == 0 || pos+n > len(mem) {
				return errors.Wrapf(ErrIndexCorrupt, "term %q: bad single docid at %d", term, pos)
			}
			r.lex[term] = lexEntry{freq: 1, tag: tag, off: pos}
			pos += n

		case postings.TagFlatList:
			freq, next, err := r.readFreq(term, pos)
			if err != nil {
				return err
			}
			pos = next
			body := pos
			for i := 0; i < freq; i++ {
				if pos >= len(mem) {
					return errors.Wrapf(ErrIndexCorrupt, "term %q: truncated list at %d", term, pos)
				}
				n := codec.DocIDLen(mem[pos])
				if n == 0 || pos+n > len(mem) {
					return errors.Wrapf(ErrIndexCorrupt, "term %q: bad docid at %d", term, pos)
				}
				pos += n
			}
			r.lex[term] = lexEntry{freq: freq, tag: tag, off: body}

		case postings.TagBlockSkipList:
			freq, next, err := r.readFreq(term, pos)
			if err != nil {
				return err
			}
			pos = next
			body := pos
			if pos+2 > len(mem) {
				return errors.Wrapf(ErrIndexCorrupt, "term %q: short skip list header at %d", term, pos)
			}
			blockSize := int(mem[pos])
			maxLevel := int(mem[pos+1])
			if blockSize < postings.MinBlockSize {
				return errors.Wrapf(ErrIndexCorrupt, "term %q: block size %d", term, blockSize)
			}
			pos += 2 + maxLevel*codec.BlockIdxBytes
			if pos+codec.BlockIdxBytes > len(mem) {
				return errors.Wrapf(ErrIndexCorrupt, "term %q: short level table at %d", term, pos)
			}
			numBlocks := int(codec.BlockIdx(mem, pos))
			pos += codec.BlockIdxBytes
			end := pos + numBlocks*blockSize
			if numBlocks <= 0 || end < pos || end > len(mem) {
				return errors.Wrapf(ErrIndexCorrupt, "term %q: %d blocks at %d", term, numBlocks, pos)
			}
			pos = end
			r.lex[term] = lexEntry{freq: freq, tag: tag, off: body}

		default:
			return errors.Wrapf(ErrIndexCorrupt, "term %q: unknown tag %#x", term, tag)
		}
	}
}

func (r *Reader) readFreq(term string, pos int) (freq, next int, err error) {
	if pos+codec.DocIDLenBytes > len(r.mem) {
		return 0, 0, errors.Wrapf(ErrIndexCorrupt, "term %q: short freq at %d", term, pos)
	}
	f := int(codec.BlockIdx(r.mem, pos)) // u32 LE, same wire form as a block index
	if f <= 0 {
		return 0, 0, errors.Wrapf(ErrIndexCorrupt, "term %q: freq %d", term, f)
	}
	return f, pos + codec.DocIDLenBytes, nil
}

// Freq returns a term's document frequency, 0 when absent.
func (r *Reader) Freq(term string) int {
	return r.lex[term].freq
}

// Get returns the full posting list of one term as global docids.
func (r *Reader) Get(term string) ([]uint32, error) {
	e, ok := r.lex[term]
	if !ok {
		return nil, nil
	}
	c, err := postings.NewCursor(r.mem, e.tag, e.freq, e.off)
	if err != nil {
		return nil, r.corrupt(err)
	}
	return r.rebase(c.IDs()), nil
}

// SearchAnd returns the documents containing every one of terms, in
// ascending global docid order.
func (r *Reader) SearchAnd(terms []string) ([]uint32, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if len(terms) == 1 {
		return r.Get(terms[0])
	}
	cursors, err := r.operands(terms)
	if err != nil || cursors == nil {
		return nil, err
	}
	pos := intersect(r.mem, cursors)
	ids := make([]uint32, len(pos))
	for i, p := range pos {
		ids[i] = codec.DecodeDocID(r.mem, p)
	}
	return r.rebase(ids), nil
}

// CountAnd returns the cardinality SearchAnd would produce, without
// materializing the docids.
func (r *Reader) CountAnd(terms []string) (int, error) {
	if len(terms) == 0 {
		return 0, nil
	}
	if len(terms) == 1 {
		return r.lex[terms[0]].freq, nil
	}
	cursors, err := r.operands(terms)
	if err != nil || cursors == nil {
		return 0, err
	}
	return len(intersect(r.mem, cursors)), nil
}

// operands builds one cursor per term, sorted by ascending frequency.
// A nil slice means some term is absent and the result is empty.
func (r *Reader) operands(terms []string) ([]*postings.Cursor, error) {
	entries := make([]lexEntry, len(terms))
	for i, term := range terms {
		e, ok := r.lex[term]
		if !ok {
			return nil, nil
		}
		entries[i] = e
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].freq < entries[j].freq })

	cursors := make([]*postings.Cursor, len(entries))
	for i, e := range entries {
		c, err := postings.NewCursor(r.mem, e.tag, e.freq, e.off)
		if err != nil {
			return nil, r.corrupt(err)
		}
		cursors[i] = c
	}
	return cursors, nil
}

func (r *Reader) rebase(ids []uint32) []uint32 {
	if r.base != 0 {
		for i := range ids {
			ids[i] += r.base
		}
	}
	return ids
}

// corrupt surfaces a corruption once and returns the marked error; the
// affected query yields an empty result upstream.
func (r *Reader) corrupt(err error) error {
	err = errors.Mark(err, ErrIndexCorrupt)
	r.corruptOnce.Do(func() {
		slog.Error("index corruption detected", slog.Any("error", err))
	})
	return err
}

// Close unmaps the file and releases the descriptor. No cursor may be
// used afterwards.
func (r *Reader) Close() error {
	var err error
	if r.mem != nil {
		err = unix.Munmap(r.mem)
		r.mem = nil
	}
	if r.f != nil {
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
		r.f = nil
	}
	r.lex = nil
	return err
}
