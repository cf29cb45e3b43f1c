// Package index builds and queries one shard of the persisted inverted
// index.
//
// Building follows the single-pass-in-memory scheme: postings
// accumulate in a RAM bucket until a memory budget is exceeded, each
// overflow spills a lexicographically sorted run file, and Save merges
// the runs pairwise before converting the survivor into the final
// posting-list format. Reading memory-maps the finished file and scans
// it once into a term lexicon; conjunctive queries then leap-frog
// through the posting-list cursors.
package index

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/stn/searchlite/codec"
	"github.com/stn/searchlite/postings"
)

// Filename is the name of the final index file of shard 0; later
// shards append "_<shard>".
const Filename = "inverted_index"

// MaxDocsPerShard is how many documents a single shard may hold. The
// cap keeps compacted docids comfortably inside the short varint
// encodings; the shard owner must roll over before reaching it.
const MaxDocsPerShard = 1<<21 - 1

// Memory-estimate charges per bucket entry. Deliberate overestimates:
// spilling early is cheap, running out of memory is not.
const (
	termCost    = 20
	postingCost = 10
)

var (
	// ErrDocIDOutOfOrder is returned by Add when a docid is not
	// strictly greater than every docid added before it.
	ErrDocIDOutOfOrder = errors.New("index: doc id not strictly increasing")

	// ErrDocIDOutOfRange is returned by Add when the compacted docid
	// would not fit the varint encoding.
	ErrDocIDOutOfRange = errors.New("index: doc id out of encodable range")

	// ErrIndexBuildFailed wraps any I/O failure during spill, merge or
	// convert. The underlying cause is preserved in the chain.
	ErrIndexBuildFailed = errors.New("index: build failed")
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// MemBudget is the estimated bucket size, in bytes, beyond which
	// Add spills a run to disk. Defaults to 1e9.
	MemBudget int64

	// Postings is the posting-list layout configuration.
	Postings postings.Config
}

// DefaultBuilderOptions returns the standard builder configuration.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		MemBudget: 1_000_000_000,
		Postings:  postings.DefaultConfig(),
	}
}

// Builder accumulates postings for one shard and writes its final index
// file. Add calls must present strictly increasing docids; the builder
// stores them relative to the shard base so the varints stay short.
//
// A Builder is single-threaded and exclusively owns its scratch
// directory and output file.
type Builder struct {
	dir     string
	shard   int
	base    uint32
	opts    BuilderOptions
	scratch string

	bucket   map[string]*roaring.Bitmap
	estimate int64
	lastDoc  int64 // last global docid seen; -1 before the first Add
	ndoc     int
	runs     []string
	seq      int
}

// NewBuilder creates a builder for the given shard of the index
// directory. base is the first global docid the shard will receive.
func NewBuilder(dir string, shard int, base uint32, opts BuilderOptions) (*Builder, error) {
	if err := opts.Postings.Validate(); err != nil {
		return nil, err
	}
	if opts.MemBudget <= 0 {
		opts.MemBudget = DefaultBuilderOptions().MemBudget
	}
	scratch, err := os.MkdirTemp(dir, "spim-")
	if err != nil {
		return nil, errors.Wrap(err, "index: create scratch dir")
	}
	return &Builder{
		dir:     dir,
		shard:   shard,
		base:    base,
		opts:    opts,
		scratch: scratch,
		bucket:  make(map[string]*roaring.Bitmap),
		lastDoc: -1,
	}, nil
}

// Base returns the shard's first global docid.
func (b *Builder) Base() uint32 { return b.base }

// NDoc returns how many documents have been added to this shard.
func (b *Builder) NDoc() int { return b.ndoc }

// Add records that the document docID contains the given tokens.
// Duplicate tokens within one call are counted once. DocIDs must be
// strictly increasing across calls.
func (b *Builder) Add(docID uint32, tokens []string) error {
	if int64(docID) <= b.lastDoc {
		return errors.Wrapf(ErrDocIDOutOfOrder, "doc %d after %d", docID, b.lastDoc)
	}
	if docID < b.base || uint64(docID-b.base) > codec.MaxDocID {
		return errors.Wrapf(ErrDocIDOutOfRange, "doc %d with shard base %d", docID, b.base)
	}
	local := docID - b.base

	for _, token := range tokens {
		if token == "" {
			// An empty term would read back as end-of-run.
			continue
		}
		bm := b.bucket[token]
		if bm == nil {
			bm = roaring.New()
			b.bucket[token] = bm
			b.estimate += termCost
			bm.Add(local)
			continue
		}
		if bm.CheckedAdd(local) {
			b.estimate += postingCost
		}
	}
	b.lastDoc = int64(docID)
	b.ndoc++

	if b.estimate > b.opts.MemBudget {
		return b.Spill()
	}
	return nil
}

// Spill writes the in-memory bucket to the next run file, sorted by
// term, and clears it. It is called automatically when the memory
// estimate exceeds the budget; callers only need it directly when a
// shard is rolled over before its final Save.
func (b *Builder) Spill() error {
	if len(b.bucket) == 0 {
		return nil
	}
	terms := make([]string, 0, len(b.bucket))
	for term := range b.bucket {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	name := b.runName()
	if err := b.writeRun(name, terms); err != nil {
		return errors.Mark(errors.Wrapf(err, "spill %s", name), ErrIndexBuildFailed)
	}

	slog.Debug("spilled run",
		slog.Int("shard", b.shard),
		slog.String("run", name),
		slog.Int("terms", len(terms)))

	b.bucket = make(map[string]*roaring.Bitmap)
	b.estimate = 0
	b.runs = append(b.runs, name)
	return nil
}

func (b *Builder) runName() string {
	name := filepath.Join(b.scratch, strconv.Itoa(b.seq))
	b.seq++
	return name
}

// writeRun streams the sorted bucket into a snappy-framed run file.
func (b *Builder) writeRun(name string, terms []string) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	sw := snappy.NewBufferedWriter(f)
	for _, term := range terms {
		if err := codec.WriteToken(sw, term); err != nil {
			return err
		}
		if err := codec.WriteDocIDs(sw, b.bucket[term].ToArray()); err != nil {
			return err
		}
	}
	return sw.Close()
}

// Save finishes the shard: residual postings are spilled, the runs are
// merged pairwise until one remains, the survivor is converted to the
// final posting-list format, and the result is moved to its place in
// the index directory. Temporaries are removed as they are consumed. A
// failure removes a partially written final file; run files left by a
// failed spill or merge stay in the scratch directory until Close.
func (b *Builder) Save() error {
	if err := b.Spill(); err != nil {
		return err
	}
	if err := b.merge(); err != nil {
		return err
	}
	final, err := b.convert()
	if err != nil {
		return err
	}
	target := filepath.Join(b.dir, ShardFilename(b.shard))
	if err := os.Rename(final, target); err != nil {
		os.Remove(final)
		return errors.Mark(errors.Wrap(err, "install index"), ErrIndexBuildFailed)
	}
	slog.Info("saved index shard",
		slog.Int("shard", b.shard),
		slog.Int("docs", b.ndoc),
		slog.String("file", target))
	return nil
}

// Close removes the scratch directory and any leftover temporaries. It
// is safe after a failed Save.
func (b *Builder) Close() error {
	b.bucket = nil
	b.runs = nil
	return os.RemoveAll(b.scratch)
}

// merge performs balanced pairwise passes over the run files until one
// remains. Pairs stream record by record; equal terms concatenate their
// docid sequences, which stays sorted because the later run only holds
// later docids.
func (b *Builder) merge() error {
	for len(b.runs) > 1 {
		merged := make([]string, 0, (len(b.runs)+1)/2)
		for i := 0; i+1 < len(b.runs); i += 2 {
			out := b.runName()
			if err := b.mergePair(out, b.runs[i], b.runs[i+1]); err != nil {
				return errors.Mark(errors.Wrapf(err, "merge %s + %s", b.runs[i], b.runs[i+1]), ErrIndexBuildFailed)
			}
			os.Remove(b.runs[i])
			os.Remove(b.runs[i+1])
			merged = append(merged, out)
		}
		if len(b.runs)%2 == 1 {
			merged = append(merged, b.runs[len(b.runs)-1])
		}
		b.runs = merged
	}
	return nil
}

func (b *Builder) mergePair(outName, name1, name2 string) (err error) {
	f1, err := os.Open(name1)
	if err != nil {
		return err
	}
	defer f1.Close()
	f2, err := os.Open(name2)
	if err != nil {
		return err
	}
	defer f2.Close()
	out, err := os.Create(outName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	r1 := snappy.NewReader(bufio.NewReader(f1))
	r2 := snappy.NewReader(bufio.NewReader(f2))
	w := snappy.NewBufferedWriter(out)

	token1, err := codec.ReadToken(r1)
	if err != nil {
		return err
	}
	token2, err := codec.ReadToken(r2)
	if err != nil {
		return err
	}
	for token1 != "" || token2 != "" {
		switch {
		case token2 == "" || (token1 != "" && token1 < token2):
			if err := copyRecord(w, r1, token1); err != nil {
				return err
			}
			if token1, err = codec.ReadToken(r1); err != nil {
				return err
			}
		case token1 == "" || token1 > token2:
			if err := copyRecord(w, r2, token2); err != nil {
				return err
			}
			if token2, err = codec.ReadToken(r2); err != nil {
				return err
			}
		default:
			if err := codec.WriteToken(w, token1); err != nil {
				return err
			}
			if err := codec.MergeDocIDs(w, r1, r2); err != nil {
				return err
			}
			if token1, err = codec.ReadToken(r1); err != nil {
				return err
			}
			if token2, err = codec.ReadToken(r2); err != nil {
				return err
			}
		}
	}
	return w.Close()
}

func copyRecord(w io.Writer, r io.Reader, token string) error {
	if err := codec.WriteToken(w, token); err != nil {
		return err
	}
	return codec.CopyDocIDs(w, r)
}

// convert streams the last run, choosing and writing the final
// representation of every term, and returns the finished file's
// temporary name. A zero term length terminates the file.
func (b *Builder) convert() (string, error) {
	name := b.runName()
	out, err := os.Create(name)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "convert"), ErrIndexBuildFailed)
	}
	w := bufio.NewWriter(out)

	fail := func(err error) (string, error) {
		out.Close()
		os.Remove(name)
		return "", errors.Mark(errors.Wrap(err, "convert"), ErrIndexBuildFailed)
	}

	if len(b.runs) > 0 {
		run := b.runs[0]
		f, err := os.Open(run)
		if err != nil {
			return fail(err)
		}
		r := snappy.NewReader(bufio.NewReader(f))
		for {
			token, err := codec.ReadToken(r)
			if err != nil {
				f.Close()
				return fail(err)
			}
			if token == "" {
				break
			}
			ids, err := codec.ReadDocIDs(r)
			if err != nil {
				f.Close()
				return fail(err)
			}
			list, err := postings.FromDocIDs(ids, b.opts.Postings)
			if err != nil {
				f.Close()
				return fail(err)
			}
			if err := codec.WriteToken(w, token); err != nil {
				f.Close()
				return fail(err)
			}
			if err := list.Write(w); err != nil {
				f.Close()
				return fail(err)
			}
		}
		f.Close()
		os.Remove(run)
		b.runs = b.runs[:0]
	}

	// Terminating empty term length.
	if _, err := w.Write([]byte{0, 0}); err != nil {
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(name)
		return "", errors.Mark(errors.Wrap(err, "convert"), ErrIndexBuildFailed)
	}
	return name, nil
}

// ShardFilename returns the index filename of a shard. Shard 0 keeps
// the bare name so a single-shard directory matches the plain layout.
func ShardFilename(shard int) string {
	if shard == 0 {
		return Filename
	}
	return Filename + "_" + strconv.Itoa(shard)
}
