// Package engine ties the pieces into one queryable search engine: the
// document-name table, the per-shard index builders, and the per-shard
// query workers.
//
// The Engine value owns all of it explicitly. Ingest appends documents
// to the active builder shard and rolls over to a fresh shard before
// the docid range would outgrow the short varint encodings. After
// Restore, every shard gets a worker goroutine holding its own
// memory-mapped reader; a query fans out to all workers as a typed
// Search or Count message and the per-shard results are unioned. Shards
// cover disjoint docid ranges and share no mutable state, so the only
// coordination is the message exchange itself.
package engine

import (
	"log/slog"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/stn/searchlite/analyzer"
	"github.com/stn/searchlite/doclist"
	"github.com/stn/searchlite/index"
)

// Config configures an Engine.
type Config struct {
	// Analyzer is applied to documents at ingest and to queries.
	Analyzer analyzer.Config

	// Builder configures each shard builder.
	Builder index.BuilderOptions

	// MaxDocsPerShard forces a shard rollover; it must not exceed
	// index.MaxDocsPerShard.
	MaxDocsPerShard int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Analyzer:        analyzer.DefaultConfig(),
		Builder:         index.DefaultBuilderOptions(),
		MaxDocsPerShard: index.MaxDocsPerShard,
	}
}

// Engine is a complete search engine over one index directory.
// Ingest (Index, Save) and querying (Restore, Search, Count) are two
// phases; a fresh Engine can run either.
type Engine struct {
	dir  string
	cfg  Config
	docs *doclist.DocList

	builders []*index.Builder
	workers  []*worker
}

// New creates an engine for ingesting into dir, opening shard 0.
func New(dir string, cfg Config) (*Engine, error) {
	if cfg.MaxDocsPerShard <= 0 || cfg.MaxDocsPerShard > index.MaxDocsPerShard {
		cfg.MaxDocsPerShard = index.MaxDocsPerShard
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "engine: create index dir")
	}
	b, err := index.NewBuilder(dir, 0, 0, cfg.Builder)
	if err != nil {
		return nil, err
	}
	return &Engine{
		dir:      dir,
		cfg:      cfg,
		docs:     doclist.New(dir),
		builders: []*index.Builder{b},
	}, nil
}

// Open creates an engine for querying dir; call Restore next.
func Open(dir string, cfg Config) *Engine {
	return &Engine{dir: dir, cfg: cfg, docs: doclist.New(dir)}
}

// Index adds one document. Docids are assigned sequentially by the
// document list; a new shard is opened when the active one is full.
func (e *Engine) Index(name, text string) error {
	if len(e.builders) == 0 {
		return errors.New("engine: not open for ingest")
	}
	docID := e.docs.Add(name)

	active := e.builders[len(e.builders)-1]
	if active.NDoc() >= e.cfg.MaxDocsPerShard {
		// Free the full shard's bucket now; its runs are merged when
		// Save finishes every shard.
		if err := active.Spill(); err != nil {
			return err
		}
		next, err := index.NewBuilder(e.dir, len(e.builders), docID, e.cfg.Builder)
		if err != nil {
			return err
		}
		e.builders = append(e.builders, next)
		active = next
		slog.Info("opened new index shard",
			slog.Int("shard", len(e.builders)-1),
			slog.Uint64("base", uint64(docID)))
	}

	tokens := analyzer.NormalizedTokensWithConfig(text, e.cfg.Analyzer)
	if err := active.Add(docID, tokens); err != nil {
		return err
	}
	documentsIndexed.Inc()
	return nil
}

// Save persists the document list, the shard manifest, and every shard.
func (e *Engine) Save() error {
	if err := e.docs.Save(); err != nil {
		return err
	}
	if err := writeManifest(e.dir, e.bases()); err != nil {
		return err
	}
	for _, b := range e.builders {
		if err := b.Save(); err != nil {
			return err
		}
		if err := b.Close(); err != nil {
			return err
		}
	}
	e.builders = nil
	return nil
}

func (e *Engine) bases() []uint32 {
	bases := make([]uint32, len(e.builders))
	for i, b := range e.builders {
		bases[i] = b.Base()
	}
	return bases
}

// Restore loads the document list and starts one query worker per
// shard, each owning its mapped reader. Shards restore in parallel.
func (e *Engine) Restore() error {
	if err := e.docs.Restore(); err != nil {
		return err
	}
	bases, err := readManifest(e.dir)
	if err != nil {
		return err
	}

	readers := make([]*index.Reader, len(bases))
	var g errgroup.Group
	for shard, base := range bases {
		shard, base := shard, base
		g.Go(func() error {
			r, err := index.Restore(e.dir, shard, base)
			if err != nil {
				return err
			}
			readers[shard] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
		return err
	}

	e.workers = make([]*worker, len(readers))
	for i, r := range readers {
		e.workers[i] = startWorker(r)
	}
	return nil
}

// Search returns the names of all documents containing every token of
// the query, in ascending docid order.
func (e *Engine) Search(query string) ([]string, error) {
	defer observe("search", time.Now())
	tokens := analyzer.NormalizedTokensWithConfig(query, e.cfg.Analyzer)
	if len(tokens) == 0 || len(e.workers) == 0 {
		return nil, nil
	}

	replies := e.fanOut(SearchMsg{Terms: tokens})
	union := roaring.New()
	for _, reply := range replies {
		union.AddMany(reply.Hits)
	}
	ids := union.ToArray() // ascending docid order

	names := make([]string, len(ids))
	for i, id := range ids {
		name, err := e.docs.Get(id)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}
	return names, nil
}

// Count returns how many documents contain every token of the query.
func (e *Engine) Count(query string) (int, error) {
	defer observe("count", time.Now())
	tokens := analyzer.NormalizedTokensWithConfig(query, e.cfg.Analyzer)
	if len(tokens) == 0 || len(e.workers) == 0 {
		return 0, nil
	}

	total := 0
	for _, reply := range e.fanOut(CountMsg{Terms: tokens}) {
		total += reply.N
	}
	return total, nil
}

// fanOut sends one request to every shard worker and collects the
// replies. Per-query reader errors have already been surfaced by the
// reader; here they degrade to an empty shard result.
func (e *Engine) fanOut(msg any) []Reply {
	pending := make([]chan Reply, len(e.workers))
	for i, w := range e.workers {
		pending[i] = w.send(msg)
	}
	replies := make([]Reply, len(pending))
	for i, ch := range pending {
		replies[i] = <-ch
	}
	return replies
}

// Close stops the workers and releases every reader and builder.
func (e *Engine) Close() error {
	var err error
	for _, w := range e.workers {
		if cerr := w.stop(); err == nil {
			err = cerr
		}
	}
	e.workers = nil
	for _, b := range e.builders {
		if cerr := b.Close(); err == nil {
			err = cerr
		}
	}
	e.builders = nil
	return err
}

func observe(op string, start time.Time) {
	queriesTotal.WithLabelValues(op).Inc()
	queryDuration.Observe(time.Since(start).Seconds())
}
