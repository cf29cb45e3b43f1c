package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stn/searchlite/index"
)

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.Builder.MemBudget = 100 // exercise the spill path in small tests
	return cfg
}

func TestEngine_BuildQueryRoundTrip(t *testing.T) {
	dir := t.TempDir()

	eng, err := New(dir, testEngineConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Index("doc1", "hello world"))
	require.NoError(t, eng.Index("doc2", "this is a test"))
	require.NoError(t, eng.Index("doc3", "this is another test"))
	require.NoError(t, eng.Save())
	require.NoError(t, eng.Close())

	q := Open(dir, testEngineConfig())
	require.NoError(t, q.Restore())
	defer q.Close()

	names, err := q.Search("hello")
	require.NoError(t, err)
	require.Equal(t, []string{"doc1"}, names)

	n, err := q.Count("this test")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	names, err = q.Search("that")
	require.NoError(t, err)
	require.Empty(t, names)

	// Queries are normalized exactly like documents.
	names, err = q.Search("Hello, WORLD!")
	require.NoError(t, err)
	require.Equal(t, []string{"doc1"}, names)
}

func TestEngine_ShardRollover(t *testing.T) {
	dir := t.TempDir()
	cfg := testEngineConfig()
	cfg.MaxDocsPerShard = 10

	eng, err := New(dir, cfg)
	require.NoError(t, err)
	const ndoc = 35
	for i := 0; i < ndoc; i++ {
		text := "common"
		if i%2 == 0 {
			text += " even"
		}
		require.NoError(t, eng.Index(fmt.Sprintf("doc%03d", i), text))
	}
	require.NoError(t, eng.Save())
	require.NoError(t, eng.Close())

	// 35 docs over shards of 10: four shard files.
	for shard := 0; shard < 4; shard++ {
		_, err := os.Stat(filepath.Join(dir, index.ShardFilename(shard)))
		require.NoError(t, err, "missing shard %d", shard)
	}

	q := Open(dir, cfg)
	require.NoError(t, q.Restore())
	defer q.Close()

	n, err := q.Count("common")
	require.NoError(t, err)
	require.Equal(t, ndoc, n)

	names, err := q.Search("common even")
	require.NoError(t, err)
	require.Len(t, names, 18)
	// Union of shard results comes back in ascending docid order.
	for i, name := range names {
		require.Equal(t, fmt.Sprintf("doc%03d", i*2), name)
	}
}

func TestEngine_EmptyQuery(t *testing.T) {
	dir := t.TempDir()
	eng, err := New(dir, testEngineConfig())
	require.NoError(t, err)
	require.NoError(t, eng.Index("doc1", "something"))
	require.NoError(t, eng.Save())
	require.NoError(t, eng.Close())

	q := Open(dir, testEngineConfig())
	require.NoError(t, q.Restore())
	defer q.Close()

	names, err := q.Search("...")
	require.NoError(t, err)
	require.Empty(t, names)

	n, err := q.Count("")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEngine_ConcurrentQueries(t *testing.T) {
	dir := t.TempDir()
	cfg := testEngineConfig()
	cfg.MaxDocsPerShard = 50

	eng, err := New(dir, cfg)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		text := "base"
		if i%3 == 0 {
			text += " third"
		}
		require.NoError(t, eng.Index(fmt.Sprintf("d%d", i), text))
	}
	require.NoError(t, eng.Save())
	require.NoError(t, eng.Close())

	q := Open(dir, cfg)
	require.NoError(t, q.Restore())
	defer q.Close()

	// Each query builds its own cursors, so queries may run in
	// parallel against the same mapped shards.
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			n, err := q.Count("base third")
			if err == nil && n != 67 {
				err = fmt.Errorf("Count = %d, want 67", n)
			}
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}

func TestEngine_IndexAfterOpenFails(t *testing.T) {
	q := Open(t.TempDir(), testEngineConfig())
	require.Error(t, q.Index("doc", "text"))
}

func TestManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	bases := []uint32{0, 1000, 2000, 2097151}
	require.NoError(t, writeManifest(dir, bases))
	got, err := readManifest(dir)
	require.NoError(t, err)
	require.Equal(t, bases, got)
}

func TestManifest_MissingFallsBackToSingleShard(t *testing.T) {
	dir := t.TempDir()
	// A bare single-shard layout has no manifest, just the index file.
	require.NoError(t, os.WriteFile(filepath.Join(dir, index.Filename), []byte{0, 0}, 0o644))
	bases, err := readManifest(dir)
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, bases)
}

func TestManifest_MissingEverything(t *testing.T) {
	_, err := readManifest(t.TempDir())
	require.Error(t, err)
}
