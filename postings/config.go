// Package postings implements the three on-disk posting-list
// representations and the forward-only cursors that iterate them.
//
// A posting list is a strictly ascending sequence of document ids. The
// representation is chosen by size when the list is written:
//
//	tag 0x01  Single         exactly one document
//	tag 0x02  FlatList       the encoded ids fit in one block, or MaxLevel is 0
//	tag 0x03  BlockSkipList  everything else
//
// # On-disk layout
//
// Every representation starts with its tag byte. The bodies are:
//
//	Single        varint docid
//	FlatList      freq(u32 LE)  varint docid * freq
//	BlockSkipList freq(u32 LE)  block_size(u8)  max_level(u8)
//	              level_block_idx(u32 LE) * max_level
//	              num_blocks(u32 LE)
//	              block * num_blocks
//
// A block is a fixed block_size-byte region:
//
//	next_block_idx(u32 LE)  payload_len(u8)  payload, zero padded
//
// Level-0 blocks hold packed varint docids; blocks at level 1 and above
// hold (varint docid, u32 LE down-pointer) pairs, where the down
// pointer is the index of the level-below block that starts with that
// docid. Block index 0 never appears as a next pointer because block 0
// is always the level-0 head, so 0 doubles as "no next block".
package postings

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Representation tags. The tag byte on disk doubles as the list-type
// value kept in the reader's lexicon.
const (
	TagSingle        byte = 0x01
	TagFlatList      byte = 0x02
	TagBlockSkipList byte = 0x03
)

// blockHeaderLen is the per-block overhead: the next-block index plus
// the payload length byte.
const blockHeaderLen = 5

// MinBlockSize is the smallest usable skip-list block.
const MinBlockSize = 12

// Environment variables honored by DefaultConfig. The names predate
// this implementation and are kept so existing deployments keep
// working.
const (
	EnvBlockSize = "PYSEARCHLITE_SKIPLIST_BLOCK_SIZE"
	EnvMaxLevel  = "PYSEARCHLITE_SKIPLIST_MAX_LEVEL"
)

// Config holds the skip-list shape parameters. A Config is fixed per
// index file: block size is recorded in each skip list's header and
// read back at query time, so readers need no Config at all.
type Config struct {
	// BlockSize is the fixed byte size of a skip-list block,
	// header included. Must be in [MinBlockSize, 255].
	BlockSize int

	// MaxLevel caps how many skip levels may be created above the
	// dense level 0.
	MaxLevel int
}

// DefaultConfig returns the standard configuration, with overrides
// taken from the environment.
func DefaultConfig() Config {
	cfg := Config{BlockSize: 44, MaxLevel: 10}
	if v, ok := envInt(EnvBlockSize); ok {
		cfg.BlockSize = v
	}
	if v, ok := envInt(EnvMaxLevel); ok {
		cfg.MaxLevel = v
	}
	return cfg
}

// Validate reports whether the configuration can be laid out on disk.
func (c Config) Validate() error {
	if c.BlockSize < MinBlockSize || c.BlockSize > 255 {
		return errors.Newf("postings: block size %d outside [%d, 255]", c.BlockSize, MinBlockSize)
	}
	if c.MaxLevel < 0 || c.MaxLevel > 255 {
		return errors.Newf("postings: max level %d outside [0, 255]", c.MaxLevel)
	}
	return nil
}

func envInt(name string) (int, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
