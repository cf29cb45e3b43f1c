package postings

import (
	"github.com/cockroachdb/errors"

	"github.com/stn/searchlite/codec"
)

// Cursor is a forward-only iterator over one posting list inside a
// memory-mapped index. All three representations share the one struct
// and dispatch on the tag, so the hot path is a single switch with no
// interface calls and no allocation after construction.
//
// A cursor borrows the mapped region; it must not outlive the Reader
// that owns the mapping. Positions handed out by Pos, Search and Next
// are absolute byte offsets into that region, pointing at an encoded
// docid; comparisons against them go through codec.CompareDocID without
// decoding.
//
// Search targets must be non-decreasing: the cursor only moves forward.
// The skip-list variant keeps a (block, offset) memo per level so that
// a run of increasing targets descends from the deepest level whose
// remembered entry is still at or past the target, instead of starting
// at the top every time.
type Cursor struct {
	kind byte
	mem  []byte
	off  int // first byte of the list body
	freq int

	// FlatList state.
	idx int
	pos int

	// BlockSkipList geometry, parsed from the list header.
	blockSize int
	maxLevel  int
	numBlocks int
	base      int // offset of block 0

	levelBlockIdx []uint32
	lastBlockIdx  []int
	lastPos       []int
}

// NewCursor builds a cursor over the list body at mem[off], where tag
// and freq come from the reader's lexicon.
func NewCursor(mem []byte, tag byte, freq int, off int) (*Cursor, error) {
	c := &Cursor{kind: tag, mem: mem, off: off, freq: freq}
	switch tag {
	case TagSingle:
		c.freq = 1
	case TagFlatList:
	case TagBlockSkipList:
		if off+2 > len(mem) {
			return nil, errors.Newf("postings: skip list header at %d beyond region", off)
		}
		c.blockSize = int(mem[off])
		c.maxLevel = int(mem[off+1])
		if c.blockSize < MinBlockSize {
			return nil, errors.Newf("postings: skip list block size %d at offset %d", c.blockSize, off)
		}
		p := off + 2
		c.levelBlockIdx = make([]uint32, c.maxLevel+1)
		for level := 1; level <= c.maxLevel; level++ {
			c.levelBlockIdx[level] = codec.BlockIdx(mem, p)
			p += codec.BlockIdxBytes
		}
		c.numBlocks = int(codec.BlockIdx(mem, p))
		c.base = p + codec.BlockIdxBytes
		c.lastBlockIdx = make([]int, c.maxLevel+1)
		c.lastPos = make([]int, c.maxLevel+1)
	default:
		return nil, errors.Newf("postings: unknown list tag %#x", tag)
	}
	c.Reset()
	return c, nil
}

// Reset rewinds the cursor to the first docid.
func (c *Cursor) Reset() {
	switch c.kind {
	case TagFlatList:
		c.idx = 0
		c.pos = c.off
	case TagBlockSkipList:
		for level := 0; level <= c.maxLevel; level++ {
			idx := int(c.levelBlockIdx[level])
			c.lastBlockIdx[level] = idx
			c.lastPos[level] = c.base + c.blockSize*idx + blockHeaderLen
		}
	}
}

// Pos returns the offset of the docid the cursor points at.
func (c *Cursor) Pos() int {
	switch c.kind {
	case TagSingle:
		return c.off
	case TagFlatList:
		return c.pos
	default:
		return c.lastPos[0]
	}
}

// Freq returns the number of documents in the list.
func (c *Cursor) Freq() int { return c.freq }

// Search advances the cursor to the first docid >= the target encoded
// at memA[posA] and returns its offset together with the three-way
// comparison against the target. When every remaining docid is smaller
// the cursor stays on the last docid and the comparison is negative.
func (c *Cursor) Search(memA []byte, posA int) (int, int) {
	switch c.kind {
	case TagSingle:
		return c.off, codec.CompareDocID(c.mem, c.off, memA, posA)
	case TagFlatList:
		return c.flatSearch(memA, posA)
	default:
		return c.skipSearch(memA, posA)
	}
}

// Next advances one docid. The comparison result is negative when the
// cursor was already on the last docid, which then remains current.
func (c *Cursor) Next() (int, int) {
	switch c.kind {
	case TagSingle:
		return c.off, -1
	case TagFlatList:
		if c.idx+1 >= c.freq {
			return c.pos, -1
		}
		c.idx++
		c.pos += codec.DocIDLen(c.mem[c.pos])
		return c.pos, 0
	default:
		return c.skipNext()
	}
}

func (c *Cursor) flatSearch(memA []byte, posA int) (int, int) {
	i, pos := c.idx, c.pos
	for {
		cmp := codec.CompareDocID(c.mem, pos, memA, posA)
		if cmp >= 0 {
			c.idx, c.pos = i, pos
			return pos, cmp
		}
		if i+1 >= c.freq {
			c.idx, c.pos = i, pos
			return pos, cmp
		}
		i++
		pos += codec.DocIDLen(c.mem[pos])
	}
}

// blockStart returns the offset of a block and blockEnd the offset just
// past its payload.
func (c *Cursor) blockStart(idx int) int {
	return c.base + c.blockSize*idx
}

func (c *Cursor) blockEnd(start int) int {
	return start + blockHeaderLen + int(c.mem[start+codec.BlockIdxBytes])
}

// nextBlock reads a block's chain pointer, returning 0 for "no next"
// and treating an out-of-range index the same way so that a corrupt
// pointer cannot walk outside the list.
func (c *Cursor) nextBlock(start int) int {
	next := int(codec.BlockIdx(c.mem, start))
	if next <= 0 || next >= c.numBlocks {
		return 0
	}
	return next
}

func (c *Cursor) skipSearch(memA []byte, posA int) (int, int) {
	// Resume from the deepest level whose remembered entry has not
	// fallen behind the target.
	level := 0
	for ; level < c.maxLevel; level++ {
		if codec.CompareDocID(c.mem, c.lastPos[level], memA, posA) >= 0 {
			break
		}
	}

	blockIdx := c.lastBlockIdx[level]
	start := c.blockStart(blockIdx)
	end := c.blockEnd(start)
	pos := c.lastPos[level]
	last := pos

	if level == 0 {
		cmp := codec.CompareDocID(c.mem, pos, memA, posA)
		if cmp >= 0 {
			return pos, cmp
		}
	}

	// Skip phase: at each level run forward until the next entry would
	// overshoot, then descend. Equality descends too, through the equal
	// entry itself, so that a search always lands on the dense level
	// and Next can continue from it.
	for level > 0 {
		for {
			cmp := codec.CompareDocID(c.mem, pos, memA, posA)
			if cmp > 0 {
				pos = last
				c.lastPos[level] = last
				break
			}
			if cmp == 0 {
				c.lastPos[level] = pos
				break
			}
			last = pos
			pos += codec.DocIDLen(c.mem[pos]) + codec.BlockIdxBytes
			if pos < end {
				continue
			}
			next := c.nextBlock(start)
			if next == 0 {
				pos = last
				c.lastPos[level] = last
				break
			}
			nextStart := c.blockStart(next)
			nextPos := nextStart + blockHeaderLen
			if codec.CompareDocID(c.mem, nextPos, memA, posA) > 0 {
				pos = last
				c.lastPos[level] = last
				break
			}
			blockIdx, start, pos = next, nextStart, nextPos
			end = c.blockEnd(start)
			c.lastBlockIdx[level] = blockIdx
		}

		// Descend through the down pointer of the entry at pos: the
		// last entry before the target, or the equal entry.
		down := int(codec.BlockIdx(c.mem, pos+codec.DocIDLen(c.mem[pos])))
		if down < 0 || down >= c.numBlocks {
			down = 0
		}
		level--
		blockIdx = down
		start = c.blockStart(blockIdx)
		end = c.blockEnd(start)
		pos = start + blockHeaderLen
		last = pos
		c.lastBlockIdx[level] = blockIdx
		c.lastPos[level] = pos
	}

	// Dense level 0: linear scan across the chained blocks.
	for {
		cmp := codec.CompareDocID(c.mem, pos, memA, posA)
		if cmp >= 0 {
			c.lastPos[0] = pos
			return pos, cmp
		}
		nextPos := pos + codec.DocIDLen(c.mem[pos])
		if nextPos < end {
			pos = nextPos
			continue
		}
		next := c.nextBlock(start)
		if next == 0 {
			// Exhausted: stay on the last docid.
			c.lastPos[0] = pos
			return pos, cmp
		}
		start = c.blockStart(next)
		end = c.blockEnd(start)
		pos = start + blockHeaderLen
		c.lastBlockIdx[0] = next
	}
}

func (c *Cursor) skipNext() (int, int) {
	start := c.blockStart(c.lastBlockIdx[0])
	end := c.blockEnd(start)
	pos := c.lastPos[0] + codec.DocIDLen(c.mem[c.lastPos[0]])
	if pos >= end {
		next := c.nextBlock(start)
		if next == 0 {
			return c.lastPos[0], -1
		}
		c.lastBlockIdx[0] = next
		pos = c.blockStart(next) + blockHeaderLen
	}
	c.lastPos[0] = pos
	return pos, 0
}

// IDs decodes the whole posting list in ascending order.
func (c *Cursor) IDs() []uint32 {
	ids := make([]uint32, 0, c.freq)
	switch c.kind {
	case TagSingle:
		ids = append(ids, codec.DecodeDocID(c.mem, c.off))
	case TagFlatList:
		pos := c.off
		for i := 0; i < c.freq; i++ {
			ids = append(ids, codec.DecodeDocID(c.mem, pos))
			pos += codec.DocIDLen(c.mem[pos])
		}
	default:
		start := c.blockStart(0)
		for {
			end := c.blockEnd(start)
			for pos := start + blockHeaderLen; pos < end; pos += codec.DocIDLen(c.mem[pos]) {
				ids = append(ids, codec.DecodeDocID(c.mem, pos))
			}
			next := c.nextBlock(start)
			if next == 0 {
				break
			}
			start = c.blockStart(next)
		}
	}
	return ids
}
