package postings

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/stn/searchlite/codec"
)

// List is a posting list ready to be serialized. FromDocIDs picks the
// concrete representation.
type List interface {
	// Tag returns the representation's on-disk tag byte.
	Tag() byte

	// Write serializes the list, tag byte included.
	Write(w io.Writer) error
}

// FromDocIDs builds the smallest representation that holds ids, which
// must be strictly ascending and non-empty. The skip list is built in
// one forward pass; if the whole list never overflows a single level-0
// block, the flat list wins instead.
func FromDocIDs(ids []uint32, cfg Config) (List, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("postings: empty posting list")
	}
	if len(ids) == 1 {
		enc, err := codec.AppendDocID(nil, ids[0])
		if err != nil {
			return nil, err
		}
		return &Single{id: enc}, nil
	}
	return buildBlocks(ids, cfg)
}

// Single is a posting list with exactly one document.
type Single struct {
	id []byte
}

func (s *Single) Tag() byte { return TagSingle }

// Write emits the tag and the bare varint docid. There is no length
// field: the varint's first byte is self-delimiting and every consumer
// advances with codec.DocIDLen.
func (s *Single) Write(w io.Writer) error {
	if _, err := w.Write([]byte{TagSingle}); err != nil {
		return err
	}
	_, err := w.Write(s.id)
	return err
}

// FlatList is a posting list whose encoded ids fit in one block, or any
// multi-document list when MaxLevel is 0. The ids are kept pre-encoded
// back to back.
type FlatList struct {
	freq int
	buf  []byte
}

func (l *FlatList) Tag() byte { return TagFlatList }

func (l *FlatList) Write(w io.Writer) error {
	hdr := make([]byte, 0, 1+codec.DocIDLenBytes)
	hdr = append(hdr, TagFlatList)
	hdr = appendUint32LE(hdr, uint32(l.freq))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(l.buf)
	return err
}

// BlockSkipList is the multi-level blocked representation. blocks holds
// only payloads; headers are materialized at write time.
type BlockSkipList struct {
	blockSize     int
	maxLevel      int // levels above the dense level 0
	freq          int
	blocks        [][]byte
	nextBlockIdx  []uint32
	levelBlockIdx []uint32 // head block per level; [0] is always 0
}

func (s *BlockSkipList) Tag() byte { return TagBlockSkipList }

// buildBlocks runs the single forward construction pass. Ids arrive
// sorted, so a block never needs reordering: when the current block at
// some level fills up, a fresh block is chained after it and the
// overflowing docid is promoted one level up.
func buildBlocks(ids []uint32, cfg Config) (List, error) {
	payloadCap := cfg.BlockSize - blockHeaderLen

	enc, err := codec.AppendDocID(nil, ids[0])
	if err != nil {
		return nil, err
	}

	blocks := [][]byte{enc}
	nextBlockIdx := []uint32{0}
	currentBlockIdx := []int{0}
	levelBlockIdx := []uint32{0}

	for i := 1; i < len(ids); i++ {
		enc, err := codec.AppendDocID(nil, ids[i])
		if err != nil {
			return nil, err
		}
		cur := currentBlockIdx[0]
		if len(blocks[cur])+len(enc) <= payloadCap {
			blocks[cur] = append(blocks[cur], enc...)
			continue
		}

		// Level 0 overflow: start a new tail block.
		if len(enc) > payloadCap {
			return nil, errors.Newf("postings: docid %d does not fit a %d-byte block", ids[i], cfg.BlockSize)
		}
		newIdx := len(blocks)
		nextBlockIdx[cur] = uint32(newIdx)
		blocks = append(blocks, enc)
		nextBlockIdx = append(nextBlockIdx, 0)
		currentBlockIdx[0] = newIdx

		// Promote the first docid of the new block upwards until a
		// level has room for it.
		for level := 1; level <= cfg.MaxLevel; level++ {
			if len(currentBlockIdx) <= level {
				// First block of a brand-new level: it starts with the
				// overall first docid pointing down at the head of the
				// level below.
				head, err := codec.AppendDocID(nil, ids[0])
				if err != nil {
					return nil, err
				}
				head = codec.AppendBlockIdx(head, levelBlockIdx[level-1])
				if len(head) > payloadCap {
					return nil, errors.Newf("postings: docid %d and down pointer do not fit a %d-byte block", ids[0], cfg.BlockSize)
				}
				levelBlockIdx = append(levelBlockIdx, uint32(len(blocks)))
				currentBlockIdx = append(currentBlockIdx, len(blocks))
				blocks = append(blocks, head)
				nextBlockIdx = append(nextBlockIdx, 0)
			}
			cur := currentBlockIdx[level]
			if len(blocks[cur])+len(enc)+codec.BlockIdxBytes <= payloadCap {
				blocks[cur] = append(blocks[cur], enc...)
				blocks[cur] = codec.AppendBlockIdx(blocks[cur], uint32(currentBlockIdx[level-1]))
				break
			}
			// This level is full too: chain a new block here and keep
			// promoting.
			entry, err := codec.AppendDocID(nil, ids[i])
			if err != nil {
				return nil, err
			}
			entry = codec.AppendBlockIdx(entry, uint32(currentBlockIdx[level-1]))
			if len(entry) > payloadCap {
				return nil, errors.Newf("postings: docid %d and down pointer do not fit a %d-byte block", ids[i], cfg.BlockSize)
			}
			newIdx := len(blocks)
			nextBlockIdx[cur] = uint32(newIdx)
			blocks = append(blocks, entry)
			nextBlockIdx = append(nextBlockIdx, 0)
			currentBlockIdx[level] = newIdx
		}
	}

	if len(levelBlockIdx) == 1 {
		// No skip level was created (the list fit one block, or
		// MaxLevel is 0): the flat list is smaller and scans just as
		// fast.
		var buf []byte
		for _, id := range ids {
			buf, err = codec.AppendDocID(buf, id)
			if err != nil {
				return nil, err
			}
		}
		return &FlatList{freq: len(ids), buf: buf}, nil
	}

	return &BlockSkipList{
		blockSize:     cfg.BlockSize,
		maxLevel:      len(levelBlockIdx) - 1,
		freq:          len(ids),
		blocks:        blocks,
		nextBlockIdx:  nextBlockIdx,
		levelBlockIdx: levelBlockIdx,
	}, nil
}

func (s *BlockSkipList) Write(w io.Writer) error {
	hdr := make([]byte, 0, 1+codec.DocIDLenBytes+2+(s.maxLevel+1)*codec.BlockIdxBytes)
	hdr = append(hdr, TagBlockSkipList)
	hdr = appendUint32LE(hdr, uint32(s.freq))
	hdr = append(hdr, byte(s.blockSize), byte(s.maxLevel))
	for level := 1; level <= s.maxLevel; level++ {
		hdr = appendUint32LE(hdr, s.levelBlockIdx[level])
	}
	hdr = appendUint32LE(hdr, uint32(len(s.blocks)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}

	block := make([]byte, s.blockSize)
	for i, payload := range s.blocks {
		for j := range block {
			block[j] = 0
		}
		codec.PutBlockIdx(block, 0, s.nextBlockIdx[i])
		block[codec.BlockIdxBytes] = byte(len(payload))
		copy(block[blockHeaderLen:], payload)
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func appendUint32LE(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
