package postings

import (
	"bytes"
	"testing"

	"github.com/stn/searchlite/codec"
)

func testConfig() Config {
	return Config{BlockSize: 44, MaxLevel: 10}
}

func seq(from, to uint32) []uint32 {
	ids := make([]uint32, 0, to-from+1)
	for id := from; id <= to; id++ {
		ids = append(ids, id)
	}
	return ids
}

func mustBuild(t *testing.T, ids []uint32, cfg Config) List {
	t.Helper()
	list, err := FromDocIDs(ids, cfg)
	if err != nil {
		t.Fatalf("FromDocIDs(%d ids) error: %v", len(ids), err)
	}
	return list
}

func encode(t *testing.T, list List) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := list.Write(&buf); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	return buf.Bytes()
}

func TestFromDocIDs_SingleDocument(t *testing.T) {
	list := mustBuild(t, []uint32{5}, testConfig())
	if list.Tag() != TagSingle {
		t.Fatalf("tag = %#x, want TagSingle", list.Tag())
	}
	got := encode(t, list)
	want := []byte{TagSingle, 0x05}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded = %v, want %v", got, want)
	}
}

func TestFromDocIDs_SmallListStaysFlat(t *testing.T) {
	// 30 one-byte ids fit the 39-byte payload of one default block.
	list := mustBuild(t, seq(1, 30), testConfig())
	if list.Tag() != TagFlatList {
		t.Fatalf("tag = %#x, want TagFlatList", list.Tag())
	}
	got := encode(t, list)
	if got[0] != TagFlatList {
		t.Fatalf("leading byte = %#x", got[0])
	}
	if freq := codec.BlockIdx(got, 1); freq != 30 {
		t.Fatalf("freq field = %d, want 30", freq)
	}
	if len(got) != 1+4+30 {
		t.Fatalf("encoded length = %d, want %d", len(got), 1+4+30)
	}
}

func TestFromDocIDs_OverflowBecomesSkipList(t *testing.T) {
	list := mustBuild(t, seq(1, 40), testConfig())
	if list.Tag() != TagBlockSkipList {
		t.Fatalf("tag = %#x, want TagBlockSkipList", list.Tag())
	}
}

func TestFromDocIDs_MaxLevelZeroStaysFlat(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLevel = 0
	list := mustBuild(t, seq(1, 500), cfg)
	if list.Tag() != TagFlatList {
		t.Fatalf("tag = %#x, want TagFlatList with MaxLevel=0", list.Tag())
	}
}

func TestFromDocIDs_EmptyRejected(t *testing.T) {
	if _, err := FromDocIDs(nil, testConfig()); err == nil {
		t.Fatal("FromDocIDs(nil) did not fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	for _, cfg := range []Config{
		{BlockSize: 11, MaxLevel: 10},
		{BlockSize: 256, MaxLevel: 10},
		{BlockSize: 44, MaxLevel: -1},
		{BlockSize: 44, MaxLevel: 256},
	} {
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate(%+v) accepted invalid config", cfg)
		}
	}
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("Validate(default) error: %v", err)
	}
}

// parsedSkipList is the decoded on-disk form used to check invariants.
type parsedSkipList struct {
	freq      int
	blockSize int
	maxLevel  int
	levelIdx  []uint32 // head block per level, [0] == 0
	blocks    []byte   // raw packed blocks
}

func parseSkipList(t *testing.T, enc []byte) *parsedSkipList {
	t.Helper()
	if enc[0] != TagBlockSkipList {
		t.Fatalf("tag = %#x, want TagBlockSkipList", enc[0])
	}
	p := &parsedSkipList{
		freq:      int(codec.BlockIdx(enc, 1)),
		blockSize: int(enc[5]),
		maxLevel:  int(enc[6]),
	}
	pos := 7
	p.levelIdx = []uint32{0}
	for level := 1; level <= p.maxLevel; level++ {
		p.levelIdx = append(p.levelIdx, codec.BlockIdx(enc, pos))
		pos += 4
	}
	numBlocks := int(codec.BlockIdx(enc, pos))
	pos += 4
	p.blocks = enc[pos:]
	if len(p.blocks) != numBlocks*p.blockSize {
		t.Fatalf("block section = %d bytes, want %d blocks * %d", len(p.blocks), numBlocks, p.blockSize)
	}
	return p
}

func (p *parsedSkipList) numBlocks() int { return len(p.blocks) / p.blockSize }

func (p *parsedSkipList) next(idx int) int {
	return int(codec.BlockIdx(p.blocks, idx*p.blockSize))
}

func (p *parsedSkipList) payloadLen(idx int) int {
	return int(p.blocks[idx*p.blockSize+4])
}

// levelIDs walks one level's chain, returning each entry's docid and,
// above level 0, its down-pointer block index.
func (p *parsedSkipList) levelIDs(level int) (ids []uint32, down []int) {
	idx := int(p.levelIdx[level])
	for {
		start := idx * p.blockSize
		pos := start + 5
		end := start + 5 + p.payloadLen(idx)
		for pos < end {
			ids = append(ids, codec.DecodeDocID(p.blocks, pos))
			pos += codec.DocIDLen(p.blocks[pos])
			if level > 0 {
				down = append(down, int(codec.BlockIdx(p.blocks, pos)))
				pos += 4
			}
		}
		idx = p.next(idx)
		if idx == 0 {
			return ids, down
		}
	}
}

func TestBlockSkipList_DiskInvariants(t *testing.T) {
	cfg := testConfig()
	ids := make([]uint32, 0, 3000)
	for i := uint32(0); i < 3000; i++ {
		ids = append(ids, i*7) // multi-byte varints past id 127*... and gaps to search into
	}
	p := parseSkipList(t, encode(t, mustBuild(t, ids, cfg)))

	if p.freq != len(ids) {
		t.Fatalf("freq = %d, want %d", p.freq, len(ids))
	}
	if p.blockSize != cfg.BlockSize {
		t.Fatalf("block size = %d, want %d", p.blockSize, cfg.BlockSize)
	}
	if p.maxLevel < 1 {
		t.Fatalf("max level = %d, want >= 1", p.maxLevel)
	}

	// Every block's payload fits the fixed frame.
	for idx := 0; idx < p.numBlocks(); idx++ {
		if pl := p.payloadLen(idx); pl > p.blockSize-5 {
			t.Fatalf("block %d payload = %d bytes, exceeds %d", idx, pl, p.blockSize-5)
		}
		if next := p.next(idx); next < 0 || next >= p.numBlocks() {
			t.Fatalf("block %d next pointer = %d of %d blocks", idx, next, p.numBlocks())
		}
	}

	// The level-0 chain enumerates every docid exactly once, in order.
	level0, _ := p.levelIDs(0)
	if len(level0) != len(ids) {
		t.Fatalf("level 0 holds %d ids, want %d", len(level0), len(ids))
	}
	for i := range ids {
		if level0[i] != ids[i] {
			t.Fatalf("level0[%d] = %d, want %d", i, level0[i], ids[i])
		}
	}

	// Each level is a subsequence of the one below, and every down
	// pointer lands on a block that starts with the same docid.
	for level := 1; level <= p.maxLevel; level++ {
		upper, down := p.levelIDs(level)
		lower, _ := p.levelIDs(level - 1)
		if len(upper) == 0 || len(upper) >= len(lower) {
			t.Fatalf("level %d has %d entries, level below %d", level, len(upper), len(lower))
		}
		j := 0
		for i, id := range upper {
			for j < len(lower) && lower[j] != id {
				j++
			}
			if j == len(lower) {
				t.Fatalf("level %d entry %d not found below", level, id)
			}
			target := down[i] * p.blockSize
			first := codec.DecodeDocID(p.blocks, target+5)
			if first != id {
				t.Fatalf("down pointer of %d lands on block starting with %d", id, first)
			}
		}
	}
}

func TestBlockSkipList_DeterministicEncoding(t *testing.T) {
	ids := seq(0, 5000)
	a := encode(t, mustBuild(t, ids, testConfig()))
	b := encode(t, mustBuild(t, ids, testConfig()))
	if !bytes.Equal(a, b) {
		t.Fatal("two builds of the same input differ")
	}
}
