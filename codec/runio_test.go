package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestToken_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for _, token := range []string{"a", "hello", "zürich"} {
		if err := WriteToken(&buf, token); err != nil {
			t.Fatalf("WriteToken(%q) error: %v", token, err)
		}
	}
	for _, want := range []string{"a", "hello", "zürich"} {
		got, err := ReadToken(&buf)
		if err != nil {
			t.Fatalf("ReadToken error: %v", err)
		}
		if got != want {
			t.Errorf("ReadToken = %q, want %q", got, want)
		}
	}
	// Clean end of stream reads as the empty token.
	if got, err := ReadToken(&buf); err != nil || got != "" {
		t.Fatalf("ReadToken at EOF = (%q, %v), want (\"\", nil)", got, err)
	}
}

func TestToken_LengthIsBigEndian(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteToken(&buf, strings.Repeat("x", 0x0102)); err != nil {
		t.Fatalf("WriteToken error: %v", err)
	}
	b := buf.Bytes()
	if b[0] != 0x01 || b[1] != 0x02 {
		t.Fatalf("term length bytes = %#x %#x, want big-endian 0x01 0x02", b[0], b[1])
	}
}

func TestWriteToken_TooLong(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteToken(&buf, strings.Repeat("x", 0x10000)); err == nil {
		t.Fatal("WriteToken accepted a 65536-byte term")
	}
}

func TestDocIDs_RoundTrip(t *testing.T) {
	ids := []uint32{0, 3, 99, 1 << 20, 1<<30 + 1}
	var buf bytes.Buffer
	if err := WriteDocIDs(&buf, ids); err != nil {
		t.Fatalf("WriteDocIDs error: %v", err)
	}
	got, err := ReadDocIDs(&buf)
	if err != nil {
		t.Fatalf("ReadDocIDs error: %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("ReadDocIDs returned %d ids, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Errorf("id[%d] = %d, want %d", i, got[i], ids[i])
		}
	}
}

func TestCopyDocIDs_PreservesBytes(t *testing.T) {
	var src bytes.Buffer
	if err := WriteDocIDs(&src, []uint32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	want := append([]byte(nil), src.Bytes()...)

	var dst bytes.Buffer
	if err := CopyDocIDs(&dst, &src); err != nil {
		t.Fatalf("CopyDocIDs error: %v", err)
	}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Fatalf("CopyDocIDs bytes = %v, want %v", dst.Bytes(), want)
	}
}

func TestMergeDocIDs_Concatenates(t *testing.T) {
	var src1, src2 bytes.Buffer
	if err := WriteDocIDs(&src1, []uint32{1, 5, 9}); err != nil {
		t.Fatal(err)
	}
	if err := WriteDocIDs(&src2, []uint32{10, 11}); err != nil {
		t.Fatal(err)
	}

	var dst bytes.Buffer
	if err := MergeDocIDs(&dst, &src1, &src2); err != nil {
		t.Fatalf("MergeDocIDs error: %v", err)
	}
	got, err := ReadDocIDs(&dst)
	if err != nil {
		t.Fatalf("ReadDocIDs error: %v", err)
	}
	want := []uint32{1, 5, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("merged %d ids, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("merged[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
