package codec

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Run-file record format, written during a spill and consumed by the
// merge passes:
//
//	term_len  u16 big-endian
//	term      term_len bytes of UTF-8
//	freq      u32 big-endian
//	doc_ids   freq * u32 big-endian
//
// Document ids are fixed-width here, unlike the final index: each run
// is written once and read once, and fixed-width ids let the merge copy
// a whole posting block without inspecting it.

// ErrTermTooLong is returned when a term does not fit the u16 length
// prefix. The tokenizer never produces such terms; this guards direct
// Builder callers.
var ErrTermTooLong = errors.New("codec: term exceeds 65535 bytes")

// WriteToken writes a length-prefixed term.
func WriteToken(w io.Writer, token string) error {
	if len(token) > 0xffff {
		return errors.Wrapf(ErrTermTooLong, "%d bytes", len(token))
	}
	var buf [TokenLenBytes]byte
	buf[0] = byte(len(token) >> 8)
	buf[1] = byte(len(token))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, token)
	return err
}

// ReadToken reads the next length-prefixed term. It returns "" without
// an error at a clean end of stream.
func ReadToken(r io.Reader) (string, error) {
	var lenBuf [TokenLenBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	n := int(lenBuf[0])<<8 | int(lenBuf[1])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}

// WriteDocIDs writes a frequency-prefixed fixed-width docid sequence.
func WriteDocIDs(w io.Writer, ids []uint32) error {
	var buf [DocIDLenBytes]byte
	putUint32BE(buf[:], uint32(len(ids)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	for _, id := range ids {
		putUint32BE(buf[:], id)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// ReadDocIDs reads a frequency-prefixed fixed-width docid sequence.
func ReadDocIDs(r io.Reader) ([]uint32, error) {
	n, err := readUint32BE(r)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, n)
	var buf [DocIDBytes]byte
	for i := range ids {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		ids[i] = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	}
	return ids, nil
}

// CopyDocIDs streams one docid sequence from src to dst unchanged.
func CopyDocIDs(dst io.Writer, src io.Reader) error {
	n, err := readUint32BE(src)
	if err != nil {
		return err
	}
	var buf [DocIDLenBytes]byte
	putUint32BE(buf[:], n)
	if _, err := dst.Write(buf[:]); err != nil {
		return err
	}
	_, err = io.CopyN(dst, src, int64(n)*DocIDBytes)
	return err
}

// MergeDocIDs concatenates the docid sequences from src1 and src2 into
// dst. The caller guarantees every id in src2 is greater than every id
// in src1, so concatenation preserves the sorted order.
func MergeDocIDs(dst io.Writer, src1, src2 io.Reader) error {
	n1, err := readUint32BE(src1)
	if err != nil {
		return err
	}
	n2, err := readUint32BE(src2)
	if err != nil {
		return err
	}
	var buf [DocIDLenBytes]byte
	putUint32BE(buf[:], n1+n2)
	if _, err := dst.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.CopyN(dst, src1, int64(n1)*DocIDBytes); err != nil {
		return err
	}
	_, err = io.CopyN(dst, src2, int64(n2)*DocIDBytes)
	return err
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func readUint32BE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}
