package index

import "github.com/stn/searchlite/postings"

// intersect runs the conjunction over cursors already sorted by
// ascending frequency and returns the offsets of the matching docids,
// taken from the rarest list. Offsets all point into mem, the shard's
// mapped region.
//
// The loop is the classic leap-frog: the rarest cursor A anchors each
// candidate, the next-rarest B is brought up to it, and whenever any
// cursor overshoots, A jumps forward to the overshooting docid and the
// round restarts. Every comparison works on the encoded bytes; nothing
// is decoded until a match is emitted by the caller.
func intersect(mem []byte, cursors []*postings.Cursor) []int {
	a, b := cursors[0], cursors[1]
	tails := cursors[2:]

	var out []int
	posA := a.Pos()
loop:
	for {
		posB, cmp := b.Search(mem, posA)
		if cmp < 0 {
			break // b exhausted
		}
		if cmp > 0 {
			var cmpA int
			posA, cmpA = a.Search(mem, posB)
			if cmpA < 0 {
				break // a exhausted
			}
			continue
		}

		for _, c := range tails {
			posC, cmpC := c.Search(mem, posA)
			if cmpC == 0 {
				continue
			}
			if cmpC < 0 {
				break loop // tail exhausted
			}
			var cmpA int
			posA, cmpA = a.Search(mem, posC)
			if cmpA < 0 {
				break loop
			}
			continue loop
		}

		out = append(out, posA)
		var cmpN int
		posA, cmpN = a.Next()
		if cmpN < 0 {
			break
		}
	}
	return out
}
