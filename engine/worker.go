package engine

import (
	"log/slog"

	"github.com/stn/searchlite/index"
)

// The shard protocol. A worker owns one shard's reader and serves
// these messages sequentially; parallelism comes from having one
// worker per shard, never from sharing a reader's cursors.

// SearchMsg asks a shard for the docids matching a conjunction.
type SearchMsg struct {
	Terms []string
}

// CountMsg asks a shard for the cardinality of a conjunction.
type CountMsg struct {
	Terms []string
}

// Reply carries a shard's answer: Hits for SearchMsg, N for CountMsg.
type Reply struct {
	Hits []uint32
	N    int
}

type request struct {
	msg   any
	reply chan Reply
}

type worker struct {
	reader *index.Reader
	reqs   chan request
	done   chan struct{}
}

func startWorker(r *index.Reader) *worker {
	w := &worker{
		reader: r,
		reqs:   make(chan request),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer close(w.done)
	for req := range w.reqs {
		req.reply <- w.handle(req.msg)
	}
}

func (w *worker) handle(msg any) Reply {
	switch m := msg.(type) {
	case SearchMsg:
		hits, err := w.reader.SearchAnd(m.Terms)
		if err != nil {
			// Already surfaced by the reader; the shard contributes
			// nothing to this query.
			return Reply{}
		}
		return Reply{Hits: hits}
	case CountMsg:
		n, err := w.reader.CountAnd(m.Terms)
		if err != nil {
			return Reply{}
		}
		return Reply{N: n}
	default:
		slog.Error("unknown shard message", slog.Any("msg", msg))
		return Reply{}
	}
}

// send queues a message and returns the channel its reply arrives on.
func (w *worker) send(msg any) chan Reply {
	reply := make(chan Reply, 1)
	w.reqs <- request{msg: msg, reply: reply}
	return reply
}

// stop drains the worker and closes its reader.
func (w *worker) stop() error {
	close(w.reqs)
	<-w.done
	return w.reader.Close()
}
