package engine

import "github.com/mukhametgalin/predict-trading-system/execution-engine/internal/types"

const historySize = 100

// history keeps the most recent order records, oldest first.
type history struct {
	buf  []types.OrderRecord
	head int
	full bool
}

func newHistory(n int) *history {
	return &history{buf: make([]types.OrderRecord, n)}
}

func (h *history) add(rec types.OrderRecord) {
	h.buf[h.head] = rec
	h.head = (h.head + 1) % len(h.buf)
	if h.head == 0 {
		h.full = true
	}
}

func (h *history) list() []types.OrderRecord {
	if !h.full {
		out := make([]types.OrderRecord, h.head)
		copy(out, h.buf[:h.head])
		return out
	}
	out := make([]types.OrderRecord, 0, len(h.buf))
	out = append(out, h.buf[h.head:]...)
	return append(out, h.buf[:h.head]...)
}
