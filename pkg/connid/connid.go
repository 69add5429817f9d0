// Package connid mints the opaque connection ids the transport layer
// assigns to each accepted socket. Ids are unique per node and roughly
// time-ordered, which keeps registry scans and log lines readable.
package connid

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	seqBits         = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	seqMask         = -1 ^ (-1 << seqBits)
	timeShift       = nodeBits + seqBits
	nodeShift       = seqBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Generator produces ids from a millisecond timestamp, a node number, and a
// per-millisecond sequence. Safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	last int64
	node int64
	seq  int64
}

func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("connid: node number must be between 0 and 1023")
	}
	return &Generator{node: node}, nil
}

// Next returns a fresh connection id. The numeric value is rendered in
// base 36 so ids stay short in registry keys and query params.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.last {
		// Clock moved backwards; hold the line instead of reissuing.
		now = g.last
	}

	if now == g.last {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			for now <= g.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.last = now

	id := ((now - epoch) << timeShift) | (g.node << nodeShift) | g.seq
	return strconv.FormatInt(id, 36)
}
