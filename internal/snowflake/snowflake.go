// Package snowflake issues the server-assigned message IDs. IDs are 63-bit
// integers that sort by creation millisecond, which keeps the ID tie-break
// in channel ordering consistent with timestamps.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

// Epoch is 2026-01-01T00:00:00Z in unix milliseconds.
const Epoch int64 = 1767225600000

const (
	nodeBits     = 10
	sequenceBits = 12

	MaxNode     = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits
)

// Generator produces unique, roughly time-ordered IDs for one node.
type Generator struct {
	mu       sync.Mutex
	node     int64
	sequence int64
	lastMs   int64
	now      func() time.Time
}

// NewGenerator creates a generator for the given node, which must be in
// [0, MaxNode].
func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("snowflake: node must be between 0 and %d", MaxNode)
	}
	return &Generator{node: node, now: time.Now}, nil
}

// Generate returns the next ID.
func (g *Generator) Generate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli() - Epoch
	if ms < g.lastMs {
		// Clock stepped backwards; keep issuing from the last seen millisecond.
		ms = g.lastMs
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ms <= g.lastMs {
				ms = g.now().UnixMilli() - Epoch
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return ms<<timeShift | g.node<<nodeShift | g.sequence
}

// Timestamp returns the wall-clock millisecond embedded in id.
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch)
}

// Node returns the node that issued id.
func Node(id int64) int64 {
	return (id >> nodeShift) & MaxNode
}
