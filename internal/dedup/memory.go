// Package dedup remembers keys seen during one build: duplicate content
// ids, repeated dependency declarations, folders reported once.
package dedup

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Interface is satisfied by Memory. Seen reports whether key was seen
// before and records it.
type Interface interface {
	Seen(key string) bool
}

type Memory struct {
	m sync.Map
	n atomic.Int64
}

func NewMemory() *Memory { return &Memory{} }

func (d *Memory) Seen(key string) bool {
	_, ok := d.m.LoadOrStore(key, struct{}{})
	if !ok {
		d.n.Add(1)
	}
	return ok
}

// Len is the number of distinct keys recorded.
func (d *Memory) Len() int { return int(d.n.Load()) }

// Key joins parts into one dedup key.
func Key(parts ...string) string { return strings.Join(parts, "|") }
