// Package cache keeps parse results keyed by the content they were parsed
// from, so unchanged items are not parsed again across runs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/contentkit/contentgraph/internal/parser"
)

// Cache stores parse records by content key.
type Cache interface {
	Get(ctx context.Context, key string) (*parser.Record, bool)
	Put(ctx context.Context, key string, rec *parser.Record)
}

// Memory is an in-process expiring LRU.
type Memory struct {
	lru *expirable.LRU[string, *parser.Record]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 4096
	}
	return &Memory{lru: expirable.NewLRU[string, *parser.Record](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (*parser.Record, bool) {
	return m.lru.Get(key)
}

func (m *Memory) Put(_ context.Context, key string, rec *parser.Record) {
	m.lru.Add(key, rec)
}

func (m *Memory) Len() int { return m.lru.Len() }

// Tiered checks the in-process tier first and fills it from the shared one.
type Tiered struct {
	local  *Memory
	shared Cache
}

func NewTiered(local *Memory, shared Cache) *Tiered {
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, key string) (*parser.Record, bool) {
	if rec, ok := t.local.Get(ctx, key); ok {
		return rec, true
	}
	if t.shared == nil {
		return nil, false
	}
	rec, ok := t.shared.Get(ctx, key)
	if ok {
		t.local.Put(ctx, key, rec)
	}
	return rec, ok
}

func (t *Tiered) Put(ctx context.Context, key string, rec *parser.Record) {
	t.local.Put(ctx, key, rec)
	if t.shared != nil {
		t.shared.Put(ctx, key, rec)
	}
}

// Key fingerprints an item: its file, the files it reads alongside it, and
// the pack context that shapes its marketplaces.
func Key(pack parser.PackInfo, ctName string, files ...string) (string, error) {
	h := sha256.New()
	h.Write([]byte(ctName))
	h.Write([]byte{0})
	h.Write([]byte(pack.ID))
	for _, m := range pack.Marketplaces {
		h.Write([]byte{0})
		h.Write([]byte(m))
	}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, f := range sorted {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
		h.Write([]byte(filepath.Base(f)))
		h.Write([]byte{0})
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
