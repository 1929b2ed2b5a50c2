package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func TestMemory_Seen(t *testing.T) {
	d := NewMemory()

	if d.Seen(Key("node", "Script:s1")) {
		t.Error("expected false for first occurrence")
	}
	if !d.Seen(Key("node", "Script:s1")) {
		t.Error("expected true for second occurrence")
	}
	if d.Seen(Key("node", "Script:s2")) {
		t.Error("expected false for new key")
	}
	if d.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", d.Len())
	}
}

func TestKey(t *testing.T) {
	if got := Key("folder", "Widgets"); got != "folder|Widgets" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestMemory_Concurrent(t *testing.T) {
	d := NewMemory()
	var wg sync.WaitGroup
	var mu sync.Mutex
	first := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.Seen("concurrent") {
				mu.Lock()
				first++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if first != 1 {
		t.Errorf("expected exactly 1 first occurrence, got %d", first)
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 key, got %d", d.Len())
	}
}

func BenchmarkMemory_Seen(b *testing.B) {
	d := NewMemory()

	b.Run("UniqueKeys", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			d.Seen(fmt.Sprintf("Script:s%d", i))
		}
	})

	b.Run("SameKey", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			d.Seen("benchmark")
		}
	})
}
