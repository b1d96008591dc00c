package pdfrenderer

import (
	"sync"
	"testing"
)

func TestHandleTableTakeOnce(t *testing.T) {
	table := newHandleTable[string]()
	h := table.register("doc")

	if h.IsNil() {
		t.Fatal("register returned the nil handle")
	}
	if v, ok := table.lookup(h); !ok || v != "doc" {
		t.Fatalf("lookup = %q, %v", v, ok)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := table.take(h); ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Errorf("handle taken %d times, want 1", taken)
	}
	if table.size() != 0 {
		t.Errorf("table size = %d after take", table.size())
	}
}

func TestHandleTableNilHandle(t *testing.T) {
	table := newHandleTable[int]()
	if _, ok := table.lookup(NilHandle); ok {
		t.Error("lookup of NilHandle succeeded")
	}
	if _, ok := table.take(NilHandle); ok {
		t.Error("take of NilHandle succeeded")
	}
}

func TestHandlesAreUniqueAcrossTables(t *testing.T) {
	a := newHandleTable[int]()
	b := newHandleTable[int]()
	ha := a.register(1)
	hb := b.register(2)
	if ha == hb {
		t.Fatalf("two tables issued the same handle %d", ha)
	}
	if _, ok := b.lookup(ha); ok {
		t.Error("handle from table a resolved in table b")
	}
}

func TestContextPool(t *testing.T) {
	var flushed, discarded []int
	pool := newContextPool(2,
		func(c int) { flushed = append(flushed, c) },
		func(c int) { discarded = append(discarded, c) })

	if _, ok := pool.get(); ok {
		t.Fatal("empty pool returned a context")
	}

	pool.put(1)
	pool.put(2)
	pool.put(3)

	if len(flushed) != 3 {
		t.Errorf("flushed %v, want every returned context flushed", flushed)
	}
	if len(discarded) != 1 || discarded[0] != 3 {
		t.Errorf("discarded %v, want [3]", discarded)
	}
	if pool.len() != 2 {
		t.Errorf("pool len = %d, want 2", pool.len())
	}

	c, ok := pool.get()
	if !ok || c != 2 {
		t.Errorf("get = %d, %v, want most recently returned context", c, ok)
	}

	pool.close()
	if len(discarded) != 2 || discarded[1] != 1 {
		t.Errorf("close discarded %v", discarded)
	}
	if pool.len() != 0 {
		t.Errorf("pool not empty after close")
	}
}
