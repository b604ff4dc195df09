package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/bina-scraper/pkg/listing"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var office = &listing.Category{Code: listing.CategoryOffice, Label: "Ofis"}

// fill stores one lookup per category, nil meaning "no category".
func fill(t *testing.T, m *Manager, categories map[string]*listing.Category) {
	t.Helper()
	for path, category := range categories {
		category := category
		if _, err := m.GetOrLoad(context.Background(), KeyForPath(path), func(context.Context) (*listing.Category, error) {
			return category, nil
		}); err != nil {
			t.Fatalf("GetOrLoad(%s) error: %v", path, err)
		}
	}
}

func TestManager_NilCategoryIsCached(t *testing.T) {
	m := NewManager()
	key := KeyForPath("/items/2")
	var loads atomic.Int32

	load := func(context.Context) (*listing.Category, error) {
		loads.Add(1)
		return nil, nil
	}
	for i := 0; i < 2; i++ {
		got, err := m.GetOrLoad(context.Background(), key, load)
		if err != nil || got != nil {
			t.Fatalf("GetOrLoad() = %+v, %v; want nil, nil", got, err)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("loads = %d, want 1", loads.Load())
	}
	if entries, resolved := m.Resolved(); entries != 1 || resolved != 0 {
		t.Errorf("Resolved() = %d, %d; want 1, 0", entries, resolved)
	}
}

func TestManager_Resolved(t *testing.T) {
	m := NewManager()
	fill(t, m, map[string]*listing.Category{
		"/items/1": office,
		"/items/2": nil,
		"/items/3": {Code: listing.CategoryNewBuild, Label: "Yeni tikili"},
	})

	if entries, resolved := m.Resolved(); entries != 3 || resolved != 2 {
		t.Errorf("Resolved() = %d, %d; want 3, 2", entries, resolved)
	}
}

func TestManager_GetOrLoad_LoadsOnce(t *testing.T) {
	m := NewManager()
	key := KeyForPath("/items/3")
	var loads atomic.Int32

	load := func(context.Context) (*listing.Category, error) {
		loads.Add(1)
		return office, nil
	}

	for i := 0; i < 3; i++ {
		got, err := m.GetOrLoad(context.Background(), key, load)
		if err != nil {
			t.Fatalf("GetOrLoad() error: %v", err)
		}
		if got != office {
			t.Errorf("got %+v, want %+v", got, office)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("loads = %d, want 1", loads.Load())
	}
}

func TestManager_GetOrLoad_FailureNotCached(t *testing.T) {
	m := NewManager()
	key := KeyForPath("/items/4")
	boom := errors.New("detail page unavailable")
	var loads atomic.Int32

	_, err := m.GetOrLoad(context.Background(), key, func(context.Context) (*listing.Category, error) {
		loads.Add(1)
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if entries, _ := m.Resolved(); entries != 0 {
		t.Errorf("%d entries after failure, want 0", entries)
	}

	got, err := m.GetOrLoad(context.Background(), key, func(context.Context) (*listing.Category, error) {
		loads.Add(1)
		return office, nil
	})
	if err != nil || got != office {
		t.Errorf("retry = %+v, %v; want %+v, nil", got, err, office)
	}
	if loads.Load() != 2 {
		t.Errorf("loads = %d, want 2", loads.Load())
	}
}

func TestManager_GetOrLoad_ConcurrentCallersShareLoad(t *testing.T) {
	m := NewManager()
	key := KeyForPath("/items/5")
	var loads atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (*listing.Category, error) {
		loads.Add(1)
		<-release
		return office, nil
	}

	var wg sync.WaitGroup
	results := make([]*listing.Category, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.GetOrLoad(context.Background(), key, load)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("loads = %d, want 1", loads.Load())
	}
	for i, got := range results {
		if got != office {
			t.Errorf("results[%d] = %+v, want %+v", i, got, office)
		}
	}
}

func TestManager_GetOrLoad_WaiterContextCancelled(t *testing.T) {
	m := NewManager()
	key := KeyForPath("/items/6")
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = m.GetOrLoad(context.Background(), key, func(context.Context) (*listing.Category, error) {
			<-release
			return office, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.GetOrLoad(ctx, key, func(context.Context) (*listing.Category, error) {
		t.Error("waiter must not start a second load")
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestManager_Reset(t *testing.T) {
	before := testutil.ToFloat64(CacheEntries)

	m := NewManager()
	fill(t, m, map[string]*listing.Category{"/items/1": office, "/items/2": nil})
	if got := testutil.ToFloat64(CacheEntries) - before; got != 2 {
		t.Errorf("entries gauge grew by %v, want 2", got)
	}

	m.Reset()

	if entries, _ := m.Resolved(); entries != 0 {
		t.Errorf("%d entries after Reset, want 0", entries)
	}
	if got := testutil.ToFloat64(CacheEntries); got != before {
		t.Errorf("entries gauge = %v after Reset, want %v", got, before)
	}
}
