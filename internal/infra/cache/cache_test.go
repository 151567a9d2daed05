package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[*domain.Identity](5 * time.Minute)
	defer c.Close()

	c.Set("42", &domain.Identity{ID: 42, FullName: "Asha Rao"})
	val, ok := c.Get("42")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val.FullName != "Asha Rao" {
		t.Errorf("expected 'Asha Rao', got '%s'", val.FullName)
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_GetOrLoadSharesConcurrentMisses(t *testing.T) {
	c := cache.New[*domain.Identity](5 * time.Minute)
	defer c.Close()

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*domain.Identity, error) {
		loads.Add(1)
		<-release
		return &domain.Identity{ID: 7}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := c.GetOrLoad(context.Background(), "7", load)
			if err != nil || id.ID != 7 {
				t.Errorf("unexpected result %v %v", id, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("expected a single load, got %d", loads.Load())
	}
	if _, hit, _ := c.GetOrLoad(context.Background(), "7", load); !hit {
		t.Error("expected cache hit after load")
	}
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	boom := errors.New("identity api down")
	if _, _, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	v, hit, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) { return "ok", nil })
	if err != nil || hit || v != "ok" {
		t.Errorf("expected fresh load, got %q hit=%v err=%v", v, hit, err)
	}
}
