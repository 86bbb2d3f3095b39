package dedup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrComputeCachesWithinTTL(t *testing.T) {
	c := New[string](time.Minute)
	var computes atomic.Int32

	for i := 0; i < 3; i++ {
		got, err := c.GetOrCompute("k", func() (string, error) {
			computes.Add(1)
			return "value", nil
		})
		if err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
		if got != "value" {
			t.Errorf("got %q, want value", got)
		}
	}
	if computes.Load() != 1 {
		t.Errorf("computed %d times, want 1", computes.Load())
	}
}

func TestGetOrComputeConcurrentSingleFlight(t *testing.T) {
	c := New[string](time.Minute)
	var computes atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrCompute("shared", func() (string, error) {
				computes.Add(1)
				<-release
				return "once", nil
			})
			if err != nil || got != "once" {
				t.Errorf("got %q, %v", got, err)
			}
		}()
	}

	// Give the goroutines time to pile onto the same flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if computes.Load() != 1 {
		t.Errorf("computed %d times, want 1", computes.Load())
	}
}

func TestExpiredEntryRecomputes(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	var computes atomic.Int32

	compute := func() (int, error) {
		return int(computes.Add(1)), nil
	}

	if got, _ := c.GetOrCompute("k", compute); got != 1 {
		t.Errorf("first = %d, want 1", got)
	}
	time.Sleep(20 * time.Millisecond)
	if got, _ := c.GetOrCompute("k", compute); got != 2 {
		t.Errorf("after expiry = %d, want 2", got)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New[string](time.Minute)
	var computes atomic.Int32

	_, err := c.GetOrCompute("k", func() (string, error) {
		computes.Add(1)
		return "", errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	got, err := c.GetOrCompute("k", func() (string, error) {
		computes.Add(1)
		return "recovered", nil
	})
	if err != nil || got != "recovered" {
		t.Fatalf("got %q, %v", got, err)
	}
	if computes.Load() != 2 {
		t.Errorf("computed %d times, want 2", computes.Load())
	}
}

func TestInvalidate(t *testing.T) {
	c := New[string](time.Minute)
	c.GetOrCompute("k", func() (string, error) { return "v1", nil })
	c.Invalidate("k")

	got, _ := c.GetOrCompute("k", func() (string, error) { return "v2", nil })
	if got != "v2" {
		t.Errorf("got %q, want v2 after invalidate", got)
	}
}

func TestFingerprintStableAndDistinct(t *testing.T) {
	a := Fingerprint([]byte("audio-a"))
	if a != Fingerprint([]byte("audio-a")) {
		t.Error("fingerprint not stable")
	}
	if a == Fingerprint([]byte("audio-b")) {
		t.Error("distinct payloads collided")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}
