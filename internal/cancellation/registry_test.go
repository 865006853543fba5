package cancellation_test

import (
	"sync"
	"testing"

	"bundlex/internal/cancellation"
)

func TestRequestIsSetOnce(t *testing.T) {
	registry := cancellation.NewRegistry()

	if !registry.Request("abc") {
		t.Fatal("first request should report newly set")
	}
	if registry.Request("abc") {
		t.Fatal("second request should be idempotent")
	}
	if !registry.Cancelled("abc") {
		t.Fatal("expected session to be flagged")
	}
	if registry.Cancelled("other") {
		t.Fatal("unrelated session must not be flagged")
	}
}

func TestForgetClearsFlag(t *testing.T) {
	registry := cancellation.NewRegistry()
	registry.Request("abc")
	registry.Forget("abc")

	if registry.Cancelled("abc") {
		t.Fatal("expected flag to be cleared")
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", registry.Len())
	}
}

func TestConcurrentRequestsSetExactlyOnce(t *testing.T) {
	registry := cancellation.NewRegistry()

	var wg sync.WaitGroup
	firsts := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- registry.Request("abc")
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for first := range firsts {
		if first {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one first request, got %d", count)
	}
}
