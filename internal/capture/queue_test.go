package capture

import (
	"sync"
	"testing"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := NewQueue("test")
	defer q.Close()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if !q.Async(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("Async %d rejected", i)
		}
	}
	q.Sync(func() {})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 100 {
		t.Fatalf("Expected 100 tasks, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("Expected task %d at position %d, got %d", i, i, v)
		}
	}
}

func TestQueue_SyncWaits(t *testing.T) {
	q := NewQueue("test")
	defer q.Close()

	done := false
	if !q.Sync(func() { done = true }) {
		t.Fatal("Sync rejected")
	}
	if !done {
		t.Error("Expected Sync to wait for the task")
	}
	if q.Label() != "test" {
		t.Errorf("Expected label test, got %s", q.Label())
	}
}

func TestQueue_CloseDrainsAndRejects(t *testing.T) {
	q := NewQueue("test")

	count := 0
	for i := 0; i < 10; i++ {
		q.Async(func() { count++ })
	}
	q.Close()

	if count != 10 {
		t.Errorf("Expected queued tasks to run before Close returns, got %d", count)
	}
	if q.Async(func() {}) {
		t.Error("Expected Async to be rejected after Close")
	}
	if q.Sync(func() {}) {
		t.Error("Expected Sync to be rejected after Close")
	}

	// 二重のCloseは即座に戻る
	q.Close()
}
