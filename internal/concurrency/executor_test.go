package concurrency_test

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-wsdriver/internal/concurrency"
)

func TestExecutorRunsSubmittedTasks(t *testing.T) {
	e := concurrency.NewExecutor(2)
	defer e.Close()

	var wg sync.WaitGroup
	var n int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := e.Submit(func() {
			defer wg.Done()
			mu.Lock()
			n++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()
	if n != 10 {
		t.Fatalf("n = %d, want 10", n)
	}
}

func TestExecutorRejectsAfterClose(t *testing.T) {
	e := concurrency.NewExecutor(1)
	e.Close()
	if err := e.Submit(func() {}); err != concurrency.ErrExecutorClosed {
		t.Fatalf("err = %v, want ErrExecutorClosed", err)
	}
}

func TestExecutorSurvivesPanickingTask(t *testing.T) {
	e := concurrency.NewExecutor(1)
	defer e.Close()

	done := make(chan struct{})
	e.Submit(func() { panic("boom") })
	e.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor stopped processing tasks after a panic")
	}
}
