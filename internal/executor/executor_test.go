package executor_test

import (
	"context"
	"testing"
	"time"

	"pqsession/internal/executor"
)

func TestSubmit_PreservesFIFOOrder(t *testing.T) {
	e := executor.New()
	defer e.Close()

	var order []int
	done := make(chan *executor.Future, 10)

	for i := range 10 {
		i := i
		fut := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
			order = append(order, i)
			return i, nil
		})
		done <- fut
	}
	close(done)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for fut := range done {
		if _, err := fut.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	for i, v := range order {
		if i != v {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	e := executor.New()
	e.Close()

	fut := e.Submit(context.Background(), func(ctx context.Context) (any, error) {
		t.Fatal("unit ran after Close")
		return nil, nil
	})
	if _, err := fut.Wait(context.Background()); err != executor.ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
