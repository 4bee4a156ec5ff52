package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rivulet-go/rivulet/clock"
)

func TestNewItemTimeout_Defaults(t *testing.T) {
	it := NewItemTimeout(ItemTimeoutConfig{})
	if it.config.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", it.config.Timeout)
	}
}

func TestItemTimeout_ExecuteSuccess(t *testing.T) {
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: time.Second})

	executed := false
	err := it.Execute(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("operation was not executed")
	}
}

func TestItemTimeout_ExecuteError(t *testing.T) {
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: time.Second})

	testErr := errors.New("test error")
	err := it.Execute(context.Background(), func(ctx context.Context) error {
		return testErr
	})

	if !errors.Is(err, testErr) {
		t.Errorf("Execute() error = %v, want %v", err, testErr)
	}
}

func TestItemTimeout_ExecuteTimeout(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: 10 * time.Millisecond, Clock: mc})

	done := make(chan error, 1)
	go func() {
		done <- it.Execute(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	mc.Advance(10 * time.Millisecond)

	select {
	case err := <-done:
		if err != ErrTimeout {
			t.Errorf("Execute() error = %v, want ErrTimeout", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute() did not time out")
	}
}

func TestItemTimeout_ExecuteContextCancelled(t *testing.T) {
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())

	err := it.Execute(ctx, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	if err != context.Canceled {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestItemTimeout_OperationSeesCancelledContextOnTimeout(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: 50 * time.Millisecond, Clock: mc})

	opCancelled := make(chan bool, 1)
	done := make(chan error, 1)
	go func() {
		done <- it.Execute(context.Background(), func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				opCancelled <- true
				return ctx.Err()
			case <-time.After(time.Second):
				opCancelled <- false
				return nil
			}
		})
	}()

	mc.Advance(50 * time.Millisecond)

	if err := <-done; err != ErrTimeout {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}
	select {
	case cancelled := <-opCancelled:
		if !cancelled {
			t.Error("operation's context was not cancelled on timeout")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("operation goroutine did not observe cancellation")
	}
}

func TestItemTimeout_Config(t *testing.T) {
	it := NewItemTimeout(ItemTimeoutConfig{Timeout: 5 * time.Second})

	if got := it.Config().Timeout; got != 5*time.Second {
		t.Errorf("Config().Timeout = %v, want 5s", got)
	}
}

func TestExecuteWithTimeout(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		err := ExecuteWithTimeout(context.Background(), time.Second, func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Errorf("ExecuteWithTimeout() error = %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		})
		if err != ErrTimeout {
			t.Errorf("ExecuteWithTimeout() error = %v, want ErrTimeout", err)
		}
	})
}
