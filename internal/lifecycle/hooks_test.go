package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunNewestFirst(t *testing.T) {
	hooks := New(zerolog.Nop())

	var order []int
	hooks.OnShutdown(func() { order = append(order, 1) })
	hooks.OnShutdown(func() { order = append(order, 2) })
	hooks.OnShutdown(func() { order = append(order, 3) })

	hooks.Run()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestRunOnce(t *testing.T) {
	hooks := New(zerolog.Nop())

	calls := 0
	hooks.OnShutdown(func() { calls++ })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hooks.Run()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestOnShutdownAfterRunIgnored(t *testing.T) {
	hooks := New(zerolog.Nop())
	hooks.Run()

	called := false
	hooks.OnShutdown(func() { called = true })
	hooks.Run()

	assert.False(t, called)
}

func TestPanickingHookDoesNotStopOthers(t *testing.T) {
	hooks := New(zerolog.Nop())

	called := false
	hooks.OnShutdown(func() { called = true })
	hooks.OnShutdown(func() { panic("boom") })

	require.NotPanics(t, hooks.Run)
	assert.True(t, called)
}

func TestWaitForSignalContextCanceled(t *testing.T) {
	hooks := New(zerolog.Nop())

	called := make(chan struct{})
	hooks.OnShutdown(func() { close(called) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sig := hooks.WaitForSignal(ctx, syscall.SIGUSR1)
	assert.Nil(t, sig)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("hook did not run")
	}
}

func TestWaitForSignalReceivesSignal(t *testing.T) {
	// Keep SIGUSR1 from killing the test binary before the waiter registers.
	guard := make(chan os.Signal, 64)
	signal.Notify(guard, syscall.SIGUSR1)
	defer signal.Stop(guard)

	hooks := New(zerolog.Nop())

	ran := false
	hooks.OnShutdown(func() { ran = true })

	done := make(chan struct{})
	var got interface{}
	go func() {
		defer close(done)
		got = hooks.WaitForSignal(context.Background(), syscall.SIGUSR1)
	}()

	// Keep signalling until the waiter has registered and returned.
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			assert.Equal(t, syscall.SIGUSR1, got)
			assert.True(t, ran)
			return
		case <-ticker.C:
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGUSR1)
		case <-deadline:
			t.Fatal("WaitForSignal did not return")
		}
	}
}
