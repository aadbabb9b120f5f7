package browserpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu     sync.Mutex
	alive  bool
	closed bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{alive: true} }

func (f *fakeHandle) Context() context.Context { return context.Background() }

func (f *fakeHandle) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive {
		return errors.New("browser is dead")
	}
	return nil
}

func (f *fakeHandle) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
}

func (f *fakeHandle) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func fakeLauncher(created *[]*fakeHandle, mu *sync.Mutex) Launcher {
	return func(ctx context.Context) (Handle, error) {
		h := newFakeHandle()
		mu.Lock()
		*created = append(*created, h)
		mu.Unlock()
		return h, nil
	}
}

func testConfig() Config {
	return Config{MaxSize: 3, PollInterval: 5 * time.Millisecond, PingTimeout: time.Second}
}

func TestAcquire_CreatesUpToMaxSize(t *testing.T) {
	var created []*fakeHandle
	var mu sync.Mutex
	p := New(testConfig(), fakeLauncher(&created, &mu), nil)

	handles := make([]Handle, 0, 3)
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		handles = append(handles, h)
	}
	if got := p.Live(); got != 3 {
		t.Fatalf("live = %d, want 3", got)
	}

	for _, h := range handles {
		p.Release(h)
	}
}

func TestAcquire_BlocksAtCapUntilRelease(t *testing.T) {
	var created []*fakeHandle
	var mu sync.Mutex
	p := New(testConfig(), fakeLauncher(&created, &mu), nil)

	var handles []Handle
	for i := 0; i < 3; i++ {
		h, err := p.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		handles = append(handles, h)
	}

	acquired := make(chan Handle, 1)
	go func() {
		h, err := p.Acquire(context.Background())
		if err != nil {
			t.Errorf("blocked acquire: %v", err)
			return
		}
		acquired <- h
	}()

	select {
	case <-acquired:
		t.Fatal("acquire succeeded past the live-instance cap")
	case <-time.After(50 * time.Millisecond):
	}
	if got := p.Live(); got != 3 {
		t.Fatalf("live = %d, want 3 while blocked", got)
	}

	p.Release(handles[0])

	select {
	case h := <-acquired:
		p.Release(h)
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}

	p.Release(handles[1])
	p.Release(handles[2])
}

func TestAcquire_ContextCancelWhileWaiting(t *testing.T) {
	var created []*fakeHandle
	var mu sync.Mutex
	cfg := testConfig()
	cfg.MaxSize = 1
	p := New(cfg, fakeLauncher(&created, &mu), nil)

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(h)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("acquire with canceled context returned nil error")
	}
}

func TestAcquire_ReplacesDeadIdleHandle(t *testing.T) {
	var created []*fakeHandle
	var mu sync.Mutex
	cfg := testConfig()
	cfg.MaxSize = 1
	p := New(cfg, fakeLauncher(&created, &mu), nil)

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(h)

	created[0].kill()

	h2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after dead idle: %v", err)
	}
	mu.Lock()
	n := len(created)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("created %d handles, want 2 (dead one replaced)", n)
	}
	if !created[0].closed {
		t.Fatal("dead handle was not closed")
	}
	if got := p.Live(); got != 1 {
		t.Fatalf("live = %d, want 1", got)
	}
	p.Release(h2)
}

func TestAcquire_LaunchErrorPropagates(t *testing.T) {
	boom := errors.New("chrome exploded")
	p := New(testConfig(), func(ctx context.Context) (Handle, error) {
		return nil, boom
	}, nil)

	if _, err := p.Acquire(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("acquire error = %v, want wrapped launch error", err)
	}
	if got := p.Live(); got != 0 {
		t.Fatalf("live = %d after failed launch, want 0", got)
	}
}

func TestClose_TerminatesIdleHandles(t *testing.T) {
	var created []*fakeHandle
	var mu sync.Mutex
	p := New(testConfig(), fakeLauncher(&created, &mu), nil)

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(h)
	p.Close()

	if !created[0].closed {
		t.Fatal("idle handle survived pool close")
	}
	if _, err := p.Acquire(context.Background()); err == nil {
		t.Fatal("acquire on closed pool returned nil error")
	}
}
