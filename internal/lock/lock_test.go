package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "topology/a")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks, "entries are released once unused")
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on an unrelated key blocked")
	}
}

func TestLocalLockerHonorsContext(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op

	again, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}

func TestLockPath(t *testing.T) {
	assert.Equal(t, "/linkgraph/locks/topology/x", lockPath("topology/x"))
	assert.Equal(t, "/linkgraph/locks/topology/x", lockPath("/topology/x"))
}

func TestNewEtcdLockerRequiresEndpoints(t *testing.T) {
	_, err := NewEtcdLocker(EtcdConfig{}, nil)
	assert.Error(t, err)
}

// sessionMutexes mimics etcd mutexes sharing one session: Lock on a key
// the session already owns returns at once and Unlock deletes the key.
type sessionMutexes struct {
	mu      sync.Mutex
	held    map[string]bool
	lockErr error
}

type sessionMutex struct {
	s    *sessionMutexes
	path string
}

func (m *sessionMutex) Lock(ctx context.Context) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.lockErr != nil {
		return m.s.lockErr
	}
	m.s.held[m.path] = true
	return nil
}

func (m *sessionMutex) Unlock(ctx context.Context) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.held, m.path)
	return nil
}

func newTestEtcdLocker() (*EtcdLocker, *sessionMutexes) {
	s := &sessionMutexes{held: make(map[string]bool)}
	l := newEtcdLocker(func(path string) distMutex {
		return &sessionMutex{s: s, path: path}
	}, nil, nil, nil)
	return l, s
}

func TestEtcdLockerExcludesWithinSession(t *testing.T) {
	l, s := newTestEtcdLocker()

	unlock, err := l.Lock(context.Background(), "topology/a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "topology/a")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a held key blocks a second caller")
	assert.True(t, s.held["/linkgraph/locks/topology/a"], "the waiter does not touch the etcd key")

	unlock()
	unlock()
	assert.Empty(t, s.held)

	again, err := l.Lock(context.Background(), "topology/a")
	require.NoError(t, err)
	assert.True(t, s.held["/linkgraph/locks/topology/a"])
	again()
	assert.Empty(t, l.local.locks)
	require.NoError(t, l.Close())
}

func TestEtcdLockerWaiterGetsKeyAfterRelease(t *testing.T) {
	l, s := newTestEtcdLocker()

	unlock, err := l.Lock(context.Background(), "topology/a")
	require.NoError(t, err)

	acquired := make(chan func())
	go func() {
		second, err := l.Lock(context.Background(), "topology/a")
		if assert.NoError(t, err) {
			acquired <- second
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case second := <-acquired:
		assert.True(t, s.held["/linkgraph/locks/topology/a"], "the first release leaves the second holder's key")
		second()
	case <-time.After(time.Second):
		t.Fatal("second caller never acquired the key")
	}
}

func TestEtcdLockerReleasesLocalOnFailure(t *testing.T) {
	l, s := newTestEtcdLocker()
	s.lockErr = assert.AnError

	_, err := l.Lock(context.Background(), "topology/a")
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, l.local.locks)
}
