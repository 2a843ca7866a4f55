package ndr

import (
	"context"
	"sync"
)

// DeviceLocks serializes operations against one device's history while
// letting different devices proceed concurrently. Entries are reference
// counted and dropped when the last holder or waiter leaves.
type DeviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	sem  chan struct{}
	refs int
}

// NewDeviceLocks creates an empty lock table.
func NewDeviceLocks() *DeviceLocks {
	return &DeviceLocks{locks: make(map[string]*deviceLock)}
}

// Lock waits until the caller holds hostname's lock and returns the function
// that releases it. If ctx ends first, Lock gives up its place and returns
// ctx's error.
func (l *DeviceLocks) Lock(ctx context.Context, hostname string) (unlock func(), err error) {
	l.mu.Lock()
	dl, ok := l.locks[hostname]
	if !ok {
		dl = &deviceLock{sem: make(chan struct{}, 1)}
		l.locks[hostname] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(hostname, dl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-dl.sem
			l.release(hostname, dl)
		})
	}, nil
}

func (l *DeviceLocks) release(hostname string, dl *deviceLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, hostname)
	}
}

// held returns the number of hostnames with a holder or waiter.
func (l *DeviceLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
