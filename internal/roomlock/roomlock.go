// Package roomlock serializes exchanges per room so a user message and its
// AI reply land next to each other in the room log.
package roomlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/metrics"
)

// Locker hands out exclusive per-room locks. The returned release func must
// be called exactly once.
type Locker interface {
	Lock(ctx context.Context, roomID uuid.UUID) (release func(), err error)
}

type localEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Entries are dropped once nobody
// holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*localEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{rooms: make(map[uuid.UUID]*localEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, roomID uuid.UUID) (func(), error) {
	start := time.Now()

	l.mu.Lock()
	e, ok := l.rooms[roomID]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.rooms[roomID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(roomID, e)
		return nil, ctx.Err()
	}
	metrics.RoomLockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.drop(roomID, e)
		})
	}, nil
}

func (l *LocalLocker) drop(roomID uuid.UUID, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.rooms, roomID)
	}
}

// held reports how many rooms currently have holders or waiters.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}
