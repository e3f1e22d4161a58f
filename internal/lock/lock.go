// Package lock provides per-organizer leases so that two workflows never
// reconfigure the same organizer's assets concurrently.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrHeld is returned when the lease is owned by someone else
	ErrHeld = errors.New("lease is held by another owner")
	// ErrLost is returned by Refresh once the lease expired or changed hands
	ErrLost = errors.New("lease expired or was taken over")
)

// Lease is an acquired lock; Release is safe to call more than once.
// Refresh extends the lease to ttl from now while it is still ours.
type Lease interface {
	Key() string
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker hands out leases. Acquire fails fast with ErrHeld instead of waiting.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// LocalLocker is an in-process Locker for single-instance deployments
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]localEntry
	now    func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]localEntry),
		now:    time.Now,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, ErrHeld
	}

	token := uuid.NewString()
	l.leases[key] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, key: key, token: token}, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	token  string
}

func (l *localLease) Key() string { return l.key }

func (l *localLease) Refresh(ctx context.Context, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	now := l.locker.now()
	held, ok := l.locker.leases[l.key]
	if !ok || held.token != l.token || !now.Before(held.expires) {
		return ErrLost
	}
	l.locker.leases[l.key] = localEntry{token: l.token, expires: now.Add(ttl)}
	return nil
}

func (l *localLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()

	// An expired lease may have been taken over; only the owner deletes it
	if held, ok := l.locker.leases[l.key]; ok && held.token == l.token {
		delete(l.locker.leases, l.key)
	}
	return nil
}
