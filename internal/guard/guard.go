// Package guard защищает от повторной отправки заказа, пока предыдущая ещё выполняется.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld возвращается, если блокировка по ключу уже захвачена.
var ErrHeld = errors.New("lock is held")

// Release снимает захваченную блокировку.
type Release func(ctx context.Context) error

// Locker захватывает блокировку по ключу сессии.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// MemoryLocker хранит блокировки в памяти процесса.
type MemoryLocker struct {
	mu   sync.Mutex
	ttl  time.Duration
	held map[string]time.Time
	now  func() time.Time
}

// NewMemoryLocker создаёт блокировку в памяти. Блокировка, которую не сняли за ttl, считается протухшей.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{
		ttl:  ttl,
		held: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Acquire захватывает блокировку по ключу или возвращает ErrHeld.
func (l *MemoryLocker) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, ErrHeld
	}

	expires := now.Add(l.ttl)
	l.held[key] = expires

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == expires {
				delete(l.held, key)
			}
		})
		return nil
	}, nil
}
