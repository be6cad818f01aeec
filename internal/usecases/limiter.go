package usecases

import "context"

const defaultMaxConcurrentOps = 10

// RateLimiter: простой ограничитель нагрузки на семафоре.
// Не дает запустить больше N обращений к GraphQL API одновременно.
type RateLimiter struct {
	semaphore     chan struct{}
	maxConcurrent int
}

// NewRateLimiter создает ограничитель с буфером на maxConcurrent запросов.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = defaultMaxConcurrentOps
	}
	return &RateLimiter{
		semaphore:     make(chan struct{}, maxConcurrent),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire ждет свободный слот или отмену контекста.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case rl.semaphore <- struct{}{}:
		return nil
	}
}

// Release освобождает слот.
func (rl *RateLimiter) Release() {
	select {
	case <-rl.semaphore:
	default:
	}
}

// InUse returns the number of held slots
func (rl *RateLimiter) InUse() int {
	return len(rl.semaphore)
}

// Capacity returns the slot count
func (rl *RateLimiter) Capacity() int {
	return rl.maxConcurrent
}
