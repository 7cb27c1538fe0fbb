package writebehind

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink persists one raw provider payload.
type Sink interface {
	WriteSnapshot(ctx context.Context, provider, endpoint, externalID string, payload []byte) error
}

type job struct {
	key        string
	provider   string
	endpoint   string
	externalID string
	payload    []byte
}

// Queue hands snapshot writes to background workers so a slow database
// never holds up a resolution. Identical payloads already queued are
// skipped and writes are dropped when the queue is full.
type Queue struct {
	sink    Sink
	ch      chan job
	inFly   sync.Map // key -> struct{}
	timeout time.Duration
	log     *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func New(sink Sink, capacity, workerCount int, log *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{sink: sink, ch: make(chan job, capacity), timeout: 15 * time.Second, log: log}
	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// WriteSnapshot enqueues the write and returns at once. The payload is
// copied.
func (q *Queue) WriteSnapshot(_ context.Context, provider, endpoint, externalID string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	sum := sha256.Sum256(payload)
	j := job{
		key:        provider + "|" + endpoint + "|" + hex.EncodeToString(sum[:]),
		provider:   provider,
		endpoint:   endpoint,
		externalID: externalID,
		payload:    append([]byte(nil), payload...),
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil
	}
	if _, exists := q.inFly.LoadOrStore(j.key, struct{}{}); exists {
		return nil
	}
	select {
	case q.ch <- j:
	default:
		q.inFly.Delete(j.key)
		q.log.Warn("snapshot queue full; dropping write", zap.String("provider", provider))
	}
	return nil
}

// Close stops accepting writes and waits for queued ones, up to ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := q.sink.WriteSnapshot(ctx, j.provider, j.endpoint, j.externalID, j.payload); err != nil {
			q.log.Warn("snapshot write failed", zap.String("provider", j.provider), zap.Error(err))
		}
		cancel()
		q.inFly.Delete(j.key)
	}
}
