package tickets

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"chathub_backend/platform/logger"
)

const changeChannel = "ticket_changes"

// Listener holds a dedicated connection on the ticket change channel and
// feeds decoded events to the reconciler. Events arrive on one goroutine,
// so per-tenant ordering follows the database feed.
type Listener struct {
	pool *pgxpool.Pool
	rec  *Reconciler
	log  *logger.Logger

	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a change-feed listener bound to a reconciler.
func NewListener(pool *pgxpool.Pool, rec *Reconciler, log *logger.Logger) *Listener {
	return &Listener{
		pool:       pool,
		rec:        rec,
		log:        log,
		retryDelay: 2 * time.Second,
	}
}

// Start begins listening. A no-op when already running.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

// Stop halts the listener and waits for the feed goroutine to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Error("ticket change feed dropped, reconnecting",
				"error", err.Error(),
				"retry_in", l.retryDelay.String(),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryDelay):
		}
	}
}

// listen holds one connection on the channel until it fails or ctx ends.
func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		return err
	}
	l.log.Info("ticket change feed attached", "channel", changeChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(ctx, notification.Payload)
	}
}

func (l *Listener) dispatch(ctx context.Context, payload string) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.log.Warn("malformed ticket change payload, skipping", "error", err.Error())
		return
	}
	l.rec.Handle(ctx, event)
}
