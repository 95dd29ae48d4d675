package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// Sink is the write-only contract settlement depends on. Notify never
// blocks and never fails from the caller's point of view.
type Sink interface {
	Notify(userID int64, kind, message string)
}

// Frame is the wire shape pushed to websocket clients, msgpack-encoded.
type Frame struct {
	ID        string `msgpack:"id"`
	UserID    int64  `msgpack:"user_id"`
	Kind      string `msgpack:"kind"`
	Message   string `msgpack:"message"`
	CreatedAt int64  `msgpack:"created_at"`
}

// Dispatcher is the buffered queue between settlement and delivery.
// Settlement enqueues; the Run loop persists each message and pushes it
// to the hub. A full queue drops the message with a log line rather
// than stall settlement.
type Dispatcher struct {
	repo  *Repository
	hub   *Hub
	queue chan Notification
	done  chan struct{}
	log   zerolog.Logger
}

var _ Sink = (*Dispatcher)(nil)

// NewDispatcher creates a new dispatcher.
func NewDispatcher(repo *Repository, hub *Hub, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:  repo,
		hub:   hub,
		queue: make(chan Notification, queueSize),
		done:  make(chan struct{}),
		log:   log.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// Notify enqueues a message. Non-blocking.
func (d *Dispatcher) Notify(userID int64, kind, message string) {
	n := Notification{UserID: userID, Kind: kind, Message: message}
	select {
	case d.queue <- n:
	default:
		d.log.Warn().Int64("user_id", userID).Str("kind", kind).Msg("Notification queue full, dropping")
	}
}

// Run drains the queue until ctx is cancelled, then flushes what is
// already buffered.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-ctx.Done():
			for {
				select {
				case n := <-d.queue:
					d.deliver(n)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until the Run loop has exited.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) deliver(n Notification) {
	if err := d.repo.Create(&n); err != nil {
		d.log.Error().Err(err).Int64("user_id", n.UserID).Msg("Failed to persist notification")
		return
	}

	frame, err := msgpack.Marshal(Frame{
		ID:        n.ID,
		UserID:    n.UserID,
		Kind:      n.Kind,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.Unix(),
	})
	if err != nil {
		d.log.Error().Err(err).Msg("Failed to encode notification frame")
		return
	}

	d.hub.Push(n.UserID, frame)
	d.log.Debug().Int64("user_id", n.UserID).Str("kind", n.Kind).Msg("Notification delivered")
}
