package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/cheese-chess-server/internal/wire"
)

var (
	errSlowConsumer = errors.New("outbound queue full")
	errOutboxClosed = errors.New("connection closed")
)

const outboxSize = 64

type writeFunc func(ctx context.Context, msg wire.ServerMessage) error

// outbox queues the messages of one connection and writes them from a single goroutine, so
// Send never waits on the network. A full queue or a failed write shuts the outbox and
// reports the cause to onFail.
type outbox struct {
	q       chan wire.ServerMessage
	done    chan struct{}
	once    sync.Once
	write   writeFunc
	timeout time.Duration
	onFail  func(err error)
}

func newOutbox(size int, timeout time.Duration, write writeFunc, onFail func(error)) *outbox {
	return &outbox{
		q:       make(chan wire.ServerMessage, size),
		done:    make(chan struct{}),
		write:   write,
		timeout: timeout,
		onFail:  onFail,
	}
}

func (o *outbox) Send(_ context.Context, msg wire.ServerMessage) error {
	select {
	case <-o.done:
		return errOutboxClosed
	default:
	}
	select {
	case o.q <- msg:
		return nil
	default:
		o.shut(errSlowConsumer)
		return errSlowConsumer
	}
}

// run writes queued messages in order until the outbox shuts.
func (o *outbox) run() {
	for {
		select {
		case <-o.done:
			return
		case msg := <-o.q:
			ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
			err := o.write(ctx, msg)
			cancel()
			if err != nil {
				o.shut(err)
				return
			}
		}
	}
}

func (o *outbox) close() { o.shut(nil) }

func (o *outbox) shut(err error) {
	o.once.Do(func() {
		close(o.done)
		if err != nil && o.onFail != nil {
			o.onFail(err)
		}
	})
}
