package natsjs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	domain "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
)

// Queue is the JetStream-backed review job queue: durable, at-least-once,
// explicitly acked by the worker.
type Queue struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	subject string
	durable string
}

type job struct {
	ReviewID domain.ReviewID `json:"review_id"`
}

// New connects and makes sure the stream exists.
func New(url, stream, subject, durable string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("cloudsense"))
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, err
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subject},
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
		})
		if err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &Queue{nc: nc, js: js, stream: stream, subject: subject, durable: durable}, nil
}

// Enqueue publishes one job carrying only the review id; the worker fetches
// everything else fresh from the store.
func (q *Queue) Enqueue(ctx context.Context, id domain.ReviewID) error {
	payload, err := json.Marshal(job{ReviewID: id})
	if err != nil {
		return err
	}
	_, err = q.js.Publish(q.subject, payload,
		nats.Context(ctx),
		nats.MsgId(fmt.Sprintf("review-%d", id)),
	)
	return err
}

// Consume pulls jobs until ctx is done. fn returning nil acks the message;
// an error naks it for redelivery.
func (q *Queue) Consume(ctx context.Context, fn func(ctx context.Context, id domain.ReviewID) error) error {
	sub, err := q.js.PullSubscribe(q.subject, q.durable, nats.ManualAck())
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(1, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return err
		}
		for _, msg := range msgs {
			var j job
			if err := json.Unmarshal(msg.Data, &j); err != nil {
				// Poison message; drop it rather than redeliver forever.
				_ = msg.Term()
				continue
			}
			if err := fn(ctx, j.ReviewID); err != nil {
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

// Ping reports queue connectivity for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	if q.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("nats connection status: %s", q.nc.Status())
	}
	return nil
}

// Close drains the connection, letting in-flight acks complete.
func (q *Queue) Close() error {
	return q.nc.Drain()
}
