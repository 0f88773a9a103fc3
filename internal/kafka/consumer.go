package kafka

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message was processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *zap.SugaredLogger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.SugaredLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.S()
	}
	return &Consumer{
		r:         r,
		workers:   workers,
		log:       log.With("topic", topic, "group", group),
		retryBase: 200 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
}

// Start fetches until ctx ends. Every partition is owned by one worker, so offsets are
// committed in order, and a failed message is retried until it succeeds: kafka-go commits
// are cumulative, so moving past it would drop it for good.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.process(ctx, id, h, m) {
					// ctx ended mid-retry; drain so the reader is never blocked
					for range in {
					}
					return
				}
			}
		}(i, jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process runs h until it succeeds, then commits m. It reports false when ctx ended first.
func (c *Consumer) process(ctx context.Context, worker int, h Handler, m kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		wait := c.backoff(attempt)
		c.log.Warnw("handler failed",
			"worker", worker, "partition", m.Partition, "offset", m.Offset,
			"attempt", attempt, "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		// the message is redelivered after a rebalance; handlers are idempotent
		c.log.Errorw("commit failed", "partition", m.Partition, "offset", m.Offset, "error", err)
	}
	return true
}

// backoff doubles per attempt up to retryMax, with jitter over the upper half.
func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.retryMax
	if attempt < 20 {
		if v := c.retryBase << attempt; v > 0 && v < c.retryMax {
			d = v
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
