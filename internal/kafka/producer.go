package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/hub"
)

// MessageWriter is satisfied by *kafkago.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer implements hub.ActivitySink. Activities are queued and written by one worker;
// the hub never waits on the broker and a full queue drops the record.
type Producer struct {
	writer  MessageWriter
	queue   chan hub.Activity
	timeout time.Duration
	log     *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewWriter(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewProducer(w MessageWriter, size int, log *zap.SugaredLogger) *Producer {
	if size <= 0 {
		size = 1024
	}
	return &Producer{
		writer:  w,
		queue:   make(chan hub.Activity, size),
		timeout: 5 * time.Second,
		log:     log,
		done:    make(chan struct{}),
	}
}

func (p *Producer) MessageRouted(a hub.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- a:
	default:
		p.log.Warnw("activity queue full, record dropped", "conn", a.ConnectionID)
	}
}

// Run publishes queued activities until Close is called and the queue is drained.
func (p *Producer) Run() {
	defer close(p.done)
	for a := range p.queue {
		if err := p.publish(a); err != nil {
			p.log.Warnw("activity publish failed", "conn", a.ConnectionID, "err", err)
		}
	}
}

func (p *Producer) publish(a hub.Activity) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(partitionKey(a)),
		Value: b,
		Time:  a.At,
	})
}

// partitionKey keeps records of one conversation together.
func partitionKey(a hub.Activity) string {
	switch {
	case a.ChannelID != nil:
		return "channel:" + strconv.FormatInt(*a.ChannelID, 10)
	case a.RecipientID != nil:
		return "user:" + strconv.FormatInt(*a.RecipientID, 10)
	default:
		return a.ConnectionID
	}
}

// Close stops accepting records, flushes the queue and closes the writer.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.writer.Close()
}
