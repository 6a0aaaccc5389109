package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogSink writes every event to a logger. It is the default sink when no
// external transport is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, e Event) error {
	s.logger.Info("notification",
		zap.String("kind", string(e.Kind)),
		zap.String("channel", e.ChannelID),
		zap.String("player", e.PlayerID),
		zap.String("instance", e.InstanceID),
		zap.String("message", e.Message),
	)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// RedisSink publishes encoded events on a Redis pub/sub channel, where the
// chat bot front end subscribes.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects a RedisSink.
//
// Precondition: addr and channel must be non-empty.
func NewRedisSink(addr, password string, db int, channel string) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		channel: channel,
	}
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("notify: redis ping: %w", err)
	}
	return nil
}

// Client exposes the underlying client, for subscribers in the same process.
func (s *RedisSink) Client() *redis.Client {
	return s.client
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	b, err := e.Encode()
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, b).Err(); err != nil {
		return fmt.Errorf("notify: redis publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// KafkaSink appends encoded events to a Kafka topic, keyed by player or
// channel so one recipient's events stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink returns a KafkaSink writing to topic.
//
// Precondition: brokers must be non-empty.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

// Publish implements Sink.
func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	b, err := e.Encode()
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key()), Value: b}); err != nil {
		return fmt.Errorf("notify: kafka write %s: %w", e.Kind, err)
	}
	return nil
}

// Close implements Sink.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// ErrRecorderFailure is returned by a Recorder set to fail.
var ErrRecorderFailure = errors.New("notify: recorder set to fail")

// Recorder keeps every event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Fail makes subsequent publishes return ErrRecorderFailure without
// recording.
func (r *Recorder) Fail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

// Publish implements Sink.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrRecorderFailure
	}
	r.events = append(r.events, e)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
