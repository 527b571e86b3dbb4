package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"strconv"

	"sjsage522/modaggregator/internal/model"
	"sjsage522/modaggregator/logger"
	apperrors "sjsage522/modaggregator/pkg/errors"

	"github.com/redis/go-redis/v9"
)

// EventField is the stream entry field holding the encoded event.
const EventField = "b64_mod_update"

// RedisPublisher appends change events to Redis streams
type RedisPublisher struct {
	client          *redis.Client
	streamPrefix    string
	streamCount     int
	streamMaxLength int
	log             *logger.Logger
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(addr string, db int, streamPrefix string, streamCount int, streamMaxLength int) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if streamCount < 1 {
		streamCount = 1
	}

	return &RedisPublisher{
		client:          client,
		streamPrefix:    streamPrefix,
		streamCount:     streamCount,
		streamMaxLength: streamMaxLength,
		log:             logger.ForNotifier().WithField("notifier", "redis"),
	}
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Notify publishes event to a Redis stream.
// The JSON payload is base64 encoded before publishing
func (p *RedisPublisher) Notify(ctx context.Context, event model.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewNotify("encode change event", err).WithURL(event.URL)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	// random stream name by streamCount
	// if streamCount is 10, stream name will be stream:0 ~ stream:9
	stream := p.streamPrefix + ":" + strconv.Itoa(rand.Intn(p.streamCount))

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			EventField: encoded,
		},
	}).Err()
	if err != nil {
		return apperrors.NewNotify("publish to "+stream, err).WithURL(event.URL)
	}

	p.log.Debug().
		Str("stream", stream).
		Int64("mod_id", event.RecordID).
		Str("url", event.URL).
		Msg("Published change event")
	return nil
}

// TrimStreams trims all streams to the configured maximum length
func (p *RedisPublisher) TrimStreams(ctx context.Context) error {
	if p.streamMaxLength <= 0 {
		return nil
	}

	trimmed := 0
	iter := p.client.Scan(ctx, 0, p.streamPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := p.client.XTrimMaxLen(ctx, iter.Val(), int64(p.streamMaxLength)).Err(); err != nil {
			return apperrors.NewNotify("trim "+iter.Val(), err)
		}
		trimmed++
	}
	if err := iter.Err(); err != nil {
		return apperrors.NewNotify("scan streams", err)
	}
	p.log.Debug().Int("streams", trimmed).Int("max_length", p.streamMaxLength).Msg("Trimmed streams")
	return nil
}

// DecodeEvent reverses the encoding applied by Notify.
func DecodeEvent(encoded string) (model.ChangeEvent, error) {
	var event model.ChangeEvent
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return event, err
	}
	err = json.Unmarshal(raw, &event)
	return event, err
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
