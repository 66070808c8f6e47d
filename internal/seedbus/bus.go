// Package seedbus publishes exported memory bundles on Redis Streams so
// peers can fetch or follow a node's latest state.
package seedbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNoBundle is returned when a node has not published anything yet.
var ErrNoBundle = errors.New("seedbus: no bundle published")

const streamPrefix = "mer:seeds:"

// Message is one published bundle.
type Message struct {
	StreamID    string    `json:"-"`
	NodeID      string    `json:"node_id"`
	SessionID   string    `json:"session_id"`
	Digest      string    `json:"digest"`
	Bundle      string    `json:"bundle"`
	PublishedAt time.Time `json:"published_at"`
}

// Options configures the bus.
type Options struct {
	URL string
	// MaxLen caps each node stream. Zero keeps every entry.
	MaxLen int64
}

// Bus handles bundle distribution via Redis Streams.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// New connects to Redis and returns a Bus.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Bus, error) {
	ropts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, maxLen: opts.MaxLen, logger: logger}, nil
}

// Stream returns the stream key of nodeID.
func Stream(nodeID string) string { return streamPrefix + nodeID }

// Publish appends msg to the stream of msg.NodeID and returns the entry id.
func (b *Bus) Publish(ctx context.Context, msg *Message) (string, error) {
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	stream := Stream(msg.NodeID)
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Values: map[string]interface{}{
			"digest": msg.Digest,
			"data":   string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	msg.StreamID = id

	b.logger.Debug("published bundle",
		zap.String("stream", stream),
		zap.String("id", id),
		zap.String("digest", msg.Digest))
	return id, nil
}

// Latest returns the newest bundle published by nodeID.
func (b *Bus) Latest(ctx context.Context, nodeID string) (*Message, error) {
	entries, err := b.rdb.XRevRangeN(ctx, Stream(nodeID), "+", "-", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", Stream(nodeID), err)
	}
	if len(entries) == 0 {
		return nil, ErrNoBundle
	}
	return decode(entries[0])
}

// Subscribe follows the stream of nodeID starting after fromID ("$" or
// empty for new entries only, "0" for the whole retained history). The
// channel closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, nodeID, fromID string) <-chan *Message {
	ch := make(chan *Message, 16)
	stream := Stream(nodeID)
	lastID := fromID
	if lastID == "" {
		lastID = "$"
	}

	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read seed stream", zap.String("stream", stream), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(500 * time.Millisecond):
					}
				}
				continue
			}

			for _, r := range results {
				for _, entry := range r.Messages {
					lastID = entry.ID
					msg, err := decode(entry)
					if err != nil {
						b.logger.Warn("skip undecodable entry", zap.String("id", entry.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

func decode(entry redis.XMessage) (*Message, error) {
	data, ok := entry.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s: missing data field", entry.ID)
	}
	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("entry %s: %w", entry.ID, err)
	}
	msg.StreamID = entry.ID
	return &msg, nil
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
