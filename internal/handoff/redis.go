package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker stores each outcome under a key (for late waiters) and
// publishes it on a per-state channel (for waiters already blocked).
type RedisBroker struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(client redis.UniversalClient, prefix string, retention time.Duration) *RedisBroker {
	return &RedisBroker{client: client, prefix: prefix, retention: retention}
}

func (b *RedisBroker) outcomeKey(key string) string {
	return fmt.Sprintf("%s:outcome:%s", b.prefix, key)
}

func (b *RedisBroker) channel(key string) string {
	return fmt.Sprintf("%s:done:%s", b.prefix, key)
}

func (b *RedisBroker) Publish(ctx context.Context, key string, outcome Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.outcomeKey(key), payload, b.retention)
	pipe.Publish(ctx, b.channel(key), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

func (b *RedisBroker) Wait(ctx context.Context, key string, timeout time.Duration) (Outcome, error) {
	// Subscribe before reading the key so a publish between the two is not lost.
	sub := b.client.Subscribe(ctx, b.channel(key))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return Outcome{}, fmt.Errorf("subscribe outcome: %w", err)
	}

	stored, err := b.client.Get(ctx, b.outcomeKey(key)).Bytes()
	switch {
	case err == nil:
		return decodeOutcome(stored)
	case !errors.Is(err, redis.Nil):
		return Outcome{}, fmt.Errorf("load outcome: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return Outcome{}, errors.New("outcome subscription closed")
			}
			outcome, err := decodeOutcome([]byte(msg.Payload))
			if err != nil {
				slog.WarnContext(ctx, "discarding undecodable outcome", "error", err)
				continue
			}
			return outcome, nil
		case <-timer.C:
			return TimedOut(), nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
}

func decodeOutcome(raw []byte) (Outcome, error) {
	var outcome Outcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("decode outcome: %w", err)
	}
	return outcome, nil
}
