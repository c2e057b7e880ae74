package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"groupe-e-consumption/internal/consumption"
)

const defaultKeyPrefix = "groupe_e_consumption"

// Redis mirrors readings and statuses into redis keys and announces each
// change on a pub/sub channel so dashboards can react without polling.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps client. An empty prefix falls back to groupe_e_consumption.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) readingKey(res consumption.Resolution) string {
	return fmt.Sprintf("%s:reading:%s", r.prefix, res)
}

func (r *Redis) statusKey(res consumption.Resolution) string {
	return fmt.Sprintf("%s:status:%s", r.prefix, res)
}

// Channel is the pub/sub channel updates are published on.
func (r *Redis) Channel() string {
	return r.prefix + ":updates"
}

// PublishReading stores the reading and publishes it.
func (r *Redis) PublishReading(ctx context.Context, reading consumption.Reading) error {
	return r.store(ctx, r.readingKey(reading.Resolution), reading, Update{Reading: &reading})
}

// PublishStatus stores the status and publishes it.
func (r *Redis) PublishStatus(ctx context.Context, status Status) error {
	return r.store(ctx, r.statusKey(status.Resolution), status, Update{Status: &status})
}

func (r *Redis) store(ctx context.Context, key string, value any, update Update) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	msg, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update for %s: %w", key, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.Publish(ctx, r.Channel(), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish %s: %w", key, err)
	}
	return nil
}

// Reading loads the stored reading for res.
func (r *Redis) Reading(ctx context.Context, res consumption.Resolution) (consumption.Reading, bool, error) {
	var reading consumption.Reading
	ok, err := r.load(ctx, r.readingKey(res), &reading)
	return reading, ok, err
}

// Status loads the stored status for res.
func (r *Redis) Status(ctx context.Context, res consumption.Resolution) (Status, bool, error) {
	var status Status
	ok, err := r.load(ctx, r.statusKey(res), &status)
	return status, ok, err
}

func (r *Redis) load(ctx context.Context, key string, dest any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

var _ Publisher = (*Redis)(nil)
