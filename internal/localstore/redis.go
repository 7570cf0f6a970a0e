package localstore

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "localstore:v1:"

// RedisDriver keeps each collection in a Redis hash. Store versions and
// collection names live in sibling keys.
type RedisDriver struct {
	client *redis.Client
}

// NewRedisDriver wraps client.
func NewRedisDriver(client *redis.Client) *RedisDriver {
	return &RedisDriver{client: client}
}

func versionKey(store string) string { return redisPrefix + store + ":version" }

func collectionsKey(store string) string { return redisPrefix + store + ":collections" }

func recordsKey(store, collection string) string {
	return redisPrefix + store + ":records:" + collection
}

func (d *RedisDriver) Version(ctx context.Context, store string) (int, error) {
	raw, err := d.client.Get(ctx, versionKey(store)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(raw)
}

func (d *RedisDriver) SetVersion(ctx context.Context, store string, version int) error {
	return d.client.Set(ctx, versionKey(store), version, 0).Err()
}

func (d *RedisDriver) Collections(ctx context.Context, store string) ([]string, error) {
	names, err := d.client.SMembers(ctx, collectionsKey(store)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (d *RedisDriver) CreateCollection(ctx context.Context, store, collection string) error {
	return d.client.SAdd(ctx, collectionsKey(store), collection).Err()
}

func (d *RedisDriver) Get(ctx context.Context, store, collection, key string) ([]byte, bool, error) {
	value, err := d.client.HGet(ctx, recordsKey(store, collection), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (d *RedisDriver) GetAll(ctx context.Context, store, collection string) ([]Record, error) {
	entries, err := d.client.HGetAll(ctx, recordsKey(store, collection)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for key, value := range entries {
		records = append(records, Record{Key: key, Value: []byte(value)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (d *RedisDriver) Put(ctx context.Context, store, collection, key string, value []byte) error {
	return d.client.HSet(ctx, recordsKey(store, collection), key, value).Err()
}

func (d *RedisDriver) Delete(ctx context.Context, store, collection, key string) error {
	return d.client.HDel(ctx, recordsKey(store, collection), key).Err()
}

func (d *RedisDriver) Clear(ctx context.Context, store, collection string) error {
	return d.client.Del(ctx, recordsKey(store, collection)).Err()
}
