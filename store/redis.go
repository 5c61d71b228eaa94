package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisConfig describes the Redis connection.
type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host" yaml:"host" default:"localhost"`
	Port     string `mapstructure:"port" json:"port" yaml:"port" default:"6379"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	DB       int    `mapstructure:"db" json:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" json:"prefix" yaml:"prefix" default:"pluginhost"`
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// NewRedisClient opens a client and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return client, nil
}

// RedisStore keeps plugin records in Redis:
//
//	<prefix>:plugins:seq          id counter
//	<prefix>:plugins:names        hash name -> id
//	<prefix>:plugins:ids          sorted set of ids
//	<prefix>:plugins:record:<id>  JSON record
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore; an empty prefix defaults to "pluginhost".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pluginhost"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix + ":plugins"
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) recordKey(id int64) string {
	return s.key("record", strconv.FormatInt(id, 10))
}

func (s *RedisStore) Find(ctx context.Context, name string) (*plugin.Record, error) {
	id, err := s.client.HGet(ctx, s.key("names"), name).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, plugin.ErrRecordNotFound
	}
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugin "+name)
	}

	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, plugin.ErrRecordNotFound
	}
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "find plugin "+name)
	}

	var r plugin.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "decode plugin "+name)
	}
	return &r, nil
}

func (s *RedisStore) FindAllActive(ctx context.Context) ([]*plugin.Record, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisStore) FindAll(ctx context.Context) ([]*plugin.Record, error) {
	ids, err := s.client.ZRange(ctx, s.key("ids"), 0, -1).Result()
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "list plugins")
	}
	if len(ids) == 0 {
		return []*plugin.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("record", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "list plugins")
	}

	out := make([]*plugin.Record, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r plugin.Record
		if err := json.UnmarshalFromString(raw, &r); err != nil {
			return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "decode plugin "+ids[i])
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *RedisStore) Save(ctx context.Context, r *plugin.Record) error {
	if err := checkRecord(r); err != nil {
		return err
	}

	if r.ID == 0 {
		id, err := s.client.Incr(ctx, s.key("seq")).Result()
		if err != nil {
			return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "allocate plugin id")
		}
		ok, err := s.client.HSetNX(ctx, s.key("names"), r.Name, id).Result()
		if err != nil {
			return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "save plugin "+r.Name)
		}
		if !ok {
			return apperrors.NewConflict("plugin", r.Name).WithCode(apperrors.CodeAlreadyInstalled)
		}
		r.ID = id
	}

	data, err := json.Marshal(r)
	if err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "encode plugin "+r.Name)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(r.ID), data, 0)
		pipe.HSet(ctx, s.key("names"), r.Name, r.ID)
		pipe.ZAdd(ctx, s.key("ids"), &redis.Z{Score: float64(r.ID), Member: strconv.FormatInt(r.ID, 10)})
		return nil
	})
	if err != nil {
		return apperrors.WrapWithType(err, apperrors.ErrorTypeDatabase, "save plugin "+r.Name)
	}
	return nil
}

func (s *RedisStore) MarkLoadError(ctx context.Context, r *plugin.Record, detail plugin.LoadErrorDetail) error {
	if err := checkRecord(r); err != nil {
		return err
	}
	if r.ID == 0 {
		existing, err := s.Find(ctx, r.Name)
		switch {
		case err == nil:
			r.ID = existing.ID
		case !errors.Is(err, plugin.ErrRecordNotFound):
			return err
		}
	}
	markFaulted(r, detail)
	return s.Save(ctx, r)
}

// RedisStorage is a settings backend keeping one hash per plugin under
// <prefix>:settings:<plugin>, with JSON-encoded values.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a RedisStorage; an empty prefix defaults to "pluginhost".
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "pluginhost"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) key(pluginName string) string {
	return s.prefix + ":settings:" + pluginName
}

func (s *RedisStorage) Get(ctx context.Context, pluginName, key string) (any, bool, error) {
	raw, err := s.client.HGet(ctx, s.key(pluginName), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode setting %s.%s: %w", pluginName, key, err)
	}
	return v, true, nil
}

func (s *RedisStorage) Set(ctx context.Context, pluginName, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s.%s: %w", pluginName, key, err)
	}
	return s.client.HSet(ctx, s.key(pluginName), key, raw).Err()
}

func (s *RedisStorage) Delete(ctx context.Context, pluginName, key string) error {
	return s.client.HDel(ctx, s.key(pluginName), key).Err()
}

var (
	_ plugin.Store   = (*RedisStore)(nil)
	_ plugin.Storage = (*RedisStorage)(nil)
)
