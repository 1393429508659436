package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/placementbridge/oppengine/internal/model"
)

// cacheVersionKey は検索キャッシュの世代番号を保持するキー。
// 取り込みで新しい行が入るたびにINCRされ、古い世代のキーはTTLで消える。
const cacheVersionKey = "oppengine:search:version"

// NewRedisClient はRedis接続を作成して疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("Redis URLの解析に失敗しました: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redisへの接続に失敗しました: %w", err)
	}

	return rdb, nil
}

// Cache は検索結果のRedisキャッシュ。
// Redisの障害は検索の失敗にせず、キャッシュなしで続行する。
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache はCacheを生成する。
func NewCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

// Get はキャッシュされた検索結果を返す。ヒットしない場合はfalseを返す。
func (c *Cache) Get(ctx context.Context, params model.SearchParams) (*Result, bool) {
	key, err := c.key(ctx, params)
	if err != nil {
		c.logger.Warn("キャッシュキーの生成に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("キャッシュの取得に失敗しました", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("キャッシュの復元に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}
	return &result, true
}

// Set は検索結果をキャッシュに保存する。
func (c *Cache) Set(ctx context.Context, params model.SearchParams, result *Result) {
	key, err := c.key(ctx, params)
	if err != nil {
		c.logger.Warn("キャッシュキーの生成に失敗しました", slog.String("error", err.Error()))
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("キャッシュの直列化に失敗しました", slog.String("error", err.Error()))
		return
	}

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("キャッシュの保存に失敗しました", slog.String("error", err.Error()))
	}
}

// Invalidate は世代番号を進めて既存のキャッシュを無効化する。
// 取り込みで新しい募集情報が挿入された後に呼ばれる。
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return fmt.Errorf("キャッシュの無効化に失敗しました: %w", err)
	}
	return nil
}

// key は検索パラメータと現在の世代番号からキャッシュキーを生成する。
func (c *Cache) key(ctx context.Context, params model.SearchParams) (string, error) {
	version, err := c.rdb.Get(ctx, cacheVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}

	canonical := fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		params.Query, params.Type, params.Field, params.Country, params.Limit, params.Offset)
	sum := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("oppengine:search:%d:%x", version, sum[:16]), nil
}
