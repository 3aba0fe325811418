package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// streamMaxLen 出站流的近似长度上限（XADD MAXLEN ~）
// 分发方掉线时流不会无限增长；修剪掉的决策仍在数据库审计表中
const streamMaxLen = 100000

// PublishJSONToStream 发布 JSON 载荷到 Redis Streams（XADD）
// 通知分发方从流中消费，引擎只生产不消费；返回流内消息ID
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream:       stream,
		MaxLenApprox: streamMaxLen,
		Values: map[string]interface{}{
			"data":         string(data),
			"published_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	return id, nil
}
