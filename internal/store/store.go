package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis key prefixes. Every server instance shares one keyspace; all
// coordination state lives behind these prefixes, nothing authoritative is
// kept in process memory.
const (
	connsPrefix       = "presence:conns:"
	ownerPrefix       = "presence:owner:"
	onlineKey         = "presence:online"
	friendCachePrefix = "friends:cache:"
	queueKey          = "matchmaking:queue"
	requestPrefix     = "battle:req:"
	requestIndex      = "battle:index:"
	friendsConfirm    = "battle:friends:"
)

func ConnsKey(playerID string) string       { return connsPrefix + playerID }
func OwnerKey(connID string) string         { return ownerPrefix + connID }
func OnlineKey() string                     { return onlineKey }
func FriendCacheKey(playerID string) string { return friendCachePrefix + playerID }
func QueueKey() string                      { return queueKey }
func RequestKey(from, to string) string     { return requestPrefix + from + ":" + to }
func RequestIndexKey(from string) string    { return requestIndex + from }

// FriendsConfirmKey normalizes the pair so both directions hit one cache entry.
func FriendsConfirmKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return friendsConfirm + a + ":" + b
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis and verifies the connection before returning.
func NewClient(ctx context.Context, logger *zap.Logger, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return client, nil
}
