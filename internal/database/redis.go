package database

import (
	"context"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// InitRedis initializes Redis client with config. It returns nil when Redis
// is disabled or unreachable; callers run without the payment feed and with
// self-contained QR codes.
func InitRedis(ctx context.Context) *redis.Client {
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	if !viper.GetBool("redis.enabled") {
		log.Println("Redis disabled")
		return nil
	}

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, continuing without Redis: %v", err)
		rdb.Close()
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
