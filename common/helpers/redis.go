package helpers

import (
	"fmt"

	"github.com/go-redis/redis/v7"
)

/**
connects to redis if an address is configured. returns nil and no error when it isn't, run records are
optional
*/
func (c *Config) RedisClient() (*redis.Client, error) {
	if c.Redis.Address == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Address,
		Password: c.Redis.Password,
		DB:       c.Redis.DBNum,
	})

	if _, err := client.Ping().Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not contact redis at %s: %w", c.Redis.Address, err)
	}
	return client, nil
}
