package database

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"hostwatch-agent/internal/model"
)

// RedisCollector summarizes a Redis instance from INFO. Relational counters
// that have no Redis equivalent stay zero.
type RedisCollector struct {
	logger    *slog.Logger
	newClient func(opts *redis.Options) infoClient
}

type infoClient interface {
	Info(ctx context.Context, section ...string) *redis.StringCmd
	Close() error
}

func NewRedisCollector(logger *slog.Logger) *RedisCollector {
	return &RedisCollector{
		logger:    logger,
		newClient: func(opts *redis.Options) infoClient { return redis.NewClient(opts) },
	}
}

func (c *RedisCollector) Collect(ctx context.Context, t Target) (model.DatabaseDetail, error) {
	opts, err := redis.ParseURL(t.Connection)
	if err != nil {
		return model.DatabaseDetail{}, fmt.Errorf("parse redis url: %w", err)
	}
	client := c.newClient(opts)
	defer client.Close()

	// INFO with several section arguments needs Redis 7.
	info, err := client.Info(ctx).Result()
	if err != nil {
		return model.DatabaseDetail{}, fmt.Errorf("redis info: %w", err)
	}
	host, _, splitErr := net.SplitHostPort(opts.Addr)
	if splitErr != nil {
		host = opts.Addr
	}
	d, malformed := redisDetail(info, fmt.Sprintf("db%d", opts.DB), host)
	if len(malformed) > 0 {
		c.logger.Debug("redis info fields skipped", "target", t.Name, "fields", malformed)
	}
	return d, nil
}

// redisDetail maps INFO output to a detail record and reports the numeric
// fields it could not parse.
func redisDetail(info, name, host string) (model.DatabaseDetail, []string) {
	var malformed []string
	d := model.DatabaseDetail{Name: name, IP: host, Status: "online"}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "used_memory", "connected_clients":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				malformed = append(malformed, key)
				continue
			}
			if key == "used_memory" {
				d.Size = n
			} else {
				d.ActiveConnectionCount = n
			}
		case "role":
			if value != "master" {
				d.Status = "replica"
			}
		case "module":
			d.ExtensionCount++
		}
	}
	return d, malformed
}
