package uid

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr     string `cfg:"addr" def:"localhost:6379"`
	Password string `cfg:"password"`
	DB       int    `cfg:"db"`
	// KeyName 序列号键的前缀
	KeyName string        `cfg:"keyName" def:"relstore:uid"`
	Timeout time.Duration `cfg:"timeout" def:"3s"`
}

// RedisGenerator 多个进程共享的 id 生成器
// id 为毫秒时间戳左移 12 位加上 redis 中按毫秒递增的序列号
type RedisGenerator struct {
	client  redis.UniversalClient
	keyName string
	timeout time.Duration
}

func NewRedisGeneratorWithOptions(options *RedisOptions) (*RedisGenerator, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
	return NewRedisGenerator(client, options.KeyName, options.Timeout), nil
}

func NewRedisGenerator(client redis.UniversalClient, keyName string, timeout time.Duration) *RedisGenerator {
	if keyName == "" {
		keyName = "relstore:uid"
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &RedisGenerator{client: client, keyName: keyName, timeout: timeout}
}

// Generate 序列号在同一毫秒内用尽时等待下一毫秒
// redis 不可用时返回错误，不降级为本地生成，避免多进程之间冲突
func (g *RedisGenerator) Generate(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	for {
		timestamp := time.Now().UnixMilli()
		key := g.keyName + ":" + strconv.FormatInt(timestamp, 10)

		pipe := g.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, 2*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			return "", errors.Wrap(err, "redis incr failed")
		}

		sequence := incr.Val() - 1
		if sequence <= maxSequence {
			return strconv.FormatInt(timestamp<<sequenceBits|sequence, 10), nil
		}

		select {
		case <-ctx.Done():
			return "", errors.Wrap(ctx.Err(), "wait for next millisecond")
		case <-time.After(time.Millisecond):
		}
	}
}

func (g *RedisGenerator) Close() error {
	return g.client.Close()
}
