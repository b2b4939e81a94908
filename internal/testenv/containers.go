//go:build integration

// Package testenv starts the backing services used by integration tests.
package testenv

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type Env struct {
	PG       *postgres.PostgresContainer
	Redis    *tcredis.RedisContainer
	Kafka    *kafka.KafkaContainer
	PGURL    string
	RedisURL string
	KAddr    []string
}

type options struct {
	kafka bool
}

type Option func(*options)

// WithKafka also starts a single-node broker.
func WithKafka() Option { return func(o *options) { o.kafka = true } }

func Setup(ctx context.Context, opts ...Option) (*Env, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	env := &Env{}
	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	env.PG = pgC

	if env.PGURL, err = pgC.ConnectionString(ctx, "sslmode=disable"); err != nil {
		env.Teardown(context.Background())
		return nil, err
	}

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.Redis = redisC

	if env.RedisURL, err = redisC.ConnectionString(ctx); err != nil {
		env.Teardown(context.Background())
		return nil, err
	}

	if o.kafka {
		kafkaC, err := kafka.Run(ctx,
			"confluentinc/confluent-local:7.5.0",
			kafka.WithClusterID("storefront-test"),
		)
		if err != nil {
			env.Teardown(context.Background())
			return nil, err
		}
		env.Kafka = kafkaC

		if env.KAddr, err = kafkaC.Brokers(ctx); err != nil {
			env.Teardown(context.Background())
			return nil, err
		}
	}
	return env, nil
}

func (e *Env) Teardown(ctx context.Context) {
	if e.Kafka != nil {
		_ = e.Kafka.Terminate(ctx)
	}
	if e.Redis != nil {
		_ = e.Redis.Terminate(ctx)
	}
	if e.PG != nil {
		_ = e.PG.Terminate(ctx)
	}
}
