package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestCommandArgsHidesSecretsAndPayloads(t *testing.T) {
	ctx := context.Background()

	auth := redis.NewStatusCmd(ctx, "auth", "user", "secret")
	assert.NotContains(t, argsString(commandArgs(auth)), "secret")

	pub := redis.NewIntCmd(ctx, "publish", "im:thread:1_2", `{"content":"hi"}`)
	out := argsString(commandArgs(pub))
	assert.Contains(t, out, "im:thread:1_2")
	assert.NotContains(t, out, "content")
}

func TestExpectedRedisError(t *testing.T) {
	ctx := context.Background()
	get := redis.NewStringCmd(ctx, "get", "k")
	assert.True(t, expectedRedisError(ctx, get, redis.Nil))
	assert.False(t, expectedRedisError(ctx, get, errors.New("READONLY")))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, expectedRedisError(canceled, get, context.Canceled))
}

func argsString(fields []any) string {
	var s string
	for _, f := range fields {
		if a, ok := f.(interface{ String() string }); ok {
			s += a.String()
		}
	}
	return s
}
