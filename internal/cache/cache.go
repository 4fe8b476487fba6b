package cache

import (
	"context"
	"time"
)

// AudioCache stores synthesized audio so repeated phrases (greetings, test
// protocol lines) do not bill the speech providers twice.
type AudioCache interface {
	Get(ctx context.Context, key string) (data []byte, contentType string, hit bool, err error)
	Set(ctx context.Context, key string, data []byte, contentType string, ttl time.Duration) error
}
