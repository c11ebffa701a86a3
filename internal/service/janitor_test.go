package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCache struct {
	n   int64
	err error
}

func (f *fakeCache) CleanExpired(context.Context) (int64, error) { return f.n, f.err }

func TestIdempotencyJanitor_Purge(t *testing.T) {
	j := NewIdempotencyJanitor(&fakeCache{n: 4}, discardLogger(), 0)
	assert.Equal(t, int64(4), j.Purge(context.Background()))

	j = NewIdempotencyJanitor(&fakeCache{err: errors.New("db down")}, discardLogger(), 0)
	assert.Equal(t, int64(0), j.Purge(context.Background()))
}
