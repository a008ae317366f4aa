package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelay(t *testing.T) {
	p := NewProcessor(nil, nil, ProcessorConfig{
		RetryBackoffBase: time.Minute,
		RetryBackoffMax:  3 * time.Minute,
	}, nil)

	assert.Equal(t, time.Minute, p.retryDelay(1))
	assert.Equal(t, 2*time.Minute, p.retryDelay(2))
	assert.Equal(t, 3*time.Minute, p.retryDelay(3))
	assert.Equal(t, 3*time.Minute, p.retryDelay(10))
}

func TestRetryDelay_Defaults(t *testing.T) {
	p := NewProcessor(nil, nil, ProcessorConfig{}, nil)
	assert.Equal(t, time.Second, p.retryDelay(1))
	assert.Equal(t, time.Minute, p.retryDelay(20))
}
