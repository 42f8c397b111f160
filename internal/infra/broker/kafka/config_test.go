package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfigIsValid(t *testing.T) {
	cfg := producerConfig(nil)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
}

func TestProducerConfigNormalizesCallerConfig(t *testing.T) {
	custom := sarama.NewConfig()
	custom.Net.MaxOpenRequests = 5

	cfg := producerConfig(custom)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
}

func TestConsumerConfigIsValid(t *testing.T) {
	cfg := consumerConfig(nil)
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Version.IsAtLeast(sarama.V2_5_0_0))
}
