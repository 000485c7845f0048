package kafka

import (
	"Patronage/internal/api/config"
	"Patronage/internal/api/dto"
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatEventProducer_Emit(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "im-chat", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "7", string(key))

		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var evt dto.ChatEvent
		require.NoError(t, json.Unmarshal(raw, &evt))
		assert.Equal(t, "message_sent", evt.Type)
		assert.Equal(t, "m1", evt.MsgID)
		return nil
	})

	p := newChatEventProducer(mock, "im-chat")
	err := p.EmitChatEvent(context.Background(), &dto.ChatEvent{Type: "message_sent", MsgID: "m1", SenderID: 3, ReceiverID: 7})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestChatEventProducer_EmitFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newChatEventProducer(mock, "im-chat")
	err := p.EmitChatEvent(context.Background(), &dto.ChatEvent{Type: "message_sent", ReceiverID: 7})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestNewSaramaConfig(t *testing.T) {
	c := newSaramaConfig(config.KafkaConfig{
		Sasl:     config.SaslConfig{Enable: true, Username: "u", Password: "p"},
		Producer: config.ProducerConfig{Timeout: 3, RetryMax: 5, RequiredAcks: -1},
	})
	assert.True(t, c.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, c.Producer.RequiredAcks)
	assert.Equal(t, 5, c.Producer.Retry.Max)
	assert.True(t, c.Net.SASL.Enable)
	assert.Equal(t, "u", c.Net.SASL.User)

	_, err := NewChatEventProducer(config.KafkaConfig{})
	assert.Error(t, err)
}
