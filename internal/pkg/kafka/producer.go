package kafka

import (
	"Patronage/internal/api/config"
	"Patronage/internal/api/dto"
	"context"
	log "log/slog"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ChatEventProducer 将消息事件投递给下游通知服务
type ChatEventProducer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewChatEventProducer 连接 broker 并创建同步生产者
func NewChatEventProducer(cfg config.KafkaConfig) (*ChatEventProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	log.Info("Kafka producer connected", "brokers", cfg.Brokers, "topic", cfg.Producer.ChatTopic)
	return newChatEventProducer(producer, cfg.Producer.ChatTopic), nil
}

func newChatEventProducer(producer sarama.SyncProducer, topic string) *ChatEventProducer {
	return &ChatEventProducer{producer: producer, topic: topic}
}

// EmitChatEvent 以接收者 ID 作为分区键，保证同一接收者的事件有序
func (p *ChatEventProducer) EmitChatEvent(ctx context.Context, evt *dto.ChatEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatUint(evt.ReceiverID, 10)),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "send %s event", evt.Type)
	}
	log.DebugContext(ctx, "chat event produced", "type", evt.Type, "msg_id", evt.MsgID, "partition", partition, "offset", offset)
	return nil
}

func (p *ChatEventProducer) Close() error {
	return p.producer.Close()
}
