package kafka

import (
	"Patronage/internal/api/config"
	"time"

	"github.com/IBM/sarama"
)

// newSaramaConfig 是一个包内私有的辅助函数
// 负责统一初始化 sarama.Config，避免代码重复
func newSaramaConfig(kafkaCfg config.KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()

	if kafkaCfg.Sasl.Enable {
		c.Net.SASL.Enable = true
		c.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		c.Net.SASL.User = kafkaCfg.Sasl.Username
		c.Net.SASL.Password = kafkaCfg.Sasl.Password
	}

	// SyncProducer 要求同时返回成功与失败
	c.Producer.Return.Successes = true
	c.Producer.Return.Errors = true
	c.Producer.RequiredAcks = sarama.RequiredAcks(kafkaCfg.Producer.RequiredAcks)
	c.Producer.Retry.Max = kafkaCfg.Producer.RetryMax
	c.Producer.Partitioner = sarama.NewHashPartitioner
	if kafkaCfg.Producer.Timeout > 0 {
		c.Producer.Timeout = time.Duration(kafkaCfg.Producer.Timeout) * time.Second
	}

	return c
}
