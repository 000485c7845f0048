package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_lifetime", 60)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("mongo.database", "patronage")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.timeout_ms", 3000)
	v.SetDefault("kafka.producer.timeout", 5)
	v.SetDefault("kafka.producer.retry_max", 3)
	v.SetDefault("kafka.producer.required_acks", 1)
	v.SetDefault("jwt.issuer", "Patronage")
	v.SetDefault("im.settle_delay_ms", 500)
	v.SetDefault("im.delivery_workers", 4)
	v.SetDefault("im.delivery_queue", 2048)
	v.SetDefault("im.history_page_size", 20)
	v.SetDefault("im.write_timeout_ms", 2000)
	v.SetDefault("im.reconcile_cron", "0 */1 * * * *")
}

// LoadConfig 从文件加载配置并填充到 Cfg，未指定路径时读取 ./configs
func LoadConfig(paths ...string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("config file not found: %w", err)
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	Cfg = &cfg

	return nil
}
