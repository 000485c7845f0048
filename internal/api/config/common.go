package config

// Config 配置主体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logstash LogstashConfig `mapstructure:"logstash"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	IM       IMConfig       `mapstructure:"im"`
}

// ServerConfig Server配置
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // 为空时允许任意来源
}

// DBConfig 数据库配置
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoConfig struct {
	URL         string `mapstructure:"url"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
}

// MinIOConfig MinIO配置，仅用于生成附件访问地址
type MinIOConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type KafkaConfig struct {
	Enable   bool           `mapstructure:"enable"`
	Brokers  []string       `mapstructure:"brokers"`
	Sasl     SaslConfig     `mapstructure:"sasl"`
	Producer ProducerConfig `mapstructure:"producer"`
}

type SaslConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ProducerConfig struct {
	ChatTopic    string `mapstructure:"chat_topic"`
	Timeout      int    `mapstructure:"timeout"` // 秒
	RetryMax     int    `mapstructure:"retry_max"`
	RequiredAcks int16  `mapstructure:"required_acks"`
}

type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
	Level   string `mapstructure:"level"` // debug/info/warn/error
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// IMConfig 私信相关参数
type IMConfig struct {
	SettleDelayMs   int    `mapstructure:"settle_delay_ms"` // 写入确认后多久标记为已送达
	DeliveryWorkers int    `mapstructure:"delivery_workers"`
	DeliveryQueue   int    `mapstructure:"delivery_queue"`
	HistoryPageSize int    `mapstructure:"history_page_size"`
	WriteTimeoutMs  int    `mapstructure:"write_timeout_ms"`
	ReconcileCron   string `mapstructure:"reconcile_cron"`
}
