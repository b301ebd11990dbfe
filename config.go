package redo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider 选择队列使用的传输实现。
type Provider string

const (
	ProviderRedis    Provider = "redis"
	ProviderRabbitMQ Provider = "rabbitmq"
	ProviderMemory   Provider = "memory" // 进程内 broker，仅用于测试与演示
)

const (
	DefaultQueue    = "default"
	DefaultPoll     = 50 * time.Millisecond
	defaultHost     = "127.0.0.1"
	defaultPort     = 6379
	defaultExchange = "redo"
)

// Config 为包总配置，应用通过 Configure 或 NewRegistry 传入。
type Config struct {
	// Queues 队列名 -> 连接参数；键集合即合法的队列名。
	Queues map[string]QueueConfig `yaml:"queues"`
	// Poll 空轮询时单次等待的上限，默认 50ms。
	Poll   time.Duration `yaml:"poll"`
	Logger LoggerConfig  `yaml:"logger"`
}

// QueueConfig 单个队列的传输配置。
type QueueConfig struct {
	Provider Provider `yaml:"provider"`

	// Redis 连接参数；USock 非空时优先使用 unix socket。
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	USock    string `yaml:"usock"`

	// RabbitMQ 连接参数。
	URI      string `yaml:"uri"`
	Exchange string `yaml:"exchange"`

	// Threads 即 lane 数量（>=1），配置后运行期不变。
	Threads int `yaml:"threads"`

	// Strict 开启后，broker 明确报告无订阅者时 Schedule 返回 ErrNoListener；
	// 默认仅记录告警（发布订阅语义下消息直接丢弃）。
	Strict bool `yaml:"strict"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig 返回单队列 "default"、单 lane 的本地 Redis 配置。
func DefaultConfig() Config {
	return Config{
		Queues: map[string]QueueConfig{DefaultQueue: {}},
		Poll:   DefaultPoll,
	}.withDefaults()
}

// LoadConfig 从 YAML 文件读取配置；path 为空时返回 DefaultConfig。
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Queues) == 0 {
		return Config{}, fmt.Errorf("config %s: no queues defined", path)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	queues := make(map[string]QueueConfig, len(c.Queues))
	for name, qc := range c.Queues {
		queues[name] = qc.withDefaults()
	}
	c.Queues = queues
	return c
}

func (q QueueConfig) withDefaults() QueueConfig {
	if q.Provider == "" {
		q.Provider = ProviderRedis
	}
	if q.Host == "" {
		q.Host = defaultHost
	}
	if q.Port <= 0 {
		q.Port = defaultPort
	}
	if q.Threads < 1 {
		q.Threads = 1
	}
	if q.Exchange == "" {
		q.Exchange = defaultExchange
	}
	return q
}
