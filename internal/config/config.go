package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	RewardEvents string `mapstructure:"reward_events"`
}

// BusinessConfig 奖金引擎业务配置
//
// Timezone 是结算日的民用时区：reward_date、"昨日"购买窗口、周一至周日的
// 中心手续费释放区间全部按该时区计算，与服务器本地时区无关。
type BusinessConfig struct {
	Timezone          string `mapstructure:"timezone"`             // 结算时区，如 Asia/Seoul
	ScheduleHour      int    `mapstructure:"schedule_hour"`        // 每日批次触发的小时（0-23）
	JobLockTTLSeconds int    `mapstructure:"job_lock_ttl_seconds"` // 批次运行锁的过期时间
	BatchInsertSize   int    `mapstructure:"batch_insert_size"`    // 奖金流水批量插入大小
	MaxRetryCount     int    `mapstructure:"max_retry_count"`      // outbox 消息最大重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	if config.Business.Timezone == "" {
		config.Business.Timezone = "Asia/Seoul"
	}
	if config.Business.JobLockTTLSeconds <= 0 {
		config.Business.JobLockTTLSeconds = 3600
	}
	if config.Business.BatchInsertSize <= 0 {
		config.Business.BatchInsertSize = 200
	}
	if config.Business.MaxRetryCount <= 0 {
		config.Business.MaxRetryCount = 3
	}

	GlobalConfig = config
	return config
}
