package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Notifier NotifierConfig `mapstructure:"notifier"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	Dir        string `mapstructure:"dir"`         // 文件输出目录
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

// DatabaseConfig 任务表所在的 SQLite 文件
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig 下载文件落盘位置
type StorageConfig struct {
	DownloadDir     string `mapstructure:"download_dir"`      // 应用私有下载目录
	ExternalRoot    string `mapstructure:"external_root"`     // 外部存储挂载点，为空表示始终可用
	InternalDir     string `mapstructure:"internal_dir"`      // 外部存储不可用时的内部备用目录
	InternalMinFree int64  `mapstructure:"internal_min_free"` // 备用目录最少可用字节
	ReservedBlocks  int64  `mapstructure:"reserved_blocks"`   // 空间检查时保留的块数
}

// AgentConfig 传输执行器配置
type AgentConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent"` // 最大并发传输数
	PollInterval  int    `mapstructure:"poll_interval"`  // 轮询间隔（秒）
	Timeout       int    `mapstructure:"timeout"`        // 单次传输超时（分钟）
	MaxRedirects  int    `mapstructure:"max_redirects"`  // 最大重定向次数
	UserAgent     string `mapstructure:"user_agent"`     // 默认 User-Agent
}

type NotifierConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"` // 刷新间隔（秒）
}

type CleanupConfig struct {
	Schedule            string `mapstructure:"schedule"`              // cron 表达式
	FailedRetentionDays int    `mapstructure:"failed_retention_days"` // 失败任务保留天数，0 表示不清理
}

type WatcherConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load() *Config {
	SetDefaults(viper.GetViper())

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	config, err := Decode(viper.GetViper())
	if err != nil {
		log.Fatalf("%v", err)
	}
	return config
}

// Decode 从 viper 实例解码并校验配置
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// SetDefaults 设置默认配置
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5000")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.dir", "data/logs")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	// JWT默认配置
	v.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	v.SetDefault("jwt.expire_time", 24) // 24小时
	v.SetDefault("jwt.issuer", "os-downloads")

	v.SetDefault("database.path", "data/downloads.db")

	// 存储默认配置
	v.SetDefault("storage.download_dir", "data/downloads")
	v.SetDefault("storage.external_root", "")
	v.SetDefault("storage.internal_dir", "data/internal/downloads")
	v.SetDefault("storage.internal_min_free", 100*1024*1024)
	v.SetDefault("storage.reserved_blocks", 4)

	// 传输默认配置
	v.SetDefault("agent.max_concurrent", 2)
	v.SetDefault("agent.poll_interval", 5)
	v.SetDefault("agent.timeout", 30)
	v.SetDefault("agent.max_redirects", 5)
	v.SetDefault("agent.user_agent", "OSDownloadManager")

	v.SetDefault("notifier.enabled", true)
	v.SetDefault("notifier.interval", 2)

	v.SetDefault("cleanup.schedule", "@every 10m")
	v.SetDefault("cleanup.failed_retention_days", 30)

	v.SetDefault("watcher.enabled", true)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if strings.TrimSpace(config.Database.Path) == "" {
		return fmt.Errorf("数据库路径未设置")
	}
	if strings.TrimSpace(config.Storage.DownloadDir) == "" {
		return fmt.Errorf("下载目录未设置")
	}
	if config.Storage.ReservedBlocks < 0 {
		return fmt.Errorf("保留块数不能为负数: %d", config.Storage.ReservedBlocks)
	}
	if config.Agent.MaxConcurrent < 1 {
		return fmt.Errorf("最大并发传输数必须大于 0: %d", config.Agent.MaxConcurrent)
	}
	if config.Agent.PollInterval < 1 {
		return fmt.Errorf("轮询间隔必须大于 0: %d", config.Agent.PollInterval)
	}
	return nil
}
