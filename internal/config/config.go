package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Postgres PostgresConfig `mapstructure:"postgres"` // PostgreSQL配置
	Economy  EconomyConfig  `mapstructure:"economy"`  // 碎片经济参数
	Rollover RolloverConfig `mapstructure:"rollover"` // 赛季结算调度配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"` // 服务端口
	Mode string `mapstructure:"mode"` // Gin运行模式：debug/release/test
}

// PostgresConfig PostgreSQL数据库配置
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`               // 连接DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
}

// EconomyConfig 碎片发放相关的经济参数
type EconomyConfig struct {
	AntiWhale        AntiWhaleConfig `mapstructure:"anti_whale"`        // 防刷限制
	RarityBonusOdds  float64         `mapstructure:"rarity_bonus_odds"` // 稀有加成触发概率（0-1）
	SeasonCacheTTL   time.Duration   `mapstructure:"season_cache_ttl"`  // 赛季配置缓存时长，上限60s
	ReserveRetries   int             `mapstructure:"reserve_retries"`   // 台账预扣冲突时的内部重试次数
	StorageTimeout   time.Duration   `mapstructure:"storage_timeout"`   // 单次存储操作超时
	VersionConflicts int             `mapstructure:"version_conflicts"` // 玩家状态乐观锁冲突重试次数
}

// AntiWhaleConfig 防刷参数：单人日上限、冷却、收益递减
type AntiWhaleConfig struct {
	DailyCapPerPlayer int           `mapstructure:"daily_cap_per_player"` // 单玩家每日最多获得碎片数
	CooldownBetween   time.Duration `mapstructure:"cooldown_between"`     // 两次发放之间的最小间隔
	DiminishAfter     int           `mapstructure:"diminish_after"`       // 当日超过该数量后进入收益递减
	DiminishFactor    float64       `mapstructure:"diminish_factor"`      // 递减系数（如0.5）
}

// RolloverConfig 赛季结算后台任务配置
type RolloverConfig struct {
	Enabled      bool          `mapstructure:"enabled"`       // 是否启用后台自动结算
	PollInterval time.Duration `mapstructure:"poll_interval"` // 扫描到期赛季的间隔
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// 1. 加载 .env（若存在），env 中的值会覆盖 config.yaml 中同名字段
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	viper.SetTypeByDefaultValue(true)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		cfg.Server.Mode = v
	}
}

// ApplyDefaults 填充缺省值并对缓存时长做硬上限约束。
// 赛季配置缓存最长60秒：这是给配置数据的容忍度，台账计数绝不走缓存。
func ApplyDefaults(cfg *Config) {
	if cfg.Economy.SeasonCacheTTL <= 0 || cfg.Economy.SeasonCacheTTL > 60*time.Second {
		cfg.Economy.SeasonCacheTTL = 60 * time.Second
	}
	if cfg.Economy.RarityBonusOdds <= 0 {
		cfg.Economy.RarityBonusOdds = 0.1
	}
	if cfg.Economy.ReserveRetries <= 0 {
		cfg.Economy.ReserveRetries = 1
	}
	if cfg.Economy.VersionConflicts <= 0 {
		cfg.Economy.VersionConflicts = 3
	}
	if cfg.Economy.StorageTimeout <= 0 {
		cfg.Economy.StorageTimeout = 5 * time.Second
	}
	if cfg.Economy.AntiWhale.DiminishFactor <= 0 {
		cfg.Economy.AntiWhale.DiminishFactor = 0.5
	}
	if cfg.Rollover.PollInterval <= 0 {
		cfg.Rollover.PollInterval = time.Minute
	}
}
