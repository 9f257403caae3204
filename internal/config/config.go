package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"RiskPilot-Chain/internal/bus"
	"RiskPilot-Chain/pkg/logger"
)

// EnvPath 是指定配置文件路径的环境变量。
const EnvPath = "RISKPILOT_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
var DefaultPath = filepath.Join("configs", "riskpilot.json")

// Config 描述了 RiskPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Logging       logger.Config       `json:"logging"`
	Bus           BusConfig           `json:"bus"`
	Aggregator    AggregatorConfig    `json:"aggregator"`
	Orchestrator  OrchestratorConfig  `json:"orchestrator"`
	Ledger        LedgerConfig        `json:"ledger"`
	Market        MarketConfig        `json:"market"`
	LLM           LLMConfig           `json:"llm"`
	Storage       StorageConfig       `json:"storage"`
	Task          TaskConfig          `json:"task"`
	Observability ObservabilityConfig `json:"observability"`
	Runtime       RuntimeConfig       `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// BusConfig 控制消息总线保留的历史条数。
type BusConfig struct {
	HistoryLimit int `json:"history_limit"`
}

// AggregatorConfig 描述风险汇总的等待窗口与估值参数。
type AggregatorConfig struct {
	Timeout    Duration           `json:"timeout"`
	HBARPrice  float64            `json:"hbar_price"`
	UnitPrices map[string]float64 `json:"unit_prices"`
}

// OrchestratorConfig 描述编排器各阶段的超时。
type OrchestratorConfig struct {
	ScanTimeout  Duration `json:"scan_timeout"`
	GraphTimeout Duration `json:"graph_timeout"`
	LLMTimeout   Duration `json:"llm_timeout"`
}

// LedgerConfig 描述账户余额的来源。Demo 模式只读取 Accounts 中的静态数据。
type LedgerConfig struct {
	NetworksFile string                   `json:"networks_file"`
	Demo         bool                     `json:"demo"`
	Accounts     map[string]AccountConfig `json:"accounts"`
}

// AccountConfig 是 demo 模式下一个账户的持仓。
type AccountConfig struct {
	HBAR   float64       `json:"hbar"`
	Tokens []TokenConfig `json:"tokens"`
}

// TokenConfig 是 demo 账户持有的一种代币。
type TokenConfig struct {
	TokenID  string  `json:"token_id"`
	Symbol   string  `json:"symbol"`
	Balance  float64 `json:"balance"`
	Decimals int     `json:"decimals"`
}

// MarketConfig 描述新闻情绪与价格数据源。
type MarketConfig struct {
	News     EndpointConfig `json:"news"`
	Prices   EndpointConfig `json:"prices"`
	CacheTTL Duration       `json:"cache_ttl"`
	Fanout   int            `json:"fanout"`
}

// EndpointConfig 是一个外部 HTTP 数据源。APIKeyEnv 指向保存密钥的环境变量。
type EndpointConfig struct {
	Enabled   bool     `json:"enabled"`
	BaseURL   string   `json:"base_url"`
	APIKeyEnv string   `json:"api_key_env"`
	Timeout   Duration `json:"timeout"`
}

// APIKey 从环境变量读取密钥。
func (e EndpointConfig) APIKey() string {
	return lookupEnv(e.APIKeyEnv)
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKeyEnv   string   `json:"api_key_env"`
	BaseURL     string   `json:"base_url"`
	Model       string   `json:"model"`
	Timeout     Duration `json:"timeout"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

// APIKey 从环境变量读取密钥。
func (o OpenAIConfig) APIKey() string {
	return lookupEnv(o.APIKeyEnv)
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	Conversations ConversationStoreConfig `json:"conversations"`
	MySQL         MySQLConfig             `json:"mysql"`
	Redis         RedisConfig             `json:"redis"`
}

// ConversationStoreConfig 选择对话记录的存储方式：file 或 mysql。
type ConversationStoreConfig struct {
	Driver string `json:"driver"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN             string   `json:"dsn"`
	DSNEnv          string   `json:"dsn_env"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time"`
	DialTimeout     Duration `json:"dial_timeout"`
}

// RedisConfig 描述 Redis 连接。Enabled 为 false 时缓存退化为进程内存。
type RedisConfig struct {
	Enabled     bool   `json:"enabled"`
	Address     string `json:"address"`
	PasswordEnv string `json:"password_env"`
	DB          int    `json:"db"`
	Prefix      string `json:"prefix"`
}

// Password 从环境变量读取密码。
func (r RedisConfig) Password() string {
	return lookupEnv(r.PasswordEnv)
}

// TaskConfig 描述异步聊天任务的存储、队列与 worker。
type TaskConfig struct {
	Store      string         `json:"store"`
	Queue      QueueConfig    `json:"queue"`
	Workers    int            `json:"workers"`
	MaxRetries int            `json:"max_retries"`
	JobTimeout Duration       `json:"job_timeout"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
}

// QueueConfig 选择任务队列：memory、redis 或 rabbitmq。
type QueueConfig struct {
	Driver    string   `json:"driver"`
	Name      string   `json:"name"`
	Buffer    int      `json:"buffer"`
	BlockWait Duration `json:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	URLEnv     string `json:"url_env"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// ObservabilityConfig 控制 Prometheus 指标与告警渠道。
type ObservabilityConfig struct {
	Metrics bool         `json:"metrics"`
	Alerts  AlertsConfig `json:"alerts"`
}

// AlertsConfig 描述告警渠道。WebhookURLEnv 指向 Slack 兼容 webhook 地址所在的环境变量。
type AlertsConfig struct {
	Log            bool     `json:"log"`
	WebhookURLEnv  string   `json:"webhook_url_env"`
	WebhookTimeout Duration `json:"webhook_timeout"`
}

// WebhookURL 从环境变量读取 webhook 地址。
func (a AlertsConfig) WebhookURL() string {
	return lookupEnv(a.WebhookURLEnv)
}

// Enabled 报告是否配置了任一渠道。
func (a AlertsConfig) Enabled() bool {
	return a.Log || a.WebhookURL() != ""
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Duration 在 JSON 中既接受 "8s" 这样的字符串，也接受以秒为单位的数字。
type Duration time.Duration

// Std 返回标准库类型。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		if strings.TrimSpace(v) == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("无效的时长 %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("无效的时长 %s", string(b))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回 DefaultPath。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析 JSON 内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "logs/audit.log"
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}
	for i, out := range c.Logging.OutputPaths {
		if out != "stdout" && out != "stderr" && out != "" {
			c.Logging.OutputPaths[i] = resolve(baseDir, out)
		}
	}

	if c.Bus.HistoryLimit <= 0 {
		c.Bus.HistoryLimit = bus.DefaultHistoryLimit
	}

	if c.Aggregator.Timeout <= 0 {
		c.Aggregator.Timeout = Duration(5 * time.Second)
	}
	if c.Aggregator.HBARPrice <= 0 {
		c.Aggregator.HBARPrice = 0.05
	}

	if c.Orchestrator.ScanTimeout <= 0 {
		c.Orchestrator.ScanTimeout = Duration(8 * time.Second)
	}
	if c.Orchestrator.GraphTimeout <= 0 {
		c.Orchestrator.GraphTimeout = Duration(5 * time.Second)
	}
	if c.Orchestrator.LLMTimeout <= 0 {
		c.Orchestrator.LLMTimeout = Duration(15 * time.Second)
	}

	if c.Ledger.NetworksFile == "" {
		c.Ledger.NetworksFile = "networks.yaml"
	}
	c.Ledger.NetworksFile = resolve(baseDir, c.Ledger.NetworksFile)

	if c.Market.CacheTTL <= 0 {
		c.Market.CacheTTL = Duration(time.Minute)
	}
	if c.Market.Fanout <= 0 {
		c.Market.Fanout = 4
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "none"
	}
	if c.LLM.Provider == "openai" {
		if c.LLM.OpenAI.APIKeyEnv == "" {
			c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if c.LLM.OpenAI.Model == "" {
			c.LLM.OpenAI.Model = "gpt-4o-mini"
		}
	}

	if c.Storage.Conversations.Driver == "" {
		c.Storage.Conversations.Driver = "file"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "riskpilot:"
	}
	if c.Storage.MySQL.DSN == "" && c.Storage.MySQL.DSNEnv != "" {
		c.Storage.MySQL.DSN = lookupEnv(c.Storage.MySQL.DSNEnv)
	}

	if c.Task.Store == "" {
		c.Task.Store = "memory"
	}
	if c.Task.Queue.Driver == "" {
		c.Task.Queue.Driver = "memory"
	}
	if c.Task.Workers <= 0 {
		c.Task.Workers = 2
	}
	if c.Task.MaxRetries <= 0 {
		c.Task.MaxRetries = 3
	}
	if c.Task.JobTimeout <= 0 {
		c.Task.JobTimeout = Duration(30 * time.Second)
	}
	if c.Task.RabbitMQ.URL == "" && c.Task.RabbitMQ.URLEnv != "" {
		c.Task.RabbitMQ.URL = lookupEnv(c.Task.RabbitMQ.URLEnv)
	}

	if c.Observability.Alerts.WebhookTimeout <= 0 {
		c.Observability.Alerts.WebhookTimeout = Duration(5 * time.Second)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查各个驱动名是否合法，以及所选驱动是否具备必需的连接信息。
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Conversations.Driver {
	case "file":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("storage.conversations 使用 mysql 时必须提供 storage.mysql.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的对话存储驱动 %q", c.Storage.Conversations.Driver))
	}

	switch c.Task.Store {
	case "memory":
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			errs = append(errs, errors.New("task.store 使用 mysql 时必须提供 storage.mysql.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的任务存储 %q", c.Task.Store))
	}

	switch c.Task.Queue.Driver {
	case "memory":
	case "redis":
		if c.Storage.Redis.Address == "" {
			errs = append(errs, errors.New("task.queue 使用 redis 时必须提供 storage.redis.address"))
		}
	case "rabbitmq":
		if c.Task.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("task.queue 使用 rabbitmq 时必须提供 task.rabbitmq.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的任务队列 %q", c.Task.Queue.Driver))
	}

	switch c.LLM.Provider {
	case "none", "openai":
	default:
		errs = append(errs, fmt.Errorf("未知的 LLM provider %q", c.LLM.Provider))
	}

	if c.Storage.Redis.Enabled && c.Storage.Redis.Address == "" {
		errs = append(errs, errors.New("storage.redis 启用时必须提供 address"))
	}
	if c.Ledger.Demo && len(c.Ledger.Accounts) == 0 {
		errs = append(errs, errors.New("ledger.demo 模式至少需要一个账户"))
	}
	return errors.Join(errs...)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func lookupEnv(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
