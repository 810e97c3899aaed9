package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认值（与参考服务端保持一致）
const (
	defaultAPIBaseURL        = "http://localhost:8080/api"
	defaultStreamURL         = "ws://localhost:8080/api/ws"
	defaultDecayMs           = 1000
	defaultNotificationTTLMs = 3000
	defaultHTTPTimeoutSec    = 15
	defaultRateLimitPerSec   = 10
	defaultHandshakeSec      = 10
	defaultReconnectDelayMs  = 1000
	defaultMaxReconnectMs    = 30000
	defaultMaxReconnects     = 5
	defaultStoreBackend      = "badger"
	defaultStorePath         = "data/credentials"
	defaultTapePath          = "data/tape.db"
	defaultControlPlane      = "127.0.0.1:8090"
)

// ProxyConfig 代理配置
type ProxyConfig struct {
	Host string
	Port int
}

// URL 代理地址
func (p *ProxyConfig) URL() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// APIConfig REST 服务配置
type APIConfig struct {
	BaseURL            string
	Timeout            time.Duration
	RetryCount         int // 仅对 GET 生效，下单请求从不重试
	RateLimitPerSecond int // 0 表示不限速
}

// StreamConfig 行情流配置
type StreamConfig struct {
	URL                  string
	Decay                time.Duration // 方向高亮的全局衰减时间
	HandshakeTimeout     time.Duration
	ReconnectEnabled     bool // 断线自动重连（默认关闭）
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

// StoreConfig 凭证存储配置
type StoreConfig struct {
	Backend       string // badger | file | memory
	Path          string
	EncryptionKey string // 32 字节（hex 或 base64），仅 badger 使用
}

// TapeConfig 行情磁带（sqlite 诊断日志）配置
type TapeConfig struct {
	Enabled bool
	DBPath  string
}

// Config 应用配置
type Config struct {
	API                APIConfig
	Stream             StreamConfig
	NotificationTTL    time.Duration
	Symbols            []string
	Store              StoreConfig
	Tape               TapeConfig
	ControlPlaneListen string // 本地控制面 HTTP 地址，空表示不启动
	MetricsListen      string // expvar/pprof 地址，空表示不启动
	Proxy              *ProxyConfig
	LogLevel           string // 日志级别
	LogFile            string // 日志文件路径（可选）
	LogByDay           bool   // 是否按天命名日志文件
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	API struct {
		BaseURL            string `yaml:"base_url" json:"base_url"`
		TimeoutSeconds     int    `yaml:"timeout_seconds" json:"timeout_seconds"`
		RetryCount         *int   `yaml:"retry_count" json:"retry_count"`
		RateLimitPerSecond *int   `yaml:"rate_limit_per_second" json:"rate_limit_per_second"`
	} `yaml:"api" json:"api"`
	Stream struct {
		URL                  string `yaml:"url" json:"url"`
		DecayMs              int    `yaml:"decay_ms" json:"decay_ms"`
		HandshakeSeconds     int    `yaml:"handshake_seconds" json:"handshake_seconds"`
		ReconnectEnabled     *bool  `yaml:"reconnect_enabled" json:"reconnect_enabled"`
		ReconnectDelayMs     int    `yaml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
		MaxReconnectDelayMs  int    `yaml:"max_reconnect_delay_ms" json:"max_reconnect_delay_ms"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
	} `yaml:"stream" json:"stream"`
	NotificationTTLMs int      `yaml:"notification_ttl_ms" json:"notification_ttl_ms"`
	Symbols           []string `yaml:"symbols" json:"symbols"`
	Store             struct {
		Backend       string `yaml:"backend" json:"backend"`
		Path          string `yaml:"path" json:"path"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	} `yaml:"store" json:"store"`
	Tape struct {
		Enabled bool   `yaml:"enabled" json:"enabled"`
		DBPath  string `yaml:"db_path" json:"db_path"`
	} `yaml:"tape" json:"tape"`
	ControlPlaneListen *string `yaml:"controlplane_listen" json:"controlplane_listen"`
	MetricsListen      string  `yaml:"metrics_listen" json:"metrics_listen"`
	Proxy              struct {
		Host string `yaml:"host" json:"host"`
		Port int    `yaml:"port" json:"port"`
	} `yaml:"proxy" json:"proxy"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
	LogByDay *bool  `yaml:"log_by_day" json:"log_by_day"`
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置（优先级：环境变量 > 配置文件 > 默认值）
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cf = loaded
	}

	config := &Config{
		API: APIConfig{
			BaseURL:            getEnv("TRADEDASH_API_BASE_URL", orString(cf.API.BaseURL, defaultAPIBaseURL)),
			Timeout:            time.Duration(parseIntEnv("TRADEDASH_API_TIMEOUT_SECONDS", orInt(cf.API.TimeoutSeconds, defaultHTTPTimeoutSec))) * time.Second,
			RetryCount:         parseIntEnv("TRADEDASH_API_RETRY_COUNT", orIntPtr(cf.API.RetryCount, 2)),
			RateLimitPerSecond: parseIntEnv("TRADEDASH_API_RATE_LIMIT", orIntPtr(cf.API.RateLimitPerSecond, defaultRateLimitPerSec)),
		},
		Stream: StreamConfig{
			URL:                  getEnv("TRADEDASH_STREAM_URL", orString(cf.Stream.URL, defaultStreamURL)),
			Decay:                msEnv("TRADEDASH_STREAM_DECAY_MS", orInt(cf.Stream.DecayMs, defaultDecayMs)),
			HandshakeTimeout:     time.Duration(parseIntEnv("TRADEDASH_STREAM_HANDSHAKE_SECONDS", orInt(cf.Stream.HandshakeSeconds, defaultHandshakeSec))) * time.Second,
			ReconnectEnabled:     parseBoolEnv("TRADEDASH_STREAM_RECONNECT", orBoolPtr(cf.Stream.ReconnectEnabled, false)),
			ReconnectDelay:       msEnv("TRADEDASH_STREAM_RECONNECT_DELAY_MS", orInt(cf.Stream.ReconnectDelayMs, defaultReconnectDelayMs)),
			MaxReconnectDelay:    msEnv("TRADEDASH_STREAM_MAX_RECONNECT_DELAY_MS", orInt(cf.Stream.MaxReconnectDelayMs, defaultMaxReconnectMs)),
			MaxReconnectAttempts: parseIntEnv("TRADEDASH_STREAM_MAX_RECONNECT_ATTEMPTS", orInt(cf.Stream.MaxReconnectAttempts, defaultMaxReconnects)),
		},
		NotificationTTL: msEnv("TRADEDASH_NOTIFICATION_TTL_MS", orInt(cf.NotificationTTLMs, defaultNotificationTTLMs)),
		Symbols:         parseSymbols(cf.Symbols),
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("TRADEDASH_STORE_BACKEND", orString(cf.Store.Backend, defaultStoreBackend))),
			Path:          getEnv("TRADEDASH_STORE_PATH", orString(cf.Store.Path, defaultStorePath)),
			EncryptionKey: getEnv("TRADEDASH_STORE_ENCRYPTION_KEY", cf.Store.EncryptionKey),
		},
		Tape: TapeConfig{
			Enabled: parseBoolEnv("TRADEDASH_TAPE_ENABLED", cf.Tape.Enabled),
			DBPath:  getEnv("TRADEDASH_TAPE_DB", orString(cf.Tape.DBPath, defaultTapePath)),
		},
		ControlPlaneListen: func() string {
			if v, ok := os.LookupEnv("TRADEDASH_CONTROLPLANE_LISTEN"); ok {
				return v
			}
			if cf.ControlPlaneListen != nil {
				return *cf.ControlPlaneListen
			}
			return defaultControlPlane
		}(),
		MetricsListen: getEnv("TRADEDASH_METRICS_LISTEN", cf.MetricsListen),
		Proxy:         parseProxyConfig(cf),
		LogLevel:      getEnv("LOG_LEVEL", orString(cf.LogLevel, "info")),
		LogFile:       getEnv("LOG_FILE", orString(cf.LogFile, "logs/tradedash.log")),
		LogByDay:      parseBoolEnv("LOG_BY_DAY", orBoolPtr(cf.LogByDay, true)),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cf := &ConfigFile{}
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		if err := json.Unmarshal(data, cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	}
	return cf, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := validateURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("TRADEDASH_API_BASE_URL 无效: %w", err)
	}
	if err := validateURL(c.Stream.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("TRADEDASH_STREAM_URL 无效: %w", err)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("TRADEDASH_API_TIMEOUT_SECONDS 必须大于 0")
	}
	if c.API.RetryCount < 0 {
		return fmt.Errorf("TRADEDASH_API_RETRY_COUNT 不能为负数")
	}
	if c.API.RateLimitPerSecond < 0 {
		return fmt.Errorf("TRADEDASH_API_RATE_LIMIT 不能为负数")
	}
	if c.Stream.Decay <= 0 {
		return fmt.Errorf("TRADEDASH_STREAM_DECAY_MS 必须大于 0")
	}
	if c.Stream.HandshakeTimeout <= 0 {
		return fmt.Errorf("TRADEDASH_STREAM_HANDSHAKE_SECONDS 必须大于 0")
	}
	if c.Stream.ReconnectEnabled {
		if c.Stream.ReconnectDelay <= 0 || c.Stream.MaxReconnectDelay < c.Stream.ReconnectDelay {
			return fmt.Errorf("重连延迟配置无效: delay=%v max=%v", c.Stream.ReconnectDelay, c.Stream.MaxReconnectDelay)
		}
		if c.Stream.MaxReconnectAttempts <= 0 {
			return fmt.Errorf("TRADEDASH_STREAM_MAX_RECONNECT_ATTEMPTS 必须大于 0")
		}
	}
	if c.NotificationTTL <= 0 {
		return fmt.Errorf("TRADEDASH_NOTIFICATION_TTL_MS 必须大于 0")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("至少需要配置一个标的")
	}
	switch c.Store.Backend {
	case "badger", "file":
		if c.Store.Path == "" {
			return fmt.Errorf("TRADEDASH_STORE_PATH 不能为空")
		}
	case "memory":
	default:
		return fmt.Errorf("未知的凭证存储类型: %s", c.Store.Backend)
	}
	if c.Tape.Enabled && c.Tape.DBPath == "" {
		return fmt.Errorf("TRADEDASH_TAPE_DB 不能为空")
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("为空")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("缺少 host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme 必须是 %s", strings.Join(schemes, "/"))
}

// parseSymbols 解析标的列表（环境变量逗号分隔 > 配置文件 > 默认）
func parseSymbols(fromFile []string) []string {
	if env := getEnv("TRADEDASH_SYMBOLS", ""); env != "" {
		return parseList(env)
	}
	if len(fromFile) > 0 {
		out := make([]string, 0, len(fromFile))
		for _, s := range fromFile {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return []string{"AAPL", "TSLA", "AMZN", "INFY", "TCS"}
}

// parseList 解析逗号分隔列表
func parseList(str string) []string {
	parts := strings.Split(str, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToUpper(strings.TrimSpace(part))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseProxyConfig 解析代理配置（环境变量优先）
func parseProxyConfig(cf *ConfigFile) *ProxyConfig {
	host := getEnv("PROXY_HOST", cf.Proxy.Host)
	port := parseIntEnv("PROXY_PORT", cf.Proxy.Port)
	if host == "" || port <= 0 {
		return nil
	}
	return &ProxyConfig{Host: host, Port: port}
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orIntPtr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func orBoolPtr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func msEnv(key string, defaultMs int) time.Duration {
	return time.Duration(parseIntEnv(key, defaultMs)) * time.Millisecond
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
