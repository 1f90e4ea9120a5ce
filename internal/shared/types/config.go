package types

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"openweb_proxy/proxypool/model"
)

// CommonConf 包含运行时的通用配置
type CommonConf struct {
	Protocol   string        `ini:"protocol"`
	Timeout    time.Duration `ini:"timeout"`
	MaxWorkers int           `ini:"max_workers"`
}

// CheckerConf 对应单个代理检查使用的目标
type CheckerConf struct {
	CheckURL           string `ini:"check_url"`
	ReachabilityTarget string `ini:"reachability_target"`
	BannedSource       string `ini:"banned_source"` // 本地路径或 URL，留空表示不过滤
}

// DetectorConf 对应代理检测服务 (ip-api.com batch)
type DetectorConf struct {
	URL               string        `ini:"url"`
	SingleURL         string        `ini:"single_url"`
	BatchSize         int           `ini:"batch_size"`
	RequestsPerMinute int           `ini:"requests_per_minute"` // 0 表示只依赖 X-Rl/X-Ttl
	SafetyMargin      time.Duration `ini:"safety_margin"`
}

// StorageConf 持久化配置
type StorageConf struct {
	Backend     string `ini:"backend"` // "file" or "redis"
	ProxiesFile string `ini:"proxies_file"`
	RedisAddr   string `ini:"redis_addr"`
	RedisDB     int    `ini:"redis_db"`
	RedisKey    string `ini:"redis_key"`
}

// SourcesConf points at an optional YAML source registry.
type SourcesConf struct {
	File string `ini:"file"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level  string `ini:"level"`
	Format string `ini:"format"` // "console" or "json"
}

// Config 是统一的配置结构体
type Config struct {
	CommonConf   `ini:"common"`
	CheckerConf  `ini:"checker"`
	DetectorConf `ini:"detector"`
	StorageConf  `ini:"storage"`
	SourcesConf  `ini:"sources"`
	LogConf      `ini:"log"`
}

const (
	DefaultCheckURL           = "https://google.com"
	DefaultReachabilityTarget = "1.1.1.1:80"
	DefaultBannedSource       = "https://raw.githubusercontent.com/ankaboot-source/email-open-data/main/mailserver-banned-ips.txt"
	DefaultDetectorURL        = "http://ip-api.com/batch?fields=status,proxy,query"
	DefaultDetectorSingleURL  = "http://ip-api.com/json/{ip}?fields=status,proxy"
)

// DefaultConfig returns a fresh config holding the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		CommonConf: CommonConf{
			Protocol:   string(model.ProtocolSOCKS5),
			Timeout:    5 * time.Second,
			MaxWorkers: 20,
		},
		CheckerConf: CheckerConf{
			CheckURL:           DefaultCheckURL,
			ReachabilityTarget: DefaultReachabilityTarget,
			BannedSource:       DefaultBannedSource,
		},
		DetectorConf: DetectorConf{
			URL:               DefaultDetectorURL,
			SingleURL:         DefaultDetectorSingleURL,
			BatchSize:         100,
			RequestsPerMinute: 15,
			SafetyMargin:      5 * time.Second,
		},
		StorageConf: StorageConf{
			Backend:     "file",
			ProxiesFile: "proxies.txt",
			RedisAddr:   "localhost:6379",
			RedisKey:    "proxies",
		},
		LogConf: LogConf{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the values the pipeline cannot run without.
func (c *Config) Validate() error {
	if _, err := model.ParseProtocol(c.Protocol); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	host, port, err := net.SplitHostPort(c.ReachabilityTarget)
	if err != nil || host == "" {
		return fmt.Errorf("invalid reachability_target %q", c.ReachabilityTarget)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("invalid reachability_target port %q", port)
	}
	switch c.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	return nil
}
