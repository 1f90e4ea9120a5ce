package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"

	"openweb_proxy/internal/shared/types"
)

// LoadIni 在默认值之上加载 ini 配置文件，然后应用环境变量覆盖。
// 文件不存在时保留默认值。
func LoadIni(cfg *types.Config, fileName string) error {
	if fileName != "" {
		iniFile, err := ini.Load(fileName)
		switch {
		case err == nil:
			if err := iniFile.MapTo(cfg); err != nil {
				return fmt.Errorf("failed to map config file %s: %w", fileName, err)
			}
		case os.IsNotExist(err):
		default:
			return fmt.Errorf("failed to load config file %s: %w", fileName, err)
		}
	}

	overrideFromEnvString(&cfg.CommonConf.Protocol, "PROXYMINER_PROTOCOL")
	overrideFromEnvDuration(&cfg.CommonConf.Timeout, "PROXYMINER_TIMEOUT")
	overrideFromEnvInt(&cfg.CommonConf.MaxWorkers, "PROXYMINER_MAX_WORKERS")
	overrideFromEnvString(&cfg.StorageConf.RedisAddr, "PROXYMINER_REDIS_ADDR")
	return nil
}

// Load returns the defaults merged with fileName and validated.
func Load(fileName string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := LoadIni(cfg, fileName); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvDuration(target *time.Duration, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if d, err := time.ParseDuration(envValue); err == nil {
			*target = d
		}
	}
}
