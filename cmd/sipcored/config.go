package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config of the sipcored daemon, read from an optional file and SIPCORE_*
// environment variables.
type Config struct {
	Listen   string
	Host     string
	DNS      string
	Upstream string
	Mailbox  int

	MinExpires int
	MaxExpires int

	T1 time.Duration
	T2 time.Duration
	T4 time.Duration

	Log struct {
		Name  string
		Dir   string
		Level string
		Env   string
	}

	// 注册信息存储 redis, 为空时使用内存
	Redis struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}

	// 事务与对话记录落库 mysql, 为空时只写日志
	MySQL struct {
		DSN   string
		Queue int
	}

	Metrics struct {
		Listen    string
		Namespace string
	}
}

func setDefaults(vp *viper.Viper) {
	// every key needs a default, AutomaticEnv only binds known keys
	vp.SetDefault("listen", "0.0.0.0:5060")
	vp.SetDefault("host", "")
	vp.SetDefault("dns", "")
	vp.SetDefault("upstream", "")
	vp.SetDefault("mailbox", 1024)
	vp.SetDefault("minexpires", 60)
	vp.SetDefault("maxexpires", 7200)
	vp.SetDefault("t1", 500*time.Millisecond)
	vp.SetDefault("t2", 4*time.Second)
	vp.SetDefault("t4", 5*time.Second)
	vp.SetDefault("log.name", "sipcored")
	vp.SetDefault("log.dir", "")
	vp.SetDefault("log.level", "info")
	vp.SetDefault("log.env", "prod")
	vp.SetDefault("redis.addr", "")
	vp.SetDefault("redis.password", "")
	vp.SetDefault("redis.db", 0)
	vp.SetDefault("redis.prefix", "sipcore:aor:")
	vp.SetDefault("mysql.dsn", "")
	vp.SetDefault("mysql.queue", 4096)
	vp.SetDefault("metrics.listen", ":9090")
	vp.SetDefault("metrics.namespace", "sipcore")
}

// loadConfig reads path when it is not empty. Environment variables win, for
// example SIPCORE_REDIS_ADDR for redis.addr.
func loadConfig(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	vp.SetEnvPrefix("sipcore")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if path != "" {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := &Config{}
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if cfg.MinExpires > cfg.MaxExpires {
		return nil, errors.Errorf("minexpires %d above maxexpires %d", cfg.MinExpires, cfg.MaxExpires)
	}

	return cfg, nil
}
