package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var (
	storeTypes = []string{"memory", "redis", "sql", "tiered"}
	drivers    = []string{"postgres", "mysql", "sqlite"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// Validate 检查配置的一致性，一次返回全部问题
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	s := c.Server
	if !validPort(s.HTTPPort) {
		fail("server.http_port %d out of range", s.HTTPPort)
	}
	if s.MetricsPort != 0 {
		if !validPort(s.MetricsPort) {
			fail("server.metrics_port %d out of range", s.MetricsPort)
		} else if s.MetricsPort == s.HTTPPort {
			fail("server.metrics_port must differ from server.http_port")
		}
	}
	if s.RateLimitRPS < 0 {
		fail("server.rate_limit_rps must be >= 0")
	}

	if c.LLM.BaseURL == "" {
		fail("llm.base_url is required")
	}
	if c.LLM.MaxRetries < 0 {
		fail("llm.max_retries must be >= 0")
	}

	chat := c.Chat
	if chat.DefaultMaxRounds <= 0 {
		fail("chat.default_max_rounds must be positive")
	}
	if chat.AsyncWorkers < 0 || chat.AsyncQueueSize < 0 {
		fail("chat.async_workers and chat.async_queue_size must be >= 0")
	}
	if chat.MaxResults < 0 {
		fail("chat.max_results must be >= 0")
	}
	switch st := chat.Store.Type; {
	case !slices.Contains(storeTypes, st):
		fail("chat.store.type %q is not one of %s", st, strings.Join(storeTypes, ", "))
	case (st == "redis" || st == "tiered") && !c.Redis.Enabled:
		fail("chat.store.type %s requires redis.enabled", st)
	}
	if st := chat.Store.Type; (st == "sql" || st == "tiered") && !c.Database.Enabled {
		fail("chat.store.type %s requires database.enabled", st)
	}

	if c.Database.Enabled && !slices.Contains(drivers, c.Database.Driver) {
		fail("database.driver %q is not one of %s", c.Database.Driver, strings.Join(drivers, ", "))
	}
	if !slices.Contains(logLevels, c.Log.Level) {
		fail("log.level %q is not one of %s", c.Log.Level, strings.Join(logLevels, ", "))
	}
	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		fail("telemetry.sample_rate %v must be within [0, 1]", r)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// DSN 返回驱动对应的连接串；未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		pairs := []struct{ k, v string }{
			{"host", d.Host},
			{"port", strconv.Itoa(d.Port)},
			{"user", d.User},
			{"password", d.Password},
			{"dbname", d.Name},
			{"sslmode", d.SSLMode},
		}
		parts := make([]string, 0, len(pairs))
		for _, p := range pairs {
			if p.v != "" {
				parts = append(parts, p.k+"="+p.v)
			}
		}
		return strings.Join(parts, " ")
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		mc.DBName = d.Name
		mc.ParseTime = true
		return mc.FormatDSN()
	case "sqlite":
		return d.Name
	}
	return ""
}
