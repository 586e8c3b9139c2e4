package config

import (
	"path/filepath"

	"jobscheduler/pkg/config"
)

// EnvPrefix 环境变量前缀,例如 JOBSCHEDULER_MYSQL_PASSWORD
const EnvPrefix = "jobscheduler"

var defaults = map[string]interface{}{
	"service.name":    "jobscheduler",
	"mode":            "release",
	"log.level":       "info",
	"log.format":      "console",
	"log.console":     true,
	"log.path":        "",
	"log.max_size":    500,
	"log.max_backups": 30,
	"log.max_age":     30,

	"http.addr": ":8080",

	"mysql.ip":                "127.0.0.1",
	"mysql.port":              "3306",
	"mysql.charset":           "utf8mb4",
	"mysql.max_open_conns":    100,
	"mysql.max_idle_conns":    80,
	"mysql.conn_max_lifetime": 3600,

	"scheduler.thread_count":      10,
	"scheduler.batch_size":        1,
	"scheduler.batch_time_window": "0s",
	"scheduler.idle_wait":         "30s",
	"scheduler.misfire_threshold": "60s",
	"scheduler.retry_delay":       "5s",
	"scheduler.job_log_retention": "720h",

	"redis.enabled": false,
	"redis.addr":    "127.0.0.1:6379",
	"redis.db":      0,
}

// LoadConfig init Config
func LoadConfig(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return config.LoadConfig(
		config.WithConfigFile(absPath),
		config.WithEnvPrefix(EnvPrefix),
		config.WithDefaults(defaults),
	)
}
