package config

import (
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

type option struct {
	cfg        string
	name       string
	envPrefix  string
	configType string
	defaults   map[string]interface{}
}

type Option func(*option)

func WithConfigFile(cfg string) Option {
	return func(o *option) {
		o.cfg = cfg
	}
}

func WithConfigType(configType string) Option {
	return func(o *option) {
		o.configType = configType
	}
}

func WithName(name string) Option {
	return func(o *option) {
		o.name = name
	}
}

func WithEnvPrefix(envPrefix string) Option {
	return func(o *option) {
		o.envPrefix = envPrefix
	}
}

// WithDefaults 配置缺省值,配置文件和环境变量均未设置时生效
func WithDefaults(defaults map[string]interface{}) Option {
	return func(o *option) {
		o.defaults = defaults
	}
}

// LoadConfig init Config
func LoadConfig(opts ...Option) error {
	return Load(viper.GetViper(), opts...)
}

// Load 将配置读入v,环境变量中的"."替换为"_",例如 JOBSCHEDULER_MYSQL_IP
func Load(v *viper.Viper, opts ...Option) error {
	o := &option{
		envPrefix:  "cloud",
		configType: "yaml",
	}
	for _, opt := range opts {
		opt(o)
	}
	for key, value := range o.defaults {
		v.SetDefault(key, value)
	}
	if o.cfg != "" {
		// Use config file from the flag.
		v.SetConfigFile(o.cfg)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			return err
		}
		v.AddConfigPath(home)
		v.SetConfigName(o.name)
		v.SetConfigType(o.configType)
	}

	v.SetEnvPrefix(o.envPrefix) // set environment variables prefix to avoid conflict
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	return v.ReadInConfig()
}
