package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量覆盖前缀，如 QUANTBT_APP_HTTP_ADDR 覆盖 app.http_addr。
const EnvPrefix = "QUANTBT"

// pathKeys 中的相对路径按声明它的配置文件所在目录解析，而不是进程工作目录。
var pathKeys = []string{
	"app.log_path",
	"data.cache_path",
	"data.csv_dir",
	"results.db_path",
	"presets.path",
}

// Load 读取配置文件（含 include 链），应用默认值并校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := mergeLayer(v, abs, make(map[string]bool), make(map[string]bool)); err != nil {
		return nil, err
	}
	// 仅对文件中出现过的键生效。
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	for _, key := range v.AllKeys() {
		setKeys.mark(key)
	}
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置，配置文件缺失时使用。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(make(keySet))
	return &cfg
}

// mergeLayer 先按顺序合并 include 的文件，再合并文件自身；同一文件只合并一次。
func mergeLayer(v *viper.Viper, path string, merged, visiting map[string]bool) error {
	path = filepath.Clean(path)
	if visiting[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if merged[path] {
		return nil
	}
	layer, err := readLayer(path)
	if err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	visiting[path] = true
	for _, inc := range layer.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := mergeLayer(v, inc, merged, visiting); err != nil {
			return err
		}
	}
	delete(visiting, path)
	merged[path] = true
	return v.MergeConfigMap(layer.AllSettings())
}

func readLayer(path string) (*viper.Viper, error) {
	layer := viper.New()
	layer.SetConfigFile(path)
	if err := layer.ReadInConfig(); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for _, key := range pathKeys {
		if !layer.IsSet(key) {
			continue
		}
		p := strings.TrimSpace(layer.GetString(key))
		if p == "" || filepath.IsAbs(p) {
			continue
		}
		layer.Set(key, filepath.Join(dir, p))
	}
	return layer, nil
}
