package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/edge-router/internal/routing"
)

// envBindings 把部署平台注入的环境变量映射到配置键，环境变量优先于文件。
var envBindings = map[string][]string{
	"Static.URL":              {"STATIC_ORIGIN"},
	"Dynamic.URL":             {"DYNAMIC_ORIGIN"},
	"Dynamic.ResolveOverride": {"DYNAMIC_RESOLVE_OVERRIDE"},
	"PublicURL":               {"PUBLIC_URL"},
	"ListenPort":              {"EDGE_ROUTER_PORT", "PORT"},
	"LogLevel":                {"EDGE_ROUTER_LOG_LEVEL"},
}

// Load 读取 TOML 配置（path 为空时仅使用环境变量），注入默认值并完成校验。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyRulesDefaults(&cfg.Rules)
	for i := range cfg.Scripts {
		applyScriptDefaults(&cfg.Scripts[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper) error {
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("绑定环境变量失败 %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheBackend", CacheBackendFile)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("CookieMirrorHeader", "X-Forwarded-Cookie")
	v.SetDefault("StaticMaxAge", "60s")
	v.SetDefault("StaleWhileRevalidate", "300s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	g.CacheBackend = strings.ToLower(strings.TrimSpace(g.CacheBackend))
	if g.CacheBackend == "" {
		g.CacheBackend = CacheBackendFile
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.CookieMirrorHeader) == "" {
		g.CookieMirrorHeader = "X-Forwarded-Cookie"
	}
	if g.StaticMaxAge.DurationValue() == 0 {
		g.StaticMaxAge = Duration(time.Minute)
	}
	if g.ImmutablePrefixes == nil {
		g.ImmutablePrefixes = []string{"/_astro/"}
	}
	if g.APIPrefixes == nil {
		g.APIPrefixes = []string{"/wp-json/"}
	}
	g.PublicURL = strings.TrimSuffix(strings.TrimSpace(g.PublicURL), "/")
}

func applyRulesDefaults(r *RulesConfig) {
	defaults := routing.DefaultTables()
	if r.NoCachePaths == nil {
		r.NoCachePaths = defaults.NoCachePaths
	}
	if r.DynamicPaths == nil {
		r.DynamicPaths = defaults.DynamicPaths
	}
	if r.DynamicExtensions == nil {
		r.DynamicExtensions = defaults.DynamicExtensions
	}
	if strings.TrimSpace(r.AjaxQueryMarker) == "" {
		r.AjaxQueryMarker = defaults.AjaxQueryMarker
	}
	if r.PathRewrites == nil {
		r.PathRewrites = defaults.PathRewrites
	}
	if r.Redirects == nil {
		r.Redirects = defaults.Redirects
	}
	for i := range r.Redirects {
		r.Redirects[i].Kind = routing.RedirectKind(strings.ToLower(strings.TrimSpace(string(r.Redirects[i].Kind))))
	}
}

func applyScriptDefaults(s *ScriptConfig) {
	if strings.TrimSpace(s.ContentType) == "" {
		s.ContentType = routing.DefaultScriptContentType
	}
	if s.MaxAge.DurationValue() == 0 {
		s.MaxAge = Duration(24 * time.Hour)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
