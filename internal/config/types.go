package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/edge-router/internal/routing"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 缓存后端取值。
const (
	CacheBackendFile   = "file"
	CacheBackendSQLite = "sqlite"
	CacheBackendNone   = "none"
)

// GlobalConfig 描述进程级运行参数，两个源站共享同一份设置。
type GlobalConfig struct {
	ListenPort           int      `mapstructure:"ListenPort"`
	LogLevel             string   `mapstructure:"LogLevel"`
	LogFilePath          string   `mapstructure:"LogFilePath"`
	LogMaxSize           int      `mapstructure:"LogMaxSize"`
	LogMaxBackups        int      `mapstructure:"LogMaxBackups"`
	LogCompress          bool     `mapstructure:"LogCompress"`
	StoragePath          string   `mapstructure:"StoragePath"`
	CacheBackend         string   `mapstructure:"CacheBackend"`
	CacheDSN             string   `mapstructure:"CacheDSN"`
	UpstreamTimeout      Duration `mapstructure:"UpstreamTimeout"`
	PublicURL            string   `mapstructure:"PublicURL"`
	CookieMirrorHeader   string   `mapstructure:"CookieMirrorHeader"`
	StaticMaxAge         Duration `mapstructure:"StaticMaxAge"`
	StaleWhileRevalidate Duration `mapstructure:"StaleWhileRevalidate"`
	ImmutablePrefixes    []string `mapstructure:"ImmutablePrefixes"`
	APIPrefixes          []string `mapstructure:"APIPrefixes"`
}

// OriginConfig 描述一个源站（静态站点或 WordPress）。
type OriginConfig struct {
	URL      string `mapstructure:"URL"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
	// ResolveOverride 为 host:port，设置后直接拨号到该地址，绕过源站前的共享缓存。
	ResolveOverride string `mapstructure:"ResolveOverride"`
}

// RulesConfig 是路由表的配置形态，留空的字段会回退到内置默认表。
type RulesConfig struct {
	NoCachePaths      []string               `mapstructure:"NoCachePaths"`
	DynamicPaths      []string               `mapstructure:"DynamicPaths"`
	DynamicExtensions []string               `mapstructure:"DynamicExtensions"`
	AjaxQueryMarker   string                 `mapstructure:"AjaxQueryMarker"`
	PathRewrites      []routing.PathRewrite  `mapstructure:"PathRewrite"`
	Redirects         []routing.RedirectRule `mapstructure:"Redirect"`
}

// ScriptConfig 声明一个由边缘缓存代理的第三方脚本。
type ScriptConfig struct {
	Path        string   `mapstructure:"Path"`
	URL         string   `mapstructure:"URL"`
	MaxAge      Duration `mapstructure:"MaxAge"`
	ContentType string   `mapstructure:"ContentType"`
}

// Config 是 TOML 文件与环境变量合并后的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Static  OriginConfig   `mapstructure:"Static"`
	Dynamic OriginConfig   `mapstructure:"Dynamic"`
	Rules   RulesConfig    `mapstructure:"Rules"`
	Scripts []ScriptConfig `mapstructure:"Script"`
}

// HasCredentials 表示当前源站是否配置了完整的 Basic 凭证。
func (o OriginConfig) HasCredentials() bool {
	return o.Username != "" && o.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (o OriginConfig) AuthMode() string {
	if o.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回两个源站的鉴权模式摘要，例如 dynamic:credentialed。
func (c *Config) CredentialModes() []string {
	if c == nil {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:%s", routing.OriginStatic, c.Static.AuthMode()),
		fmt.Sprintf("%s:%s", routing.OriginDynamic, c.Dynamic.AuthMode()),
	}
}

// Tables 将路由配置与脚本目录转换为不可变的路由表。
func (c *Config) Tables() routing.Tables {
	scripts := make([]routing.ScriptRoute, 0, len(c.Scripts))
	for _, s := range c.Scripts {
		scripts = append(scripts, routing.ScriptRoute{
			Path:        s.Path,
			URL:         s.URL,
			MaxAge:      s.MaxAge.DurationValue(),
			ContentType: s.ContentType,
		})
	}
	return routing.Tables{
		NoCachePaths:      append([]string(nil), c.Rules.NoCachePaths...),
		DynamicPaths:      append([]string(nil), c.Rules.DynamicPaths...),
		DynamicExtensions: append([]string(nil), c.Rules.DynamicExtensions...),
		AjaxQueryMarker:   c.Rules.AjaxQueryMarker,
		PathRewrites:      append([]routing.PathRewrite(nil), c.Rules.PathRewrites...),
		Redirects:         append([]routing.RedirectRule(nil), c.Rules.Redirects...),
		Scripts:           scripts,
	}
}
