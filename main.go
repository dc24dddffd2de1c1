package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-router/internal/cache"
	"github.com/any-hub/edge-router/internal/config"
	"github.com/any-hub/edge-router/internal/logging"
	"github.com/any-hub/edge-router/internal/proxy"
	"github.com/any-hub/edge-router/internal/rewrite"
	"github.com/any-hub/edge-router/internal/server"
	"github.com/any-hub/edge-router/internal/server/routes"
	"github.com/any-hub/edge-router/internal/version"
)

const defaultConfigFile = "config.toml"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["credentials"] = cfg.CredentialModes()
		fields["redirects"] = len(cfg.Rules.Redirects)
		fields["scripts"] = len(cfg.Scripts)
		fields["cache_backend"] = cfg.Global.CacheBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	app, closeStore, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化路由失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("cache_close_failed")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = cfg.CredentialModes()
	fields["cache_backend"] = cfg.Global.CacheBackend
	fields["scripts"] = len(cfg.Scripts)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 按“配置 → 源站注册表 → 边缘缓存 → 路由 handler → Fiber app”的顺序装配，
// 所有请求共享同一份路由表、http.Client 与缓存实例。返回的 closer 负责释放缓存后端。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, func() error, error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("构建源站注册表失败: %w", err)
	}

	store, closeStore, err := server.NewCacheStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化边缘缓存失败: %w", err)
	}

	policy, err := rewrite.NewCachePolicy(
		cfg.Global.StaticMaxAge.DurationValue(),
		cfg.Global.StaleWhileRevalidate.DurationValue(),
		cfg.Global.ImmutablePrefixes,
	)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	tables := cfg.Tables()
	var scripts *proxy.ScriptProxy
	if len(tables.Scripts) > 0 {
		scripts = proxy.NewScriptProxy(server.NewUpstreamClient(cfg), cache.NewTTLWriter(store), logger)
	}

	handler, err := proxy.NewHandler(proxy.Options{
		Registry:     registry,
		Tables:       tables,
		Policy:       policy,
		Scripts:      scripts,
		Logger:       logger,
		MirrorHeader: cfg.Global.CookieMirrorHeader,
		APIPrefixes:  cfg.Global.APIPrefixes,
	})
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewForwarder(handler, logger),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	routes.RegisterDiagnosticRoutes(app, registry, tables, cfg.Global.CookieMirrorHeader)

	return app, closeStore, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 未指定配置且当前目录没有 config.toml 时仅使用环境变量。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("edge-router", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 EDGE_ROUTER_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("EDGE_ROUTER_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		} else if !errors.Is(err, os.ErrNotExist) {
			return cliOptions{}, fmt.Errorf("检查默认配置失败: %w", err)
		}
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
