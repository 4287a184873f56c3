package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/img-warp/img-warp/internal/cache"
	"github.com/img-warp/img-warp/internal/config"
	"github.com/img-warp/img-warp/internal/fetch"
	"github.com/img-warp/img-warp/internal/logging"
	"github.com/img-warp/img-warp/internal/magic"
	"github.com/img-warp/img-warp/internal/pipeline"
	"github.com/img-warp/img-warp/internal/rescale"
	"github.com/img-warp/img-warp/internal/server"
	"github.com/img-warp/img-warp/internal/server/routes"
	"github.com/img-warp/img-warp/internal/variant"
	"github.com/img-warp/img-warp/internal/version"
)

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

	logs, err := logging.Init(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	table, err := variant.NewTable(cfg.RescaleURL, cfg.RescaleURLThumbnail, cfg.RescaleURLLarge)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 variant 端点表失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["mode"] = string(table.Mode())
		fields["variants"] = len(table.Configured())
		fields["result"] = "ok"
		logs.Base().WithFields(fields).Info("配置校验通过")
		return 0
	}

	memory := cache.NewMemoryStore(cache.MemoryOptions{
		MaxBytes:   cfg.MaxMemoryCacheSize,
		MaxEntries: cfg.MaxMemoryCacheEntries,
		MaxAge:     cfg.CacheMaxAge.DurationValue(),
	})

	var disk *cache.DiskStore
	if cfg.PersistenceEnabled() {
		disk, err = cache.NewDiskStore(cfg.StoragePath)
		if err != nil {
			fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
			return 1
		}
	}

	// 启动顺序固定为 配置 → 缓存层 → 上游客户端 → pipeline → Fiber server，
	// 所有请求共享同一套缓存与 HTTP 客户端实例。
	httpClient := server.NewUpstreamClient(cfg)
	fetcher := fetch.New(httpClient, cfg.Referer, cfg.FetchTimeout.DurationValue(), logs.For(logging.SubsystemFetch))
	rescaler := rescale.New(httpClient, table, cfg.RescaleTimeout.DurationValue(), logs.For(logging.SubsystemFetch))

	coordinator := pipeline.New(pipeline.Options{
		Table:          table,
		Memory:         memory,
		Disk:           disk,
		Fetcher:        fetcher,
		Rescaler:       rescaler,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff.DurationValue(),
		Logs:           logs,
	})

	// magic URL 仅在 per-variant 模式下开放；generic 模式整个路径就是 origin。
	var resolver server.MagicResolver
	if table.Mode() == variant.ModePerVariant {
		resolver = magic.New(fetcher, cfg.MaxMemoryCacheEntries, logs.For(logging.SubsystemImgs))
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["mode"] = string(table.Mode())
	fields["listen_port"] = cfg.ListenPort
	fields["persistence"] = cfg.PersistenceEnabled()
	fields["referer"] = cfg.HasReferer()
	fields["version"] = version.Full()
	logs.Base().WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, table, coordinator, resolver, memory, logs); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("img-warp", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMG_WARP_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMG_WARP_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	table *variant.Table,
	coordinator *pipeline.Coordinator,
	resolver server.MagicResolver,
	memory *cache.MemoryStore,
	logs *logging.Set,
) error {
	port := cfg.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logs:       logs,
		Table:      table,
		Pipeline:   coordinator,
		Magic:      resolver,
		Stats:      memory,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, table, memory)

	logs.For(logging.SubsystemWarp).WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
