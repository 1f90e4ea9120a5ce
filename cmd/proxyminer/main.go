package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"openweb_proxy/internal/shared/config"
	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/internal/shared/types"
	manager "openweb_proxy/proxypool"
	"openweb_proxy/proxypool/detector"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "proxyminer",
		Usage:     "Find, check and keep public proxies that are not flagged as proxies.",
		ArgsUsage: "[proxies file]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "proxyminer.ini",
				Usage:   "Path to the ini configuration file (missing file keeps the defaults).",
			},
			&cli.BoolFlag{
				Name:    "web",
				Aliases: []string{"w"},
				Usage:   "Pull proxies from the Web instead of the proxies file.",
			},
			&cli.StringFlag{
				Name:    "protocol",
				Aliases: []string{"p"},
				Usage:   "Proxy protocol: https or socks5.",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "Per request timeout.",
			},
			&cli.StringFlag{
				Name:  "checker",
				Usage: "URL fetched through each proxy by the application check.",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of concurrent proxy checks.",
			},
			&cli.BoolFlag{
				Name:    "bench",
				Aliases: []string{"b"},
				Usage:   "Benchmark every source in isolation; nothing is written.",
			},
			&cli.StringFlag{
				Name:  "is-proxy",
				Usage: "Only ask the detection service whether `IP` is a known proxy.",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Debug logging.",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Hide the progress bar.",
			},
		},
		Action: run,
	}
}

// loadConfig 合并 ini 文件、环境变量与命令行参数，命令行优先。
func loadConfig(c *cli.Context) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := config.LoadIni(cfg, c.String("config")); err != nil {
		return nil, err
	}

	if c.Args().Present() {
		cfg.ProxiesFile = c.Args().First()
	}
	if c.IsSet("protocol") {
		cfg.Protocol = c.String("protocol")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = c.Duration("timeout")
	}
	if c.IsSet("checker") {
		cfg.CheckURL = c.String("checker")
	}
	if c.IsSet("workers") {
		cfg.MaxWorkers = c.Int("workers")
	}
	if c.Bool("verbose") {
		cfg.LogConf.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize logger: %v", err), 1)
	}

	m, v, err := manager.NewFromConfig(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if !c.Bool("no-progress") {
		v.SetObserver(newProgressObserver(os.Stderr))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case c.IsSet("is-proxy"):
		return isProxy(ctx, m, c.String("is-proxy"), c.App.Writer)
	case c.Bool("bench"):
		return bench(ctx, m, c.App.Writer)
	default:
		return refresh(ctx, m, c.Bool("web"), c.App.Writer)
	}
}

func refresh(ctx context.Context, m *manager.Manager, web bool, out io.Writer) error {
	start := time.Now()
	_, err := m.Run(ctx, web)
	switch {
	case errors.Is(err, manager.ErrNoSurvivors):
		return cli.Exit("no proxy survived the checks", 1)
	case errors.Is(err, detector.ErrDetectionFailed):
		return cli.Exit(fmt.Sprintf("proxy detection service failed: %v", err), 1)
	case err != nil:
		return cli.Exit(err.Error(), 1)
	}

	logger.Info().Dur("elapsed", time.Since(start)).Int("count", m.Proxies().Len()).Msg("Done.")
	if e, ok := m.Random(); ok {
		fmt.Fprintln(out, e.String())
	}
	return nil
}

func bench(ctx context.Context, m *manager.Manager, out io.Writer) error {
	reports, err := m.Benchmark(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTOTAL\tCLEAN\tWORKING\tERROR")
	for _, r := range reports {
		errText := "-"
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", r.Source, r.Total, r.Clean, r.Working, errText)
	}
	return tw.Flush()
}

func isProxy(ctx context.Context, m *manager.Manager, host string, out io.Writer) error {
	flagged, ok, err := m.IsProxy(ctx, host)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if !ok {
		return cli.Exit(fmt.Sprintf("detection service could not resolve %s", host), 1)
	}
	fmt.Fprintf(out, "%s proxy=%t\n", host, flagged)
	return nil
}
