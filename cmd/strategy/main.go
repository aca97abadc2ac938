package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	_ "strategykit/internal/example"
	"strategykit/internal/logger"
	"strategykit/internal/ops"
	"strategykit/internal/runner"
)

type options struct {
	server   string
	module   string
	strategy string
	tools    string
	mode     string
	param    string
	config   string
	profile  string
}

func main() {
	var opt options
	flag.StringVar(&opt.server, "server", "", "api service to start")
	flag.StringVar(&opt.module, "module", "", "parameter tuning module to start")
	flag.StringVar(&opt.strategy, "strategy", "", "strategy to run")
	flag.StringVar(&opt.tools, "tools", "", "tool script to run")
	flag.StringVar(&opt.mode, "mode", "", "run mode (test or master)")
	flag.StringVar(&opt.param, "param", "", "strategy or service parameter id")
	flag.StringVar(&opt.config, "config", "", "TOML config path (default: config/$CONFIG_NAME.toml)")
	flag.StringVar(&opt.profile, "profile", "", "pyroscope server address, e.g. http://localhost:4040 (empty=disable)")
	flag.Parse()

	if err := run(opt); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(opt options) error {
	mode, err := runner.ParseMode(opt.mode)
	if err != nil {
		return err
	}

	target, err := runner.Select(opt.server, opt.module, opt.tools, opt.strategy, opt.param)
	if err != nil {
		return err
	}

	path := ops.ResolvePath(opt.config)
	if path == "" {
		log.Printf("warning: no config loaded, %s is not set", ops.EnvConfigName)
	}
	cfg, err := ops.Load(path)
	if err != nil {
		return err
	}

	lg, err := logger.New(logger.Options{
		Dir:           cfg.Log.Dir,
		Name:          target.LogDirName(),
		RetentionDays: cfg.Log.RetentionDays,
		Console:       true,
	})
	if err != nil {
		return err
	}

	app := runner.NewApp(mode, cfg, lg)
	defer func() {
		if err := app.Close(); err != nil {
			logs.Errorf("close app, err: %+v", err)
		}
	}()

	if opt.profile != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "strategykit/" + string(target.Kind) + "/" + target.Name,
			ServerAddress:   opt.profile,
			Tags: map[string]string{
				"mode":  string(mode),
				"param": target.Param,
			},
			Logger: profileLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start failed: %w", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runner.Default.Run(ctx, app, target)
}

type profileLogger struct{}

func (profileLogger) Infof(string, ...any)  {}
func (profileLogger) Debugf(string, ...any) {}
func (profileLogger) Errorf(format string, args ...any) {
	logs.Errorf("pyroscope: "+format, args...)
}
