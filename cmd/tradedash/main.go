package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/tradedash/internal/controlplane/server"
	"github.com/betbot/tradedash/internal/dashboard"
	"github.com/betbot/tradedash/internal/metrics"
	"github.com/betbot/tradedash/pkg/config"
	"github.com/betbot/tradedash/pkg/logger"
	"github.com/betbot/tradedash/pkg/shutdown"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	// .env 可选，不存在时直接使用真实环境变量
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	listen := flag.String("listen", "", "覆盖控制面监听地址（例如 127.0.0.1:8090）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
		logrus.Infof("使用配置文件: %s", *configPath)
	} else if p, ok := firstExistingFile("configs/tradedash.yaml", "configs/tradedash.yml"); ok {
		config.SetConfigPath(p)
		logrus.Infof("使用默认配置文件: %s", p)
	} else {
		logrus.Warnf("未指定配置文件，将使用环境变量和默认值")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ControlPlaneListen = *listen
	}

	logConfig := logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
		LogByDay:   cfg.LogByDay,
	}
	if err := logger.Init(logConfig); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}
	stopRotation := make(chan struct{})
	logger.StartLogRotationChecker(logConfig, stopRotation)

	logrus.Info("🚀 启动 tradedash ...")
	logrus.Infof("REST=%s stream=%s 标的=%v", cfg.API.BaseURL, cfg.Stream.URL, cfg.Symbols)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sm := shutdown.NewManager()
	sm.OnShutdown("log rotation", func(ctx context.Context) error {
		close(stopRotation)
		return nil
	})

	if cfg.MetricsListen != "" {
		if _, err := metrics.StartAsync(rootCtx, cfg.MetricsListen); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("📊 metrics/pprof 启用: listen=%s (expvar:/debug/vars, pprof:/debug/pprof)", cfg.MetricsListen)
		}
	}

	dash, err := dashboard.New(cfg)
	if err != nil {
		logrus.Errorf("创建 dashboard 失败: %v", err)
		os.Exit(1)
	}
	sm.OnShutdown("dashboard", func(ctx context.Context) error {
		return dash.Close()
	})

	if err := dash.Start(rootCtx); err != nil {
		logrus.Errorf("启动 dashboard 失败: %v", err)
		os.Exit(1)
	}

	if cfg.ControlPlaneListen != "" {
		cp := server.New(server.Config{Listen: cfg.ControlPlaneListen, RequestTimeout: cfg.API.Timeout + 5*time.Second}, dash)
		if _, err := cp.Start(); err != nil {
			logrus.Errorf("控制面启动失败: %v", err)
			os.Exit(1)
		}
		sm.OnShutdown("controlplane", cp.Shutdown)
	}

	logrus.Infof("当前会话状态: %s", dash.State().Session)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	logrus.Infof("收到信号 %v，开始退出", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sm.Shutdown(ctx)
	rootCancel()
	logrus.Info("👋 tradedash 已退出")
}
