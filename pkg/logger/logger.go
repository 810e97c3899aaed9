package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// currentDay 当前按天命名使用的日期（2006-01-02）
	currentDay string
	// logMu 日志文件切换锁
	logMu sync.Mutex
	// now 便于测试替换
	now = time.Now
)

const timestampFormat = "06-01-02 15:04:05" // 格式: yy-mm-dd HH:MM:ss

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	LogByDay   bool   // 是否按天命名日志文件：logs/tradedash_2026-10-19.log
	NoConsole  bool   // 不输出到 stdout（测试或后台运行时使用）
}

// dayLogFileName 按日期生成日志文件名
func dayLogFileName(basePath, day string) string {
	dir := filepath.Dir(basePath)
	baseName := filepath.Base(basePath)
	ext := filepath.Ext(baseName)
	nameWithoutExt := baseName[:len(baseName)-len(ext)]

	if dir == "." || dir == "" {
		return fmt.Sprintf("%s_%s%s", nameWithoutExt, day, ext)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", nameWithoutExt, day, ext))
}

func newFormatter(forceColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		ForceColors:     forceColors,
	}
}

// build 构建 logger 和输出（调用方持有 logMu）
func build(config Config) (*logrus.Logger, io.Writer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter(config.OutputFile == ""))

	var writers []io.Writer
	if !config.NoConsole {
		writers = append(writers, os.Stdout)
	}

	if config.OutputFile != "" {
		logFilePath := config.OutputFile
		if config.LogByDay {
			currentDay = now().Format("2006-01-02")
			logFilePath = dayLogFileName(config.OutputFile, currentDay)
		}

		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err != nil {
			return nil, nil, err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = logFilePath
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	out := io.MultiWriter(writers...)
	logger.SetOutput(out)
	return logger, out, nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger, out, err := build(config)
	if err != nil {
		return err
	}

	// 同时设置全局 logrus，组件里 logrus.WithField("component", ...) 创建的 entry 也写入同一输出
	logrus.SetOutput(out)
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(newFormatter(config.OutputFile == ""))

	Logger = logger
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/tradedash.log",
		MaxSize:    100, // 100MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
		LogByDay:   true,
	})
}

// CheckAndRotateLog 日期变化时切换到新的日志文件
func CheckAndRotateLog(config Config) error {
	if !config.LogByDay || config.OutputFile == "" {
		return nil
	}

	logMu.Lock()
	day := now().Format("2006-01-02")
	if day == currentDay {
		logMu.Unlock()
		return nil
	}
	old := currentLogFile
	logger, out, err := build(config)
	if err != nil {
		logMu.Unlock()
		return err
	}
	logrus.SetOutput(out)
	Logger = logger
	newFile := currentLogFile
	logMu.Unlock()

	Logger.Infof("日志文件已切换: %s -> %s", old, newFile)
	return nil
}

// StartLogRotationChecker 启动日志轮转检查器（后台任务），stop 关闭后退出
func StartLogRotationChecker(config Config, stop <-chan struct{}) {
	if !config.LogByDay || config.OutputFile == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := CheckAndRotateLog(config); err != nil {
					Errorf("检查日志轮转失败: %v", err)
				}
			}
		}
	}()
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
