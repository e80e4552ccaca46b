package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/env"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Init()

	Debug(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Debugf(template string, args ...any)

	Info(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Infof(template string, args ...any)

	Warn(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Warnf(template string, args ...any)

	Error(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Errorf(template string, args ...any)

	Fatal(cat Category, sub SubCategory, msg string, extra map[ExtraKey]any)
	Fatalf(template string, args ...any)
}

type LoggerConfig struct {
	FilePath string
	Encoding string
	Level    string
	Logger   string
}

func NewDefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		FilePath: env.GetString("LOGGER_FILE_PATH", "./logs/"),
		Encoding: env.GetString("LOGGER_ENCODING", "json"),
		Level:    env.GetString("LOGGER_LEVEL", "debug"),
		Logger:   env.GetString("LOGGER_LOGGER", "zap"),
	}
}

func NewLogger(cfg *LoggerConfig) Logger {
	var l Logger
	switch cfg.Logger {
	case "zap":
		l = newZapLogger(cfg)
	case "zerolog":
		l = newZeroLogger(cfg)
	default:
		panic("logger not supported: supported loggers: [zap, zerolog]")
	}

	l.Init()
	return l
}

// newWriter tees stdout with a rotated file under cfg.FilePath. An empty
// FilePath logs to stdout only.
func newWriter(cfg *LoggerConfig) io.Writer {
	if strings.TrimSpace(cfg.FilePath) == "" {
		return os.Stdout
	}

	name := filepath.Join(cfg.FilePath, time.Now().Format("2006-01-02")+".log")
	rotator := &lumberjack.Logger{
		Filename:   name,
		MaxSize:    10, // megabytes
		MaxAge:     7,  // days
		MaxBackups: 5,
		LocalTime:  true,
		Compress:   true,
	}

	return io.MultiWriter(os.Stdout, rotator)
}
