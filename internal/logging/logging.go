// Package logging builds the zap logger shared by every Crier component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Opts configures New.
type Opts struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Dir    string // when set, output is also written to <Dir>/crier-YYYY-MM-DD.log
	Now    func() time.Time
}

// New builds a zap logger. JSON output uses the production encoder config,
// console output the development one.
func New(opts Opts) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(orDefault(opts.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("logging: parse level: %w", err)
	}

	var cfg zap.Config
	switch orDefault(opts.Format, "json") {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.Dir != "" {
		path, err := DailyFile(opts.Dir, opts.Now)
		if err != nil {
			return nil, err
		}
		cfg.OutputPaths = append(cfg.OutputPaths, path)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger, nil
}

// DailyFile ensures dir exists and returns the path of today's log file.
func DailyFile(dir string, now func() time.Time) (string, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("logging: create dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("crier-%s.log", now().Format("2006-01-02"))
	return filepath.Join(dir, name), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
