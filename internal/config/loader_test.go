package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/faultline/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.CacheBackend, convey.ShouldEqual, config.BackendMemory)
				convey.So(cfg.DedupeShortTTL, convey.ShouldEqual, time.Minute)
				convey.So(cfg.DedupeLongTTL, convey.ShouldEqual, 24*time.Hour)
				convey.So(cfg.BotThrottleWindow, convey.ShouldEqual, 5*time.Minute)
				convey.So(cfg.NeighborCandidateLimit, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("FAULTLINE_ADDR", ":8080")
			_ = os.Setenv("FAULTLINE_QUEUE_SIZE", "500")
			_ = os.Setenv("FAULTLINE_BOT_THROTTLE_LIMIT", "10")
			_ = os.Setenv("FAULTLINE_BOT_THROTTLE_WINDOW", "1m")
			_ = os.Setenv("FAULTLINE_CACHE_BACKEND", "badger")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.BotThrottleLimit, convey.ShouldEqual, 10)
				convey.So(cfg.BotThrottleWindow, convey.ShouldEqual, time.Minute)
				convey.So(cfg.CacheBackend, convey.ShouldEqual, config.BackendBadger)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
queue_size: 300
worker_count: 24
session_ttl: 30m
`
			tmpFile := createTempConfigFile(t, yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("FAULTLINE_CONFIG", tmpFile)
			_ = os.Setenv("FAULTLINE_WORKER_COUNT", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkQueueSize, convey.ShouldEqual, 300)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.SessionTTL, convey.ShouldEqual, 30*time.Minute)
				convey.So(cfg.StackCacheTTL, convey.ShouldEqual, time.Hour)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("FAULTLINE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("FAULTLINE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with an unknown backend", func() {
			_ = os.Setenv("FAULTLINE_QUEUE_BACKEND", "kafka")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the long dedupe TTL is not longer than the short one", func() {
			_ = os.Setenv("FAULTLINE_DEDUPE_LONG_TTL", "30s")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "faultline-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	_ = f.Close()
	return f.Name()
}

func clearConfigEnvVars() {
	for _, key := range []string{
		"FAULTLINE_CONFIG",
		"FAULTLINE_ADDR",
		"FAULTLINE_QUEUE_SIZE",
		"FAULTLINE_WORKER_COUNT",
		"FAULTLINE_BOT_THROTTLE_LIMIT",
		"FAULTLINE_BOT_THROTTLE_WINDOW",
		"FAULTLINE_CACHE_BACKEND",
		"FAULTLINE_QUEUE_BACKEND",
		"FAULTLINE_DEDUPE_LONG_TTL",
	} {
		_ = os.Unsetenv(key)
	}
}
