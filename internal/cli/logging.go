package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/config"
	"chartlab-api/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	index := "not configured"
	if cfg.Index.Enabled() {
		index = fmt.Sprintf("%s (onConflict=%s, batch=%d)", cfg.Index.Driver, cfg.Index.OnConflict, cfg.Index.BatchSize)
	}
	refresh := "disabled"
	if cfg.Refresh.Enabled() {
		refresh = fmt.Sprintf("%d series, schedule %q", len(cfg.Refresh.Watchlist), cfg.Refresh.Schedule)
	}

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Data dir: %s", cfg.DataDir),
		fmt.Sprintf("Bar index: %s", index),
		fmt.Sprintf("Redis: %s", presence(strings.TrimSpace(cfg.Redis.Host) != "")),
		fmt.Sprintf("TTL (short/medium/long): %ds / %ds / %ds", cfg.TTL.Short, cfg.TTL.Medium, cfg.TTL.Long),
		fmt.Sprintf("Jobs: %s (max %d)", cfg.JobsPath(), cfg.Jobs.MaxJobs),
		fmt.Sprintf("Refresh: %s", refresh),
		sectionLine("Market config", cfg.Market),
		sectionLine("Indicator config", cfg.Indicator),
	}

	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
