package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartlab-api/pkg/confkit"
	_ "chartlab-api/pkg/market/dukascopy"
	_ "chartlab-api/pkg/market/hyperliquid"
	_ "chartlab-api/pkg/market/synthetic"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadResolvesPathsAndSections(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	t.Setenv("CHARTLAB_FEED_URL", "http://feed.local/datafeed")
	dir := t.TempDir()
	writeFile(t, dir, "market.yaml", `
default: feed
providers:
  feed:
    type: dukascopy
    base_url: ${CHARTLAB_FEED_URL}
    rate_limit: 5
    symbols: [EURUSD]
`)
	writeFile(t, dir, "indicator.yaml", "dir: indicators\ntimeout: 3s\n")
	main := writeFile(t, dir, "etc/chartlab.yaml", `
Name: chartlab-api
Host: 127.0.0.1
Port: 8899
DataDir: ../data
Index:
  Driver: sqlite
  DSN: index.db
Market:
  File: ../market.yaml
Indicator:
  File: ../indicator.yaml
`)

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Env)
	assert.True(t, cfg.IsTestEnv())
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "data", "candles"), cfg.CandlesDir())
	assert.Equal(t, filepath.Join(dir, "data", "jobs", "import-jobs.json"), cfg.JobsPath())
	assert.Equal(t, filepath.Join(dir, "data", "index.db"), cfg.IndexDSN())
	assert.Equal(t, "ignore", cfg.Index.OnConflict)
	assert.Equal(t, 300, cfg.TTL.Long)

	require.NotNil(t, cfg.Market.Value)
	feed := cfg.Market.Value.Providers["feed"]
	require.NotNil(t, feed)
	assert.Equal(t, 5.0, feed.RateLimit)
	assert.Equal(t, "http://feed.local/datafeed", feed.BaseURL)
	assert.Equal(t, []string{"eurusd"}, feed.Symbols)

	require.NotNil(t, cfg.Indicator.Value)
	assert.Equal(t, filepath.Join(dir, "indicators"), cfg.Indicator.Value.Dir)
	assert.Equal(t, filepath.Join(dir, "indicator.yaml"), cfg.Indicator.File)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{DataDir: "./data"}
		c.TTL = CacheTTL{Short: 10, Medium: 60, Long: 300}
		return c
	}

	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"env":          func(c *Config) { c.Env = "staging" },
		"data dir":     func(c *Config) { c.DataDir = " " },
		"driver":       func(c *Config) { c.Index = IndexConf{Driver: "mysql", DSN: "x"} },
		"dsn":          func(c *Config) { c.Index = IndexConf{Driver: "sqlite"} },
		"conflict":     func(c *Config) { c.Index = IndexConf{Driver: "sqlite", DSN: "x", OnConflict: "merge"} },
		"ttl.short":    func(c *Config) { c.TTL.Short = 0 },
		"jobs.maxJobs": func(c *Config) { c.Jobs.MaxJobs = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadRepositoryConfig(t *testing.T) {
	t.Setenv("NO_DOTENV", "1")
	path, err := confkit.ProjectPath("etc/chartlab.yaml")
	require.NoError(t, err)
	if _, err := os.Stat(path); err != nil {
		t.Skip("etc/chartlab.yaml not present")
	}
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Market.Value)
	assert.NotEmpty(t, cfg.Market.Value.Default)
	require.NotNil(t, cfg.Indicator.Value)
	assert.DirExists(t, cfg.Indicator.Value.Dir)
}
