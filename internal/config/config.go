package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/rest"

	"chartlab-api/internal/importer"
	"chartlab-api/internal/model"
	"chartlab-api/internal/refresher"
	"chartlab-api/pkg/confkit"
	indicatorpkg "chartlab-api/pkg/indicator"
	marketpkg "chartlab-api/pkg/market"
)

// IndexConf configures the optional SQL bar index.
type IndexConf struct {
	// Driver is sqlite or postgres; empty disables the index.
	Driver string `json:",optional"`
	// DSN is a file path for sqlite, a URL for postgres.
	DSN        string `json:",optional"`
	OnConflict string `json:",default=ignore,options=ignore|replace"`
	BatchSize  int    `json:",default=500"`
}

// Enabled reports whether an index backend is configured.
func (c IndexConf) Enabled() bool {
	return strings.TrimSpace(c.Driver) != ""
}

type CacheTTL struct {
	Short  int `json:",default=10"` // seconds
	Medium int `json:",default=60"`
	Long   int `json:",default=300"`
}

const defaultJobsFile = "jobs/import-jobs.json"

// JobsConf configures the import job table.
type JobsConf struct {
	// File is relative to DataDir.
	File    string `json:",default=jobs/import-jobs.json"`
	MaxJobs int    `json:",default=200"`
}

type Config struct {
	rest.RestConf
	// Env indicates the running environment: test | dev | prod
	Env string `json:",default=test"`
	// DataDir is the storage root, relative to the config file unless absolute.
	DataDir string           `json:",default=../data"`
	Index   IndexConf        `json:",optional"`
	Redis   redis.RedisConf  `json:",optional"`
	TTL     CacheTTL         `json:",optional"`
	Jobs    JobsConf         `json:",optional"`
	Import  importer.Config  `json:",optional"`
	Refresh refresher.Config `json:",optional"`

	Market    confkit.Section[marketpkg.Config]    `json:",optional"`
	Indicator confkit.Section[indicatorpkg.Config] `json:",optional"`

	mainPath string
	baseDir  string
}

func (c *Config) IsTestEnv() bool {
	return c.Env == "test" || c.Env == ""
}

func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	var cfg Config
	if err := conf.Load(absPath, &cfg, conf.UseEnv()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", absPath, err)
	}

	cfg.mainPath = absPath
	cfg.baseDir = filepath.Dir(absPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.DataDir = confkit.ResolvePath(cfg.baseDir, cfg.DataDir)
	if err := cfg.hydrateSections(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "", "test", "dev", "prod":
		if strings.TrimSpace(c.Env) == "" {
			c.Env = "test"
		}
	default:
		return errors.New("config: env must be one of test|dev|prod")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: dataDir is required")
	}
	if c.Index.Enabled() {
		if _, err := model.ParseDialect(c.Index.Driver); err != nil {
			return fmt.Errorf("config: index.driver: %w", err)
		}
		if strings.TrimSpace(c.Index.DSN) == "" {
			return errors.New("config: index.dsn is required when index.driver is set")
		}
		if _, err := model.ParseConflictPolicy(c.Index.OnConflict); err != nil {
			return fmt.Errorf("config: index.onConflict: %w", err)
		}
	}
	if c.Jobs.MaxJobs < 0 {
		return errors.New("config: jobs.maxJobs must not be negative")
	}
	return c.validateTTL()
}

func (c *Config) validateTTL() error {
	if c.TTL.Short <= 0 {
		return errors.New("config: ttl.short must be positive")
	}
	if c.TTL.Medium <= 0 {
		return errors.New("config: ttl.medium must be positive")
	}
	if c.TTL.Long <= 0 {
		return errors.New("config: ttl.long must be positive")
	}
	return nil
}

func (c *Config) hydrateSections() error {
	base := c.baseDir

	if err := c.Market.Hydrate(base, marketpkg.LoadConfig); err != nil {
		return fmt.Errorf("load market config: %w", err)
	}
	if err := c.Indicator.Hydrate(base, indicatorpkg.LoadConfig); err != nil {
		return fmt.Errorf("load indicator config: %w", err)
	}
	return nil
}

// CandlesDir is the root of the segment store.
func (c *Config) CandlesDir() string {
	return filepath.Join(c.DataDir, "candles")
}

// JobsPath is the job snapshot file.
func (c *Config) JobsPath() string {
	file := c.Jobs.File
	if strings.TrimSpace(file) == "" {
		file = defaultJobsFile
	}
	return confkit.ResolvePath(c.DataDir, file)
}

// IndexDSN resolves a relative sqlite path against DataDir.
func (c *Config) IndexDSN() string {
	if d, err := model.ParseDialect(c.Index.Driver); err == nil && d == model.DialectSQLite {
		return confkit.ResolvePath(c.DataDir, c.Index.DSN)
	}
	return c.Index.DSN
}

func (c *Config) MainPath() string {
	return c.mainPath
}

func (c *Config) BaseDir() string {
	return c.baseDir
}
