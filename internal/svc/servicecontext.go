package svc

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"

	"chartlab-api/internal/cache"
	"chartlab-api/internal/config"
	"chartlab-api/internal/importer"
	"chartlab-api/internal/jobs"
	"chartlab-api/internal/model"
	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
	indicatorpkg "chartlab-api/pkg/indicator"
	marketpkg "chartlab-api/pkg/market"
	_ "chartlab-api/pkg/market/dukascopy"
	_ "chartlab-api/pkg/market/hyperliquid"
	_ "chartlab-api/pkg/market/synthetic"
	"chartlab-api/pkg/segment"
)

type ServiceContext struct {
	Config config.Config

	Store    *segment.Store
	Writer   *segment.Writer
	Resolver *marketpkg.Resolver
	Registry *jobs.Registry
	Bridge   *indicatorpkg.Bridge

	MarketConfig    *marketpkg.Config
	MarketProviders map[string]marketpkg.Provider
	DefaultMarket   marketpkg.Provider
	// Importers holds one importer per market provider, keyed by provider name.
	Importers map[string]*importer.Importer

	// Optional collaborators, nil when not configured.
	Bars  model.BarsModel
	Cache *cache.WindowCache
}

func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(c)
	if err != nil {
		logx.Must(err)
	}
	return svc
}

func NewServiceContext(c config.Config) (*ServiceContext, error) {
	ctx := context.Background()
	store := segment.NewStore(c.CandlesDir())
	svc := &ServiceContext{
		Config: c,
		Store:  store,
		Writer: segment.NewWriter(store),
	}

	// Only open the bar index when a driver is configured; reads fall back to segments.
	if c.Index.Enabled() {
		dialect, err := model.ParseDialect(c.Index.Driver)
		if err != nil {
			return nil, err
		}
		policy, err := model.ParseConflictPolicy(c.Index.OnConflict)
		if err != nil {
			return nil, err
		}
		bars := model.NewBarsModel(model.NewConn(dialect, c.IndexDSN()), dialect, model.BarsOptions{
			Conflict:  policy,
			BatchSize: c.Index.BatchSize,
		})
		if err := bars.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate bar index: %w", err)
		}
		svc.Bars = bars
	}

	if strings.TrimSpace(c.Redis.Host) != "" {
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		svc.Cache = cache.NewWindowCache(rds, cache.NewTTLSet(c.TTL))
	}

	opts := []marketpkg.ResolverOption{}
	if svc.Bars != nil {
		opts = append(opts, marketpkg.WithIndex(svc.Bars))
	}
	if svc.Cache != nil {
		opts = append(opts, marketpkg.WithCache(svc.Cache))
	}
	svc.Resolver = marketpkg.NewResolver(store, opts...)

	svc.Registry = jobs.NewRegistry(jobs.Options{Path: c.JobsPath(), MaxJobs: c.Jobs.MaxJobs})
	if n, err := svc.Registry.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover import jobs: %w", err)
	} else if n > 0 {
		logx.Infof("svc: %d interrupted import job(s) marked as error", n)
	}

	if err := svc.initMarket(); err != nil {
		return nil, err
	}

	indicatorCfg := c.Indicator.Value
	if indicatorCfg == nil {
		indicatorCfg = &indicatorpkg.Config{Dir: filepath.Join(c.BaseDir(), "indicators")}
	}
	bridge, err := indicatorpkg.NewBridge(*indicatorCfg)
	if err != nil {
		return nil, fmt.Errorf("indicator bridge: %w", err)
	}
	svc.Bridge = bridge
	return svc, nil
}

func (svc *ServiceContext) initMarket() error {
	marketCfg := svc.Config.Market.Value
	if marketCfg == nil {
		logx.Info("svc: no market config, imports are disabled")
		svc.MarketProviders = map[string]marketpkg.Provider{}
		svc.Importers = map[string]*importer.Importer{}
		return nil
	}
	providers, err := marketCfg.BuildProviders()
	if err != nil {
		return fmt.Errorf("build market providers: %w", err)
	}
	svc.MarketConfig = marketCfg
	svc.MarketProviders = providers
	if marketCfg.Default != "" {
		svc.DefaultMarket = providers[marketCfg.Default]
	}

	var index importer.BarIndex
	if svc.Bars != nil {
		index = svc.Bars
	}
	svc.Importers = make(map[string]*importer.Importer, len(providers))
	for name, provider := range providers {
		svc.Importers[name] = importer.New(provider, svc.Writer, svc.Registry, svc.Config.Import,
			importer.WithIndex(index), importer.WithInvalidator(svc.Resolver))
	}
	return nil
}

// Importer returns the importer of a provider. The provider is matched by
// configured name first, then by provider type.
func (svc *ServiceContext) Importer(provider string) (*importer.Importer, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if im, ok := svc.Importers[provider]; ok {
		return im, nil
	}
	if svc.MarketConfig != nil {
		names := make([]string, 0, len(svc.MarketConfig.Providers))
		for name := range svc.MarketConfig.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if strings.EqualFold(svc.MarketConfig.Providers[name].Type, provider) {
				return svc.Importers[name], nil
			}
		}
	}
	return nil, apperr.New(apperr.InputError, "import source %q is not configured", provider)
}

// RefreshImporter returns the importer the watchlist refresh submits to.
func (svc *ServiceContext) RefreshImporter() (*importer.Importer, error) {
	name := svc.Config.Refresh.Provider
	if strings.TrimSpace(name) == "" {
		if svc.DefaultMarket == nil {
			return nil, apperr.New(apperr.InputError, "refresh provider is not set and there is no default market provider")
		}
		name = svc.DefaultMarket.Name()
	}
	return svc.Importer(name)
}

// ResetAsset removes an asset from every store and drops its cached reads.
func (svc *ServiceContext) ResetAsset(ctx context.Context, asset string) error {
	asset, err := segment.NormalizeAsset(asset)
	if err != nil {
		return apperr.Wrap(apperr.InputError, err, "")
	}
	if err := svc.Writer.Reset(ctx, asset); err != nil {
		return err
	}
	if svc.Bars != nil {
		if _, err := svc.Bars.DeleteAsset(ctx, asset); err != nil {
			return fmt.Errorf("delete indexed bars: %w", err)
		}
	}
	for _, tf := range candle.All() {
		svc.Resolver.Invalidate(ctx, asset, tf)
	}
	return nil
}
