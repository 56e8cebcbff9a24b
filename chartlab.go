// Code scaffolded by goctl. Safe to edit.
// goctl 1.9.2

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest"

	"chartlab-api/internal/cli"
	"chartlab-api/internal/config"
	"chartlab-api/internal/handler"
	"chartlab-api/internal/refresher"
	"chartlab-api/internal/svc"
)

var configFile = flag.String("f", "etc/chartlab.yaml", "the config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	logx.Must(err)
	cli.LogConfigSummary(cfg)

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()

	ctx := svc.MustNewServiceContext(*cfg)
	handler.RegisterHandlers(server, ctx)

	if cfg.Refresh.Enabled() {
		im, err := ctx.RefreshImporter()
		logx.Must(err)
		r, err := refresher.New(cfg.Refresh, im, ctx.Registry)
		logx.Must(err)
		logx.Must(r.Start(context.Background()))
		defer r.Stop()
	}

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
