package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
	"chartlab-api/pkg/market"
)

type GetWindowLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetWindowLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetWindowLogic {
	return &GetWindowLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetWindowLogic) GetWindow(req *types.WindowRequest) (resp *types.WindowResponse, err error) {
	tf, err := candle.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputError, err, "")
	}
	w, err := l.svcCtx.Resolver.GetWindow(l.ctx, market.Query{
		Asset:     req.Asset,
		Timeframe: tf,
		To:        req.To,
		Limit:     req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperr.New(apperr.NotFound, "no %s data for %s", tf, req.Asset)
	}
	return &types.WindowResponse{
		Asset:     w.Asset,
		Timeframe: string(w.Timeframe),
		Source:    w.Source,
		Count:     len(w.Candles),
		Candles:   w.Candles,
	}, nil
}
