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

type RunIndicatorLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewRunIndicatorLogic(ctx context.Context, svcCtx *svc.ServiceContext) *RunIndicatorLogic {
	return &RunIndicatorLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *RunIndicatorLogic) RunIndicator(req *types.IndicatorRunRequest) (resp *types.IndicatorRunResponse, err error) {
	candles, err := l.window(req)
	if err != nil {
		return nil, err
	}
	res := l.svcCtx.Bridge.Run(l.ctx, req.ID, candles, req.Settings)
	if !res.OK {
		return nil, res.Err()
	}
	return &types.IndicatorRunResponse{
		OK:     true,
		Series: res.Series,
		Overlay: types.Overlay{
			Markers: res.Markers,
			Levels:  res.Levels,
			Plots:   res.Plots,
		},
		Meta: res.Meta,
	}, nil
}

// window returns the request candles, or reads them from storage when the
// request names a series instead.
func (l *RunIndicatorLogic) window(req *types.IndicatorRunRequest) ([]candle.Candle, error) {
	if len(req.Candles) > 0 || req.Asset == "" {
		return req.Candles, nil
	}
	tf, err := candle.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputError, err, "")
	}
	w, err := l.svcCtx.Resolver.GetWindow(l.ctx, market.Query{Asset: req.Asset, Timeframe: tf, To: req.To, Limit: req.Limit})
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperr.New(apperr.NotFound, "no %s data for %s", tf, req.Asset)
	}
	return w.Candles, nil
}
