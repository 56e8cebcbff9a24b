package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
)

type GetSummaryLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetSummaryLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetSummaryLogic {
	return &GetSummaryLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetSummaryLogic) GetSummary(req *types.SummaryRequest) (resp *types.SummaryResponse, err error) {
	tf, err := candle.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputError, err, "")
	}
	s, err := l.svcCtx.Resolver.GetSummary(l.ctx, req.Asset, tf)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.New(apperr.NotFound, "no %s data for %s", tf, req.Asset)
	}
	return &types.SummaryResponse{
		Asset:     s.Asset,
		Timeframe: string(s.Timeframe),
		Source:    s.Source,
		Range:     s.Range,
		Count:     s.Count,
	}, nil
}
