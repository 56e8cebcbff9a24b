package logic

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
	"chartlab-api/pkg/market"
)

type ListInstrumentsLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewListInstrumentsLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ListInstrumentsLogic {
	return &ListInstrumentsLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *ListInstrumentsLogic) ListInstruments(req *types.InstrumentsRequest) (resp *types.InstrumentsResponse, err error) {
	im, err := l.svcCtx.Importer(req.Provider)
	if err != nil {
		return nil, err
	}
	p := im.Provider()
	resp = &types.InstrumentsResponse{Provider: p.Name(), ImportEnabled: market.ImportEnabled(p)}
	for _, inst := range p.Instruments() {
		resp.Instruments = append(resp.Instruments, types.InstrumentItem{
			Symbol:      inst.Symbol,
			Description: inst.Description,
			Decimals:    inst.Decimals,
			Since:       inst.Since.Format(time.DateOnly),
		})
	}
	return resp, nil
}
