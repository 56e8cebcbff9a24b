package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
	"chartlab-api/pkg/segment"
)

type ResetAssetLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewResetAssetLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ResetAssetLogic {
	return &ResetAssetLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *ResetAssetLogic) ResetAsset(req *types.ResetRequest) (resp *types.ResetResponse, err error) {
	if err := l.svcCtx.ResetAsset(l.ctx, req.Asset); err != nil {
		return nil, err
	}
	asset, _ := segment.NormalizeAsset(req.Asset)
	l.Infof("asset %s reset", asset)
	return &types.ResetResponse{OK: true, Asset: asset}, nil
}
