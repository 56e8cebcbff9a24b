package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/importer"
	"chartlab-api/internal/jobs"
	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
)

type SubmitImportLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewSubmitImportLogic(ctx context.Context, svcCtx *svc.ServiceContext) *SubmitImportLogic {
	return &SubmitImportLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *SubmitImportLogic) SubmitImport(req *types.ImportRequest) (resp *jobs.Job, err error) {
	im, err := l.svcCtx.Importer(req.Provider)
	if err != nil {
		return nil, err
	}
	job, err := im.Submit(l.ctx, importer.Request{
		Asset:       req.Asset,
		Timeframe:   req.Timeframe,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		FullHistory: req.FullHistory,
	})
	if err != nil {
		return nil, err
	}
	l.Infof("import job %s queued asset=%s timeframe=%s provider=%s", job.ID, job.Asset, job.Timeframe, im.Provider().Name())
	return job, nil
}
