package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"chartlab-api/internal/jobs"
	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
	"chartlab-api/pkg/apperr"
)

type GetJobLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewGetJobLogic(ctx context.Context, svcCtx *svc.ServiceContext) *GetJobLogic {
	return &GetJobLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

func (l *GetJobLogic) GetJob(req *types.JobRequest) (resp *jobs.Job, err error) {
	job, ok := l.svcCtx.Registry.Get(req.ID)
	if !ok {
		return nil, apperr.New(apperr.NotFound, "import job %q not found", req.ID)
	}
	return job, nil
}

func (l *GetJobLogic) ListJobs() (resp *types.JobListResponse, err error) {
	return &types.JobListResponse{
		BootEpoch: l.svcCtx.Registry.BootEpoch(),
		Jobs:      l.svcCtx.Registry.Snapshot(),
	}, nil
}
