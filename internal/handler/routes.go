package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"chartlab-api/internal/svc"
)

func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodGet,
				Path:    "/data/:asset/:timeframe",
				Handler: GetWindowHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/data/:asset/:timeframe/summary",
				Handler: GetSummaryHandler(serverCtx),
			},
			{
				Method:  http.MethodDelete,
				Path:    "/data/:asset",
				Handler: ResetAssetHandler(serverCtx),
			},
		},
	)

	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodPost,
				Path:    "/import/:provider",
				Handler: SubmitImportHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/market/:provider/instruments",
				Handler: ListInstrumentsHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/import/jobs",
				Handler: ListJobsHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/import/jobs/:id",
				Handler: GetJobHandler(serverCtx),
			},
		},
	)

	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodPost,
				Path:    "/indicator-exec/:id/run",
				Handler: RunIndicatorHandler(serverCtx),
			},
		},
		rest.WithTimeout(serverCtx.Bridge.Timeout()+requestSlack),
	)
}
