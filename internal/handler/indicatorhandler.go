package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"
	"github.com/zeromicro/go-zero/rest/pathvar"

	"chartlab-api/internal/logic"
	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
)

const maxIndicatorBody = 32 << 20

// RunIndicatorHandler decodes the body with encoding/json: settings are free-form
// and candles are plain numbers, which the struct mapper would treat as required fields.
func RunIndicatorHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.IndicatorRunRequest
		if r.Body != nil {
			err := json.NewDecoder(io.LimitReader(r.Body, maxIndicatorBody)).Decode(&req)
			if err != nil && !errors.Is(err, io.EOF) {
				httpx.ErrorCtx(r.Context(), w, badRequest(err))
				return
			}
		}
		req.ID = pathvar.Vars(r)["id"]

		l := logic.NewRunIndicatorLogic(r.Context(), svcCtx)
		resp, err := l.RunIndicator(&req)
		if err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
		} else {
			httpx.OkJsonCtx(r.Context(), w, resp)
		}
	}
}
