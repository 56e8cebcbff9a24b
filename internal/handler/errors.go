package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/rest/httpx"

	"chartlab-api/pkg/apperr"
)

// requestSlack is added to the indicator timeout for reading the window and writing the response.
const requestSlack = 5 * time.Second

func init() {
	httpx.SetErrorHandlerCtx(ErrorHandler)
}

// ErrorHandler renders every error as {ok:false, error:{type, message}}.
func ErrorHandler(ctx context.Context, err error) (int, any) {
	status, body := apperr.Response(err)
	if status >= http.StatusInternalServerError {
		logx.WithContext(ctx).Errorf("request failed: %v", err)
	}
	return status, body
}

func badRequest(err error) error {
	return apperr.Wrap(apperr.InputError, err, "invalid request")
}
