package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/rest/pathvar"

	"chartlab-api/internal/config"
	"chartlab-api/internal/jobs"
	"chartlab-api/internal/svc"
	"chartlab-api/internal/types"
	"chartlab-api/pkg/apperr"
	"chartlab-api/pkg/candle"
	indicatorpkg "chartlab-api/pkg/indicator"
	marketpkg "chartlab-api/pkg/market"
)

func newServiceContext(t *testing.T) *svc.ServiceContext {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	dir := t.TempDir()
	c := config.Config{
		DataDir: dir,
		TTL:     config.CacheTTL{Short: 10, Medium: 60, Long: 300},
		Jobs:    config.JobsConf{File: "jobs.json", MaxJobs: 10},
	}
	c.Market.Value = &marketpkg.Config{
		Default:   "lab",
		Providers: map[string]*marketpkg.ProviderConfig{"lab": {Type: "synthetic", Enabled: true}},
	}
	c.Indicator.Value = &indicatorpkg.Config{
		Dir:         filepath.Join(dir, "indicators"),
		Entry:       "main.sh",
		Interpreter: "/bin/sh",
	}
	svcCtx, err := svc.NewServiceContext(c)
	require.NoError(t, err)
	return svcCtx
}

func writeIndicator(t *testing.T, svcCtx *svc.ServiceContext, id, body string) {
	t.Helper()
	dir := filepath.Join(svcCtx.Config.Indicator.Value.Dir, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.sh"), []byte(body), 0o755))
}

func serve(h http.HandlerFunc, method, target, body string, vars map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r = pathvar.WithVars(r, vars)
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperr.Body {
	t.Helper()
	var body apperr.Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.OK)
	return body
}

func seed(t *testing.T, svcCtx *svc.ServiceContext) {
	t.Helper()
	_, err := svcCtx.Writer.WriteCandles(context.Background(), "synusd", candle.H1, []candle.Candle{
		{Time: 1714521600000, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Time: 1714525200000, Open: 1.5, High: 2, Low: 1, Close: 1.8},
		{Time: 1714528800000, Open: 1.8, High: 2.2, Low: 1.7, Close: 2.1},
	})
	require.NoError(t, err)
}

func TestGetWindowHandler(t *testing.T) {
	svcCtx := newServiceContext(t)
	h := GetWindowHandler(svcCtx)

	w := serve(h, http.MethodGet, "/data/synusd/h1", "", map[string]string{"asset": "synusd", "timeframe": "h1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperr.NotFound, decodeError(t, w).Error.Type)

	seed(t, svcCtx)
	w = serve(h, http.MethodGet, "/data/synusd/h1?limit=2", "", map[string]string{"asset": "synusd", "timeframe": "h1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.WindowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(1714528800000), resp.Candles[1].Time)
	assert.Equal(t, marketpkg.SourceSegments, resp.Source)

	w = serve(h, http.MethodGet, "/data/synusd/w1", "", map[string]string{"asset": "synusd", "timeframe": "w1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.InputError, decodeError(t, w).Error.Type)
}

func TestSummaryAndReset(t *testing.T) {
	svcCtx := newServiceContext(t)
	seed(t, svcCtx)
	vars := map[string]string{"asset": "synusd", "timeframe": "h1"}

	w := serve(GetSummaryHandler(svcCtx), http.MethodGet, "/data/synusd/h1/summary", "", vars)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary types.SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, int64(3), summary.Count)
	assert.Equal(t, int64(1714521600000), summary.Range.Start)

	w = serve(ResetAssetHandler(svcCtx), http.MethodDelete, "/data/synusd", "", map[string]string{"asset": "synusd"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = serve(GetSummaryHandler(svcCtx), http.MethodGet, "/data/synusd/h1/summary", "", vars)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportHandlers(t *testing.T) {
	svcCtx := newServiceContext(t)

	body := `{"asset":"synusd","timeframe":"h1","startDate":"2024-05-01","endDate":"2024-05-01"}`
	w := serve(SubmitImportHandler(svcCtx), http.MethodPost, "/import/lab", body, map[string]string{"provider": "lab"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var job jobs.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)
	svcCtx.Importers["lab"].Wait()

	w = serve(GetJobHandler(svcCtx), http.MethodGet, "/import/jobs/"+job.ID, "", map[string]string{"id": job.ID})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, jobs.StatusCompleted, job.Status, job.Error)

	w = serve(ListJobsHandler(svcCtx), http.MethodGet, "/import/jobs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list types.JobListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Jobs, 1)
	assert.Equal(t, svcCtx.Registry.BootEpoch(), list.BootEpoch)

	w = serve(GetJobHandler(svcCtx), http.MethodGet, "/import/jobs/nope", "", map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(SubmitImportHandler(svcCtx), http.MethodPost, "/import/nowhere", body, map[string]string{"provider": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(SubmitImportHandler(svcCtx), http.MethodPost, "/import/lab", `{"asset":"btcusd"}`, map[string]string{"provider": "lab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Error.Message, "not supported")
}

func TestListInstrumentsHandler(t *testing.T) {
	svcCtx := newServiceContext(t)
	w := serve(ListInstrumentsHandler(svcCtx), http.MethodGet, "/market/lab/instruments", "", map[string]string{"provider": "lab"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.InstrumentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.ImportEnabled)
	require.Len(t, resp.Instruments, 1)
	assert.Equal(t, "synusd", resp.Instruments[0].Symbol)
}

func TestRunIndicatorHandler(t *testing.T) {
	svcCtx := newServiceContext(t)
	writeIndicator(t, svcCtx, "pass", `cat >/dev/null
echo '{"ok":true,"series":{"x":[null,2,3]},"markers":[{"index":2,"text":"hi"}]}'`)
	writeIndicator(t, svcCtx, "reject", `cat >/dev/null
echo '{"ok":false,"error":{"type":"InputError","message":"period too large"}}'`)
	h := RunIndicatorHandler(svcCtx)
	candles := `{"candles":[{"time":1,"open":1,"high":1,"low":1,"close":1},{"time":2,"open":2,"high":2,"low":2,"close":2},{"time":3,"open":3,"high":3,"low":3,"close":3}]}`

	w := serve(h, http.MethodPost, "/indicator-exec/pass/run", candles, map[string]string{"id": "pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.IndicatorRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, []indicatorpkg.Point{{Time: 2, Value: 2}, {Time: 3, Value: 3}}, resp.Series["x"])
	require.Len(t, resp.Overlay.Markers, 1)
	assert.Equal(t, int64(3), resp.Overlay.Markers[0].Time)

	w = serve(h, http.MethodPost, "/indicator-exec/reject/run", candles, map[string]string{"id": "reject"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "period too large", decodeError(t, w).Error.Message)

	w = serve(h, http.MethodPost, "/indicator-exec/missing/run", candles, map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(h, http.MethodPost, "/indicator-exec/pass/run", `{"candles":`, map[string]string{"id": "pass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunIndicatorOnStoredSeries(t *testing.T) {
	svcCtx := newServiceContext(t)
	seed(t, svcCtx)
	writeIndicator(t, svcCtx, "last", `cat >/dev/null
echo '{"ok":true,"series":{"close":[1.8,2.1]}}'`)

	w := serve(RunIndicatorHandler(svcCtx), http.MethodPost, "/indicator-exec/last/run",
		`{"asset":"synusd","timeframe":"h1","limit":2}`, map[string]string{"id": "last"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp types.IndicatorRunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Series["close"], 2)
	assert.Equal(t, int64(1714525200000), resp.Series["close"][0].Time)
}
