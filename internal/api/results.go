package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/triage-ai/guardbench/internal/chread"
	"github.com/triage-ai/guardbench/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if d.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	runs, err := d.Runs.ListRuns(r.Context(), queryInt(r.URL.Query(), "limit", 50))
	if err != nil {
		d.Logger.Error("failed to list runs", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*store.RunSummary{}
	}
	writeJSON(w, http.StatusOK, RunListResp{Runs: runs})
}

func (d *Dependencies) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if d.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	run, err := d.Runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		d.Logger.Error("failed to get run", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get run"})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Run not found."})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (d *Dependencies) handleListResults(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	params := listResultsParams(r.URL.Query())
	rows, total, err := d.Reader.ListResults(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list results", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list results"})
		return
	}

	resp := ResultListResp{
		Results:  make([]ResultResp, 0, len(rows)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, row := range rows {
		resp.Results = append(resp.Results, ResultRespFrom(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

// listResultsParams reads filters and paging from the query string.
func listResultsParams(q url.Values) chread.ListResultsParams {
	params := chread.ListResultsParams{
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.PageSize < 1 {
		params.PageSize = 50
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("run_id"); v != "" {
		params.RunID = &v
	}
	if v := q.Get("model_id"); v != "" {
		params.ModelID = &v
	}
	if v := q.Get("category"); v != "" {
		params.Category = &v
	}
	if v := q.Get("status"); v != "" {
		params.Status = &v
	}
	if v := q.Get("violation"); v != "" {
		params.Violation = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}
	return params
}

func (d *Dependencies) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	row, err := d.Reader.GetResult(r.Context(), r.PathValue("test_id"), r.URL.Query().Get("run_id"))
	if err != nil {
		d.Logger.Error("failed to get result", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get result"})
		return
	}
	if row == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Result not found."})
		return
	}
	writeJSON(w, http.StatusOK, ResultRespFrom(*row))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := queryInt(r.URL.Query(), "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an integer query parameter with a default value.
func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
