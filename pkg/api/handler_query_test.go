package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echo "github.com/labstack/echo/v5"

	"github.com/nancy-core/nancy/pkg/mode"
	"github.com/nancy-core/nancy/pkg/query"
)

func postQuery(t *testing.T, s *Server, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	return rec, s.queryHandler(c)
}

func TestQueryHandler(t *testing.T) {
	exec := &fakeExecutor{resp: &query.Response{
		Question: "Who wrote the thermal doc?",
		Intent:   "relational",
		Answer:   "Sarah Chen wrote it.",
	}}
	s := newTestServer(t, &fakeRouter{}, exec, mode.ModeHybrid)

	rec, err := postQuery(t, s, `{"question":"Who wrote the thermal doc?","n_results":5,"style":"extractive"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp query.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Sarah Chen wrote it.", resp.Answer)
	assert.Equal(t, 5, exec.lastOpt.TopK)
	assert.Equal(t, "extractive", exec.lastOpt.Style)
}

func TestQueryHandlerMissingQuestion(t *testing.T) {
	s := newTestServer(t, &fakeRouter{}, &fakeExecutor{}, mode.ModeHybrid)

	_, err := postQuery(t, s, `{"question":"   "}`)
	require.Error(t, err)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestQueryHandlerExecutorFailure(t *testing.T) {
	exec := &fakeExecutor{err: assert.AnError}
	s := newTestServer(t, &fakeRouter{}, exec, mode.ModeHybrid)

	rec, err := postQuery(t, s, `{"question":"anything"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body.ErrorKind)
}
