package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/core"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"github.com/LambdaTest/janitor/pkg/metrics"
	"github.com/LambdaTest/janitor/pkg/service/lifecycle"
	"github.com/LambdaTest/janitor/pkg/store/inmem"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resourceDTO struct {
	ID       string                `json:"id"`
	Identity core.IdentityEnvelope `json:"identity"`
	State    core.ResourceState    `json:"state"`
	Labels   map[string]string     `json:"labels"`
}

func newRouter(t *testing.T, signalCtx context.Context) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger, err := lumber.NewLogger(&lumber.LoggingConfig{EnableConsole: true, ConsoleLevel: lumber.Error}, false, lumber.InstanceZapLogger)
	require.NoError(t, err)
	db := inmem.NewDB()
	m := metrics.New(prometheus.NewRegistry())
	svc := lifecycle.New(db, inmem.NewTrackedResourceStore(db), m, logger)
	r := New(signalCtx, &config.Config{Env: "dev"}, svc, m, logger)
	return r.Handler()
}

func do(t *testing.T, router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createBody(namespace string, expiration time.Time) string {
	return `{"identity":{"kind":"k8s_namespace","value":{"namespace":"` + namespace + `"}},` +
		`"creation":"2026-10-17T09:00:00Z","expiration":"` + expiration.Format(time.RFC3339) + `",` +
		`"labels":{"team":"ci"}}`
}

func TestHealth(t *testing.T) {
	signalCtx, cancel := context.WithCancel(context.Background())
	router := newRouter(t, signalCtx)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", "").Code)
	cancel()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/health", "").Code)
}

func TestMetricsRoute(t *testing.T) {
	router := newRouter(t, context.Background())
	w := do(t, router, http.MethodPost, "/resource", createBody("ci-1", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "janitor_resources_created_total")
}

func TestCreateAndFind(t *testing.T) {
	router := newRouter(t, context.Background())
	expiration := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	w := do(t, router, http.MethodPost, "/resource", createBody("ci-42", expiration))
	require.Equal(t, http.StatusCreated, w.Code)
	created := new(resourceDTO)
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), created))
	assert.Equal(t, core.ResourceReady, created.State)
	require.NotEmpty(t, created.ID)

	w = do(t, router, http.MethodGet, "/resource/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	found := new(resourceDTO)
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), found))
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, core.KindKubernetesNamespace, found.Identity.Kind)
	assert.Equal(t, map[string]string{"team": "ci"}, found.Labels)

	// a second registration with a later expiration supersedes the first
	w = do(t, router, http.MethodPost, "/resource", createBody("ci-42", expiration.Add(time.Hour)))
	require.Equal(t, http.StatusCreated, w.Code)

	identity := url.QueryEscape(`{"kind":"k8s_namespace","value":{"namespace":"ci-42"}}`)
	w = do(t, router, http.MethodGet, "/resources?identity="+identity, "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []*resourceDTO
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 2)
	states := []core.ResourceState{all[0].State, all[1].State}
	assert.ElementsMatch(t, []core.ResourceState{core.ResourceReady, core.ResourceDuplicated}, states)
}

func TestCreateValidation(t *testing.T) {
	router := newRouter(t, context.Background())
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"identity":`},
		{"unknown kind", `{"identity":{"kind":"BUCKET","value":{}},"creation":"2026-10-17T09:00:00Z","expiration":"2026-10-17T10:00:00Z"}`},
		{"missing expiration", `{"identity":{"kind":"kafka_topic","value":{"topic":"t"}},"creation":"2026-10-17T09:00:00Z"}`},
		{"invalid identity fields", `{"identity":{"kind":"kafka_topic","value":{}},"creation":"2026-10-17T09:00:00Z","expiration":"2026-10-17T10:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/resource", tt.body).Code)
		})
	}
}

func TestFindMissing(t *testing.T) {
	router := newRouter(t, context.Background())
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/resource/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/resources", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/resources?identity=nope", "").Code)
}

func TestUpdateState(t *testing.T) {
	router := newRouter(t, context.Background())
	w := do(t, router, http.MethodPost, "/resource", createBody("ci-7", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, w.Code)
	created := new(resourceDTO)
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), created))

	update := func(state string) int {
		body := `{"identity":{"kind":"k8s_namespace","value":{"namespace":"ci-7"}},"state":"` + state + `"}`
		return do(t, router, http.MethodPut, "/resource/state", body).Code
	}
	stateOf := func() core.ResourceState {
		w := do(t, router, http.MethodGet, "/resource/"+created.ID, "")
		require.Equal(t, http.StatusOK, w.Code)
		r := new(resourceDTO)
		require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), r))
		return r.State
	}

	assert.Equal(t, http.StatusOK, update("ABANDONED"))
	assert.Equal(t, core.ResourceAbandoned, stateOf())
	// nothing left to abandon
	assert.Equal(t, http.StatusNotFound, update("ABANDONED"))
	assert.Equal(t, http.StatusOK, update("READY"))
	assert.Equal(t, core.ResourceReady, stateOf())
	assert.Equal(t, http.StatusBadRequest, update("DONE"))
	assert.Equal(t, http.StatusBadRequest, update("GONE"))
}

func TestList(t *testing.T) {
	router := newRouter(t, context.Background())
	for _, ns := range []string{"ci-1", "ci-2", "ci-3"} {
		require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/resource", createBody(ns, time.Now().Add(time.Hour))).Code)
	}

	w := do(t, router, http.MethodGet, "/resources/list?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page []*resourceDTO
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 2)

	w = do(t, router, http.MethodGet, "/resources/list?limit=2&offset=2&state=READY", "")
	require.Equal(t, http.StatusOK, w.Code)
	page = nil
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 1)

	w = do(t, router, http.MethodGet, "/resources/list?state=DONE", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/resources/list?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/resources/list?offset=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/resources/list?state=GONE", "").Code)
}
