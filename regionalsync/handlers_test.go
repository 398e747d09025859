package regionalsync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/seplag/regional_sync/models"
	"github.com/seplag/regional_sync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	report  CycleReport
	err     error
	calls   []string
	lastCid string
}

func (f *fakeTrigger) Trigger(ctx context.Context, triggeredBy string) (CycleReport, error) {
	f.calls = append(f.calls, triggeredBy)
	f.lastCid, _ = utils.GetCorrelationIdFromContext(ctx)
	return f.report, f.err
}

type fakeRuns struct {
	runs     []models.RegionalSyncRun
	err      error
	gotLimit int
}

func (f *fakeRuns) ListRuns(ctx context.Context, limit int) ([]models.RegionalSyncRun, error) {
	f.gotLimit = limit
	return f.runs, f.err
}

func (f *fakeRuns) GetRun(ctx context.Context, id uint) (*models.RegionalSyncRun, error) {
	for _, r := range f.runs {
		if r.ID == id {
			run := r
			return &run, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func newTestRouter(routes Routes) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, routes)
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListActiveHandler(t *testing.T) {
	store := newMemStore(activeRow(1, "South"), activeRow(2, "North"), inactiveRow(3, "East"))
	cache := &memCache{}
	r := newTestRouter(Routes{Reader: NewReader(store, cache, quietLogger())})

	w := doRequest(r, http.MethodGet, "/v1/regionais", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp RegionalListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "North", resp.Items[0].Name)
	assert.Equal(t, "South", resp.Items[1].Name)
	_, ok := cache.current()
	assert.True(t, ok, "list should populate the cache")
}

func TestListActiveHandler_ServesFromCache(t *testing.T) {
	store := newMemStore()
	store.failFindActive = errors.New("should not be called")
	cache := primedCache(activeRow(9, "Cached"))
	r := newTestRouter(Routes{Reader: NewReader(store, cache, quietLogger())})

	w := doRequest(r, http.MethodGet, "/v1/regionais", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Cached"`)
}

func TestListActiveHandler_CacheErrorFallsBackToStore(t *testing.T) {
	store := newMemStore(activeRow(1, "North"))
	cache := &memCache{getErr: errors.New("redis down")}
	r := newTestRouter(Routes{Reader: NewReader(store, cache, quietLogger())})

	w := doRequest(r, http.MethodGet, "/v1/regionais", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"North"`)
}

func TestFindActiveByNameHandler(t *testing.T) {
	store := newMemStore(activeRow(1, "North"), inactiveRow(2, "West"))
	r := newTestRouter(Routes{Reader: NewReader(store, nil, quietLogger())})

	w := doRequest(r, http.MethodGet, "/v1/regionais/nome/North", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":1`)

	w = doRequest(r, http.MethodGet, "/v1/regionais/nome/West", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTriggerSyncHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"success", nil, http.StatusOK},
		{"busy", ErrCycleInProgress, http.StatusConflict},
		{"fetch failed", &FetchError{Kind: FetchErrorTransport, Err: errors.New("dial tcp")}, http.StatusBadGateway},
		{"empty payload", ErrEmptyPayload, http.StatusBadGateway},
		{"partial", joinErrors([]error{&PersistenceError{Name: "A", Op: opCreate, Err: errors.New("x")}}), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := &fakeTrigger{report: CycleReport{Status: models.SyncRunStatusSuccess, Created: []string{"A"}}, err: tt.err}
			r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Trigger: trigger})

			w := doRequest(r, http.MethodPost, "/v1/regionais/sincronizar", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, []string{models.SyncTriggeredManual}, trigger.calls)

			var resp SyncTriggerResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.err == nil, resp.Success)
			if errors.Is(tt.err, ErrCycleInProgress) {
				assert.Nil(t, resp.Report)
			} else {
				require.NotNil(t, resp.Report)
			}
		})
	}
}

func TestTriggerSyncHandler_Disabled(t *testing.T) {
	r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Trigger: DisabledTrigger{}})

	w := doRequest(r, http.MethodPost, "/v1/regionais/sincronizar", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "disabled")
	assert.NotContains(t, w.Body.String(), `"report"`)
}

func TestTriggerSyncHandler_RequiresAuth(t *testing.T) {
	deny := func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		c.Abort()
	}
	trigger := &fakeTrigger{}
	r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Trigger: trigger, Runs: &fakeRuns{}, Auth: deny})

	assert.Equal(t, http.StatusUnauthorized, doRequest(r, http.MethodPost, "/v1/regionais/sincronizar", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(r, http.MethodGet, "/v1/regionais/sync-runs", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(r, http.MethodGet, "/v1/regionais", "").Code)
	assert.Empty(t, trigger.calls)
}

func TestSyncHistoryHandler(t *testing.T) {
	runs := &fakeRuns{runs: []models.RegionalSyncRun{{ID: 2, Status: models.SyncRunStatusSuccess}, {ID: 1, Status: models.SyncRunStatusFailed}}}
	r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Runs: runs})

	w := doRequest(r, http.MethodGet, "/v1/regionais/sync-runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, runs.gotLimit)

	var resp SyncRunListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 2)

	doRequest(r, http.MethodGet, "/v1/regionais/sync-runs?limit=1000", "")
	assert.Equal(t, 20, runs.gotLimit)
}

func TestSyncRunDetailHandler(t *testing.T) {
	runs := &fakeRuns{runs: []models.RegionalSyncRun{{ID: 2, Status: models.SyncRunStatusPartial}}}
	r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Runs: runs})

	w := doRequest(r, http.MethodGet, "/v1/regionais/sync-runs/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"partial"`)

	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, "/v1/regionais/sync-runs/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(r, http.MethodGet, "/v1/regionais/sync-runs/abc", "").Code)
}

func TestPubSubPushHandler(t *testing.T) {
	trigger := &fakeTrigger{err: ErrCycleInProgress}
	r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Trigger: trigger, EnablePush: true})

	data := base64.StdEncoding.EncodeToString([]byte(`{}`))
	body := `{"message":{"data":"` + data + `","attributes":{"correlation_id":"cid-9"},"messageId":"1"},"subscription":"s"}`
	w := doRequest(r, http.MethodPost, "/pubsub/regional-sync", body)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{models.SyncTriggeredPubSub}, trigger.calls)
	assert.Equal(t, "cid-9", trigger.lastCid)

	w = doRequest(r, http.MethodPost, "/pubsub/regional-sync", "not json")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, trigger.calls, 1)
}

func TestPubSubPushHandler_DisabledByDefault(t *testing.T) {
	r := newTestRouter(Routes{Reader: NewReader(newMemStore(), nil, nil), Trigger: &fakeTrigger{}})
	w := doRequest(r, http.MethodPost, "/pubsub/regional-sync", "{}")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
