package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/service"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// fakeRequestService records inputs and returns canned results
type fakeRequestService struct {
	err error

	submitted *service.SubmitInput
	applied   *service.ApplyInput
	bulk      []service.ApplyInput
	link      *service.LinkInput
	filter    *port.RequestFilter
	viewer    string
}

func (f *fakeRequestService) Submit(ctx context.Context, in service.SubmitInput) (*entity.MaintenanceRequest, error) {
	f.submitted = &in
	if f.err != nil {
		return nil, f.err
	}
	return &entity.MaintenanceRequest{ID: 1, RequesterID: in.RequesterID, AssetID: in.AssetID, Status: entity.StatusOpen}, nil
}

func (f *fakeRequestService) Apply(ctx context.Context, in service.ApplyInput) (*service.ApplyResult, error) {
	f.applied = &in
	if f.err != nil {
		return nil, f.err
	}
	return &service.ApplyResult{View: &port.ResolvedView{Request: &entity.MaintenanceRequest{ID: in.RequestID}, State: "VERIFIED"}}, nil
}

func (f *fakeRequestService) ApplyBulk(ctx context.Context, items []service.ApplyInput) []workflow.BulkResult {
	f.bulk = items
	results := make([]workflow.BulkResult, len(items))
	for i, it := range items {
		results[i] = workflow.BulkResult{RequestID: it.RequestID, OK: it.RequestID%2 == 1}
		if !results[i].OK {
			results[i].Error = "illegal transition"
			results[i].Reason = domainwf.ReasonOutOfOrder
		}
	}
	return results
}

func (f *fakeRequestService) AuthorizeViaLink(ctx context.Context, in service.LinkInput) (*service.ApplyResult, error) {
	f.link = &in
	if f.err != nil {
		return nil, f.err
	}
	return &service.ApplyResult{View: &port.ResolvedView{Request: &entity.MaintenanceRequest{ID: 3}, State: "RECOMMENDED"}}, nil
}

func (f *fakeRequestService) PushToBilling(ctx context.Context, requestID int64) (*workflow.BillingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &workflow.BillingResult{Created: true, BillingRef: 900}, nil
}

func (f *fakeRequestService) GetResolved(ctx context.Context, requestID int64, actorID string) (*port.ResolvedView, error) {
	f.viewer = actorID
	if f.err != nil {
		return nil, f.err
	}
	return &port.ResolvedView{Request: &entity.MaintenanceRequest{ID: requestID}, State: "NEW"}, nil
}

func (f *fakeRequestService) List(ctx context.Context, filter port.RequestFilter, actorID string) ([]*port.ResolvedView, error) {
	f.filter = &filter
	f.viewer = actorID
	return []*port.ResolvedView{}, f.err
}

func (f *fakeRequestService) History(ctx context.Context, requestID int64) ([]*entity.TransitionHistory, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []*entity.TransitionHistory{{RequestID: requestID, NewState: "VERIFIED"}}, nil
}

func (f *fakeRequestService) PendingCounts(ctx context.Context) (entity.PendingCounts, error) {
	return entity.PendingCounts{Verification: 2, Approval: 1}, f.err
}

func (f *fakeRequestService) Export(ctx context.Context, filter port.RequestFilter, w io.Writer) error {
	f.filter = &filter
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("xlsx"))
	return err
}

func newTestServer(svc *fakeRequestService) *Server {
	return NewServer(DefaultServerConfig(), svc, nil, nopLogger{})
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestHealthCheck(t *testing.T) {
	w, resp := do(t, newTestServer(&fakeRequestService{}), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	w, _ := do(t, newTestServer(&fakeRequestService{}), http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitRequest_UsesActorHeader(t *testing.T) {
	svc := &fakeRequestService{}
	w, resp := do(t, newTestServer(svc), http.MethodPost, "/api/v1/requests",
		`{"asset_id": 7, "description": "brakes"}`, map[string]string{ActorHeader: "R1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, resp.Success)
	require.NotNil(t, svc.submitted)
	assert.Equal(t, "R1", svc.submitted.RequesterID)
	assert.Equal(t, int64(7), svc.submitted.AssetID)
}

func TestApplyAction(t *testing.T) {
	svc := &fakeRequestService{}
	w, resp := do(t, newTestServer(svc), http.MethodPost, "/api/v1/requests/12/actions/verify",
		`{"decision": "proceed", "comment": "ok"}`, map[string]string{ActorHeader: "A"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	require.NotNil(t, svc.applied)
	assert.Equal(t, service.ApplyInput{RequestID: 12, Action: "verify", ActorID: "A", Decision: "proceed", Comment: "ok"}, *svc.applied)
}

func TestApplyAction_WithoutBody(t *testing.T) {
	svc := &fakeRequestService{}
	w, _ := do(t, newTestServer(svc), http.MethodPost, "/api/v1/requests/12/actions/cancel", "", map[string]string{ActorHeader: "R1"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancel", svc.applied.Action)
}

func TestApplyAction_InvalidID(t *testing.T) {
	w, resp := do(t, newTestServer(&fakeRequestService{}), http.MethodPost, "/api/v1/requests/abc/actions/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"not found", fmt.Errorf("load: %w", domainwf.ErrNotFound), http.StatusNotFound, "not_found"},
		{"already decided", domainwf.NewTransitionError(1, domainwf.StateVerified, domainwf.ActionVerify), http.StatusConflict, domainwf.ReasonAlreadyDecided},
		{"out of order", domainwf.NewTransitionError(1, domainwf.StateNew, domainwf.ActionApprove), http.StatusConflict, domainwf.ReasonOutOfOrder},
		{"not your turn", domainwf.NotYourTurn(1, domainwf.StateNew, domainwf.ActionVerify), http.StatusConflict, domainwf.ReasonNotYourTurn},
		{"conflict", domainwf.ErrConcurrentModification, http.StatusConflict, "conflict"},
		{"invalid token", fmt.Errorf("%w: expired", domainwf.ErrInvalidToken), http.StatusUnauthorized, "invalid_token"},
		{"invalid command", fmt.Errorf("%w: actor required", domainwf.ErrInvalidCommand), http.StatusBadRequest, "invalid_command"},
		{"billing unavailable", domainwf.ErrBillingUnavailable, http.StatusServiceUnavailable, "billing_unavailable"},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeRequestService{err: tt.err}
			w, resp := do(t, newTestServer(svc), http.MethodPost, "/api/v1/requests/1/actions/verify",
				`{"decision":"proceed"}`, map[string]string{ActorHeader: "A"})

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.reason, resp.Reason)
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			}
		})
	}
}

func TestApplyBulk(t *testing.T) {
	svc := &fakeRequestService{}
	w, resp := do(t, newTestServer(svc), http.MethodPost, "/api/v1/requests/bulk",
		`{"items":[{"request_id":1,"action":"verify","decision":"proceed"},{"request_id":2,"action":"approve","decision":"proceed"}]}`,
		map[string]string{ActorHeader: "A"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	require.Len(t, svc.bulk, 2)
	assert.Equal(t, "A", svc.bulk[1].ActorID)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var results []workflow.BulkResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.Equal(t, domainwf.ReasonOutOfOrder, results[1].Reason)
}

func TestApplyBulk_Empty(t *testing.T) {
	w, _ := do(t, newTestServer(&fakeRequestService{}), http.MethodPost, "/api/v1/requests/bulk", `{"items":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthorizeLink(t *testing.T) {
	t.Run("get renders a confirmation form without deciding", func(t *testing.T) {
		svc := &fakeRequestService{}
		w, _ := do(t, newTestServer(svc), http.MethodGet, "/api/v1/links/authorize?token=abc&decision=reject", "", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		body := w.Body.String()
		assert.Contains(t, body, `method="post" action="/api/v1/links/authorize"`)
		assert.Contains(t, body, `name="token" value="abc"`)
		assert.Contains(t, body, `name="decision" value="reject"`)
		assert.Nil(t, svc.link, "a GET must never apply the decision")
	})

	t.Run("get rejects incomplete links", func(t *testing.T) {
		for _, path := range []string{
			"/api/v1/links/authorize?decision=proceed",
			"/api/v1/links/authorize?token=abc&decision=maybe",
		} {
			svc := &fakeRequestService{}
			w, resp := do(t, newTestServer(svc), http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, path)
			assert.Equal(t, "invalid_command", resp.Reason)
			assert.Nil(t, svc.link)
		}
	})

	t.Run("form post applies and renders the outcome", func(t *testing.T) {
		svc := &fakeRequestService{}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/links/authorize",
			strings.NewReader("token=abc&decision=proceed&comment=fine"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		newTestServer(svc).Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, svc.link)
		assert.Equal(t, "abc", svc.link.Token)
		assert.Equal(t, "proceed", svc.link.Decision)
		assert.Equal(t, "fine", svc.link.Comment)
		assert.Contains(t, w.Body.String(), "RECOMMENDED")
	})

	t.Run("json body", func(t *testing.T) {
		svc := &fakeRequestService{}
		w, resp := do(t, newTestServer(svc), http.MethodPost, "/api/v1/links/authorize",
			`{"token":"abc","decision":"proceed","comment":"fine"}`, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, "fine", svc.link.Comment)
	})

	t.Run("bad token", func(t *testing.T) {
		svc := &fakeRequestService{err: fmt.Errorf("%w: signature", domainwf.ErrInvalidToken)}
		w, resp := do(t, newTestServer(svc), http.MethodPost, "/api/v1/links/authorize",
			`{"token":"x","decision":"proceed"}`, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid_token", resp.Reason)
	})
}

func TestGetRequestAndHistory(t *testing.T) {
	svc := &fakeRequestService{}
	s := newTestServer(svc)

	w, resp := do(t, s, http.MethodGet, "/api/v1/requests/5", "", map[string]string{ActorHeader: "B"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "B", svc.viewer)

	w, resp = do(t, s, http.MethodGet, "/api/v1/requests/5/history", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestListRequests_DefaultsLimit(t *testing.T) {
	svc := &fakeRequestService{}
	w, _ := do(t, newTestServer(svc), http.MethodGet, "/api/v1/requests?status=open&asset_id=7", "", map[string]string{ActorHeader: "A"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "A", svc.viewer)
	require.NotNil(t, svc.filter)
	assert.Equal(t, port.RequestFilter{Status: "open", AssetID: 7, Limit: 50}, *svc.filter)
}

func TestPendingCounts(t *testing.T) {
	w, resp := do(t, newTestServer(&fakeRequestService{}), http.MethodGet, "/api/v1/requests/pending", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["total"])
}

func TestExportRequests(t *testing.T) {
	svc := &fakeRequestService{}
	w, _ := do(t, newTestServer(svc), http.MethodGet, "/api/v1/requests/export.xlsx?status=closed", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "xlsx", w.Body.String())
	assert.Equal(t, 0, svc.filter.Limit)
	assert.Equal(t, "closed", svc.filter.Status)
}

func TestPushToBilling(t *testing.T) {
	w, resp := do(t, newTestServer(&fakeRequestService{}), http.MethodPost, "/api/v1/requests/4/billing", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	w, resp = do(t, newTestServer(&fakeRequestService{err: domainwf.ErrNotApproved}), http.MethodPost, "/api/v1/requests/4/billing", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_approved", resp.Reason)
}
