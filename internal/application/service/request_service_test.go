package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-maintenance/internal/application/linktoken"
	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/application/workflow"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/persistence/repository"
	"github.com/garyjia/fleet-maintenance/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/fleet-maintenance/pkg/database"
)

type countingExporter struct {
	views int
}

func (e *countingExporter) Export(w io.Writer, views []*port.ResolvedView) error {
	e.views = len(views)
	_, err := w.Write([]byte("ok"))
	return err
}

func (e *countingExporter) ContentType() string {
	return "text/plain"
}

type testEnv struct {
	svc      RequestService
	billing  BillingService
	ledger   port.BillingLedger
	tokens   *linktoken.Service
	exporter *countingExporter
}

func setupEnv(t *testing.T, policy workflow.PolicyConfig) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "service.db"),
		MaxOpenConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db, logger).Run())

	for _, stmt := range []string{
		`INSERT INTO cost_centers (id, name) VALUES (2, 'Fleet')`,
		`INSERT INTO assets (id, register_number, cost_center_id, model) VALUES (7, 'WXY 1234', 2, 'Hilux')`,
		`INSERT INTO workshops (id, name) VALUES (3, 'Central Garage')`,
		`INSERT INTO service_types (id, label) VALUES (1, 'Brakes'), (2, 'Tyres')`,
		`INSERT INTO employees (ramco_id, full_name, email) VALUES
			('R1', 'Aina Rahman', 'aina@example.com'),
			('A', 'Admin A', 'a@example.com'),
			('B', 'Supervisor B', 'b@example.com'),
			('C', 'Director C', 'c@example.com')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	txManager := sqlite.NewDB(db.DB, logger)
	requests := repository.NewRequestRepository(db.DB, logger)
	history := repository.NewHistoryRepository(db.DB, logger)
	references := repository.NewReferenceRepository(db.DB, logger)
	ledger := repository.NewInvoiceRepository(db.DB, logger)

	tokens, err := linktoken.NewService(linktoken.Config{Secret: "integration-secret"})
	require.NoError(t, err)

	billing := NewBillingService(requests, references, ledger, txManager, nil, nil)
	engine := workflow.NewEngine(requests, history, txManager,
		workflow.WithBillingPusher(billing),
		workflow.WithPolicy(workflow.NewStagePolicy(policy)),
	)
	exporter := &countingExporter{}

	svc := NewRequestService(RequestServiceDeps{
		RequestRepo:   requests,
		HistoryRepo:   history,
		ReferenceRepo: references,
		Engine:        engine,
		Billing:       billing,
		Resolver:      NewResolver(references, workflow.NewStagePolicy(policy), nil),
		Tokens:        tokens,
		Exporter:      exporter,
	})

	return &testEnv{svc: svc, billing: billing, ledger: ledger, tokens: tokens, exporter: exporter}
}

func submit(t *testing.T, env *testEnv) int64 {
	t.Helper()
	req, err := env.svc.Submit(context.Background(), SubmitInput{
		RequesterID:    "R1",
		AssetID:        7,
		Description:    "brake pads worn",
		ServiceTypeIDs: []int64{1},
		WorkshopID:     int64Ptr(3),
		Odometer:       120500,
	})
	require.NoError(t, err)
	return req.ID
}

func TestRequestService_FullApprovalAndBilling(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	ctx := context.Background()
	id := submit(t, env)

	res, err := env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "verify", ActorID: "A", Decision: "proceed"})
	require.NoError(t, err)
	assert.Equal(t, "VERIFIED", res.View.State)
	require.NotNil(t, res.View.VerifierName)
	assert.Equal(t, "Admin A", *res.View.VerifierName)

	res, err = env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "recommend", ActorID: "B", Decision: "proceed"})
	require.NoError(t, err)
	assert.Equal(t, "RECOMMENDED", res.View.State)

	res, err = env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "approve", ActorID: "C", Decision: "1"})
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", res.View.State)
	assert.Equal(t, entity.StatusClosed, res.View.Request.Status)
	require.NotNil(t, res.Billing)
	assert.True(t, res.Billing.Created)
	assert.False(t, res.BillingPending)

	again, err := env.svc.PushToBilling(ctx, id)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Billing.BillingRef, again.BillingRef)

	inv, err := env.ledger.FindInvoiceByServiceOrder(ctx, entity.ServiceOrderFor(id))
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, res.Billing.BillingRef, inv.ID)
	require.NotNil(t, inv.CostCenterID)
	assert.Equal(t, int64(2), *inv.CostCenterID)

	view, err := env.svc.GetResolved(ctx, id, "")
	require.NoError(t, err)
	require.NotNil(t, view.Request.BillingRef)
	assert.False(t, view.BillingPending)

	history, err := env.svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "NEW", history[0].PreviousState)
	assert.Equal(t, "APPROVED", history[2].NewState)
}

func TestRequestService_RejectedThenRecommend(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	ctx := context.Background()
	id := submit(t, env)

	res, err := env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "verify", ActorID: "A", Decision: "reject", Comment: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", res.View.State)
	assert.Equal(t, entity.StatusRejected, res.View.Request.Status)

	_, err = env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "recommend", ActorID: "B", Decision: "proceed"})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)

	_, err = env.svc.PushToBilling(ctx, id)
	assert.ErrorIs(t, err, domainwf.ErrNotApproved)
}

func TestRequestService_CancelThenVerify(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	ctx := context.Background()
	id := submit(t, env)

	res, err := env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "cancel", ActorID: "R1"})
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", res.View.State)
	assert.Equal(t, entity.StatusCancelledByRequester, res.View.Request.Status)

	_, err = env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "verify", ActorID: "A", Decision: "proceed"})
	assert.ErrorIs(t, err, domainwf.ErrIllegalTransition)
}

func TestRequestService_SubmitValidation(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})

	tests := []struct {
		name string
		in   SubmitInput
	}{
		{"missing requester", SubmitInput{AssetID: 7}},
		{"missing asset", SubmitInput{RequesterID: "R1"}},
		{"unknown asset", SubmitInput{RequesterID: "R1", AssetID: 99}},
		{"negative odometer", SubmitInput{RequesterID: "R1", AssetID: 7, Odometer: -1}},
		{"bad service type", SubmitInput{RequesterID: "R1", AssetID: 7, ServiceTypeIDs: []int64{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Submit(context.Background(), tt.in)
			assert.ErrorIs(t, err, domainwf.ErrInvalidCommand)
		})
	}
}

func TestRequestService_GetResolvedNotFound(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})

	_, err := env.svc.GetResolved(context.Background(), 404, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	_, err = env.svc.History(context.Background(), 404)
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestRequestService_AuthorizeViaLink(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{Verifiers: []string{"A"}})
	ctx := context.Background()
	id := submit(t, env)

	token, err := env.tokens.Issue(id, "A", domainwf.ActionVerify, 0)
	require.NoError(t, err)

	res, err := env.svc.AuthorizeViaLink(ctx, LinkInput{Token: token, Decision: "proceed"})
	require.NoError(t, err)
	assert.Equal(t, "VERIFIED", res.View.State)
	assert.False(t, res.NoOp)

	// a second click on the same link is accepted as a no-op
	res, err = env.svc.AuthorizeViaLink(ctx, LinkInput{Token: token, Decision: "proceed"})
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	history, err := env.svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.ViaLink, history[0].Via)
}

func TestRequestService_AuthorizeViaLinkRejectsMisuse(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	ctx := context.Background()
	id := submit(t, env)

	token, err := env.tokens.Issue(id, "A", domainwf.ActionVerify, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   LinkInput
	}{
		{"tampered", LinkInput{Token: token + "x", Decision: "proceed"}},
		{"other action", LinkInput{Token: token, Decision: "proceed", Action: "approve", RequestID: id}},
		{"other request", LinkInput{Token: token, Decision: "proceed", Action: "verify", RequestID: id + 1}},
		{"garbage", LinkInput{Token: "not-a-token", Decision: "proceed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.AuthorizeViaLink(ctx, tt.in)
			assert.ErrorIs(t, err, domainwf.ErrInvalidToken)
		})
	}

	view, err := env.svc.GetResolved(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "NEW", view.State)
}

func TestRequestService_ApplyBulk(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	ctx := context.Background()
	first := submit(t, env)
	second := submit(t, env)

	results := env.svc.ApplyBulk(ctx, []ApplyInput{
		{RequestID: first, Action: "verify", ActorID: "A", Decision: "proceed"},
		{RequestID: second, Action: "escalate", ActorID: "A", Decision: "proceed"},
		{RequestID: second, Action: "verify", Decision: "proceed"},
		{RequestID: second, Action: "approve", ActorID: "C", Decision: "proceed"},
		{RequestID: second, Action: "verify", ActorID: "A", Decision: "reject"},
	})

	require.Len(t, results, 5)
	assert.True(t, results[0].OK)
	assert.Equal(t, domainwf.ReasonUnknownAction, results[1].Reason)
	assert.ErrorIs(t, results[2].Err, domainwf.ErrInvalidCommand)
	assert.Equal(t, domainwf.ReasonOutOfOrder, results[3].Reason)
	assert.True(t, results[4].OK)
	assert.Equal(t, "REJECTED", results[4].State)
}

func TestRequestService_ConcurrentRecommend(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	ctx := context.Background()
	id := submit(t, env)

	_, err := env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "verify", ActorID: "A", Decision: "proceed"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []string{"B", "C"} {
		wg.Add(1)
		go func(i int, actor string) {
			defer wg.Done()
			_, errs[i] = env.svc.Apply(ctx, ApplyInput{RequestID: id, Action: "recommend", ActorID: actor, Decision: "proceed"})
		}(i, actor)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t,
			errors.Is(err, domainwf.ErrIllegalTransition) || errors.Is(err, domainwf.ErrConcurrentModification),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	history, err := env.svc.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRequestService_Export(t *testing.T) {
	env := setupEnv(t, workflow.PolicyConfig{})
	submit(t, env)
	submit(t, env)

	var buf bytes.Buffer
	require.NoError(t, env.svc.Export(context.Background(), port.RequestFilter{}, &buf))
	assert.Equal(t, 2, env.exporter.views)
	assert.Equal(t, "ok", buf.String())

	counts, err := env.svc.PendingCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Verification)
}
