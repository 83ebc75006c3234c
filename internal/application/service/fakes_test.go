package service

import (
	"context"
	"sync"

	"github.com/garyjia/fleet-maintenance/internal/application/port"
	"github.com/garyjia/fleet-maintenance/internal/domain/entity"
	domainwf "github.com/garyjia/fleet-maintenance/internal/domain/workflow"
)

type memRequestRepo struct {
	mu       sync.Mutex
	requests map[int64]*entity.MaintenanceRequest
	counts   entity.PendingCounts
	countErr error
}

func newMemRequestRepo(reqs ...*entity.MaintenanceRequest) *memRequestRepo {
	m := &memRequestRepo{requests: make(map[int64]*entity.MaintenanceRequest)}
	for _, r := range reqs {
		m.requests[r.ID] = r.Clone()
	}
	return m
}

func (m *memRequestRepo) Create(ctx context.Context, req *entity.MaintenanceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = int64(len(m.requests) + 1)
	req.Version = 1
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *memRequestRepo) GetByID(ctx context.Context, id int64) (*entity.MaintenanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (m *memRequestRepo) Update(ctx context.Context, req *entity.MaintenanceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[req.ID]
	if !ok || stored.Version != req.Version {
		return domainwf.ErrConcurrentModification
	}
	req.Version++
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *memRequestRepo) SetBillingRef(ctx context.Context, id int64, invoiceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.BillingRef != nil {
		return false, nil
	}
	r.BillingRef = &invoiceID
	return true, nil
}

func (m *memRequestRepo) List(ctx context.Context, filter port.RequestFilter) ([]*entity.MaintenanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.MaintenanceRequest
	for _, r := range m.requests {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memRequestRepo) ListAwaitingBilling(ctx context.Context, limit int) ([]*entity.MaintenanceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.MaintenanceRequest
	for _, r := range m.requests {
		if r.IsApproved() && r.BillingRef == nil {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *memRequestRepo) CountPending(ctx context.Context) (entity.PendingCounts, error) {
	return m.counts, m.countErr
}

type mockReferenceRepo struct {
	assets       map[int64]*entity.Asset
	employees    map[string]*entity.Employee
	workshops    map[int64]*entity.Workshop
	costCenters  map[int64]*entity.CostCenter
	serviceTypes []*entity.ServiceType
	err          error
}

func (m *mockReferenceRepo) GetAsset(ctx context.Context, id int64) (*entity.Asset, error) {
	return m.assets[id], m.err
}

func (m *mockReferenceRepo) GetEmployee(ctx context.Context, ramcoID string) (*entity.Employee, error) {
	return m.employees[ramcoID], m.err
}

func (m *mockReferenceRepo) GetWorkshop(ctx context.Context, id int64) (*entity.Workshop, error) {
	return m.workshops[id], m.err
}

func (m *mockReferenceRepo) GetCostCenter(ctx context.Context, id int64) (*entity.CostCenter, error) {
	return m.costCenters[id], m.err
}

func (m *mockReferenceRepo) GetServiceTypes(ctx context.Context) ([]*entity.ServiceType, error) {
	return m.serviceTypes, m.err
}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockLedger struct {
	mu       sync.Mutex
	invoices map[string]*entity.BillingInvoice
	nextID   int64

	findFunc   func(ctx context.Context, serviceOrder string) (*entity.BillingInvoice, error)
	createFunc func(ctx context.Context, fields entity.InvoiceFields) (*entity.BillingInvoice, error)
	readyErr   error
	creates    int
}

func newMockLedger() *mockLedger {
	return &mockLedger{invoices: make(map[string]*entity.BillingInvoice), nextID: 500}
}

func (m *mockLedger) FindInvoiceByServiceOrder(ctx context.Context, serviceOrder string) (*entity.BillingInvoice, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, serviceOrder)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[serviceOrder], nil
}

func (m *mockLedger) CreateInvoice(ctx context.Context, fields entity.InvoiceFields) (*entity.BillingInvoice, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, fields)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	m.nextID++
	inv := &entity.BillingInvoice{
		ID:           m.nextID,
		ServiceOrder: fields.ServiceOrder,
		RequestID:    fields.RequestID,
		AssetID:      fields.AssetID,
		CostCenterID: fields.CostCenterID,
		WorkshopID:   fields.WorkshopID,
		Odometer:     fields.Odometer,
		InvoiceDate:  fields.InvoiceDate,
	}
	m.invoices[fields.ServiceOrder] = inv
	return inv, nil
}

func (m *mockLedger) Ready(ctx context.Context) error {
	return m.readyErr
}

type recordingMailer struct {
	mu    sync.Mutex
	mails []port.Mail
	err   error
}

func (m *recordingMailer) SendMail(ctx context.Context, mail port.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mails = append(m.mails, mail)
	return nil
}

func (m *recordingMailer) Name() string {
	return "test"
}

type published struct {
	channel string
	event   string
	payload interface{}
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel, eventName string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, published{channel: channel, event: eventName, payload: payload})
	return nil
}

func (p *recordingPublisher) Close() error {
	return nil
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stage(actor, decision string) *entity.StageDecision {
	return &entity.StageDecision{ActorID: actor, Decision: decision}
}

func approvedRequest(id int64) *entity.MaintenanceRequest {
	return &entity.MaintenanceRequest{
		ID:             id,
		RequesterID:    "R1",
		AssetID:        7,
		Status:         entity.StatusClosed,
		WorkshopID:     int64Ptr(3),
		Odometer:       120500,
		Verification:   stage("A", entity.DecisionProceed),
		Recommendation: stage("B", entity.DecisionProceed),
		Approval:       stage("C", entity.DecisionProceed),
		Version:        4,
	}
}
