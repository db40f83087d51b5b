package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"faturamento/internal/model"
	"faturamento/internal/workflow"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// --- In-memory fakes ---

type memRequestRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]model.BillingRequest
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{requests: make(map[uuid.UUID]model.BillingRequest)}
}

func (r *memRequestRepo) Create(_ context.Context, req *model.BillingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	r.requests[req.ID] = *req
	return nil
}

func (r *memRequestRepo) FindByID(_ context.Context, id uuid.UUID) (*model.BillingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &req, nil
}

func (r *memRequestRepo) FindByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.BillingRequest, error) {
	return r.FindByID(ctx, id)
}

func (r *memRequestRepo) ListByOrder(_ context.Context, orderNumber string) ([]model.BillingRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []model.BillingRequest
	for _, req := range r.requests {
		if req.OrderNumber == orderNumber {
			result = append(result, req)
		}
	}
	return result, nil
}

func (r *memRequestRepo) List(_ context.Context, status string, _, _ int) ([]model.BillingRequest, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []model.BillingRequest
	for _, req := range r.requests {
		if status == "" || req.Status == status {
			result = append(result, req)
		}
	}
	return result, int64(len(result)), nil
}

func (r *memRequestRepo) Update(_ context.Context, req *model.BillingRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[req.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.requests[req.ID] = *req
	return nil
}

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]model.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]model.Order)}
}

func (r *memOrderRepo) Create(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	r.orders[order.OrderNumber] = *order
	return nil
}

func (r *memOrderRepo) FindByNumber(_ context.Context, orderNumber string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderNumber]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &order, nil
}

func (r *memOrderRepo) FindByNumberForUpdate(ctx context.Context, orderNumber string) (*model.Order, error) {
	return r.FindByNumber(ctx, orderNumber)
}

func (r *memOrderRepo) Update(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.OrderNumber]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.orders[order.OrderNumber] = *order
	return nil
}

func (r *memOrderRepo) List(_ context.Context, status string, _, _ int) ([]model.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []model.Order
	for _, order := range r.orders {
		if status == "" || order.Status == status {
			result = append(result, order)
		}
	}
	return result, int64(len(result)), nil
}

func (r *memOrderRepo) Delete(_ context.Context, orderNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderNumber)
	return nil
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]model.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.users[user.ID.String()] = *user
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if user.ManagerID != nil {
		if manager, ok := r.users[user.ManagerID.String()]; ok {
			user.Manager = &manager
		}
	}
	return &user, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			return &user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memUserRepo) List(_ context.Context, _, _ int) ([]model.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []model.User
	for _, user := range r.users {
		result = append(result, user)
	}
	return result, int64(len(result)), nil
}

func (r *memUserRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID.String()] = *user
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

// passthroughTxManager runs the function without an actual transaction;
// atomicity is covered by the real manager, locking by the service's
// per-order mutex.
type passthroughTxManager struct{}

func (passthroughTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []RejectionNotice
}

func (n *recordingNotifier) NotifyRejection(notice RejectionNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) all() []RejectionNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]RejectionNotice(nil), n.notices...)
}

// --- Fixture ---

type fixture struct {
	svc       RequestService
	orders    *memOrderRepo
	requests  *memRequestRepo
	users     *memUserRepo
	auditRepo *memAuditRepo
	recorder  AuditRecorder
	notifier  *recordingNotifier

	seller     Actor
	billing    Actor
	commercial Actor
	credit     Actor
	admin      Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders:    newMemOrderRepo(),
		requests:  newMemRequestRepo(),
		users:     newMemUserRepo(),
		auditRepo: newMemAuditRepo(),
		notifier:  &recordingNotifier{},
	}
	f.recorder = NewAuditRecorder(f.auditRepo)
	f.svc = NewRequestService(f.requests, f.orders, f.users, passthroughTxManager{}, f.recorder, f.notifier)

	manager := model.User{ID: uuid.New(), Username: "gerente.sul", Email: "gerente@acme.com", Role: model.DeptSeller}
	require.NoError(t, f.users.Create(context.Background(), &manager))
	seller := model.User{ID: uuid.New(), Username: "vendedor.sul", Email: "vendedor@acme.com", Role: model.DeptSeller, ManagerID: &manager.ID}
	require.NoError(t, f.users.Create(context.Background(), &seller))

	f.seller = Actor{ID: seller.ID.String(), Name: "vendedor.sul", Department: model.DeptSeller}
	f.billing = Actor{ID: uuid.NewString(), Name: "faturista", Department: model.DeptBilling}
	f.commercial = Actor{ID: uuid.NewString(), Name: "analista.comercial", Department: model.DeptCommercial}
	f.credit = Actor{ID: uuid.NewString(), Name: "analista.credito", Department: model.DeptCredit}
	f.admin = Actor{ID: uuid.NewString(), Name: "admin", Department: model.DeptAdmin}

	require.NoError(t, f.orders.Create(context.Background(), &model.Order{
		OrderNumber:     "PED-1001",
		ClientCode:      "C-77",
		ClientName:      "Construtora Alfa",
		Product:         "Cimento CP-II",
		Unit:            "t",
		TotalVolume:     dec("100"),
		RemainingVolume: dec("100"),
		TotalValue:      dec("50000"),
		Status:          model.OrderStatusPending,
		Items: []model.OrderItem{
			{Product: "Cimento CP-II", Volume: dec("100"), Unit: "t", UnitPrice: dec("500")},
		},
	}))

	return f
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fixture) createRequest(t *testing.T, volume string) RequestResponse {
	t.Helper()
	resp, err := f.svc.CreateRequest(context.Background(), f.seller, CreateRequestDTO{
		OrderNumber: "PED-1001",
		Items:       []RequestItemDTO{{Product: "Cimento CP-II", Volume: volume}},
		Note:        "cliente com pressa",
	})
	require.NoError(t, err)
	return resp
}

func (f *fixture) readyToInvoice(t *testing.T, volume string) RequestResponse {
	t.Helper()
	ctx := context.Background()
	created := f.createRequest(t, volume)

	_, err := f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items:    []RequestItemDTO{{Product: "Cimento CP-II", Volume: volume, Unit: "t"}},
		Deadline: "30 dias",
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveStep(ctx, f.commercial, created.ID, ApproveStepDTO{Note: "margem ok"})
	require.NoError(t, err)
	resp, err := f.svc.ApproveStep(ctx, f.credit, created.ID, ApproveStepDTO{Note: "limite ok"})
	require.NoError(t, err)
	require.Equal(t, model.RequestStatusReadyToInvoice, resp.Status)
	return resp
}

// --- Scenarios ---

func TestRequestLifecycleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createRequest(t, "40")
	assert.Equal(t, model.RequestStatusPending, created.Status)
	assert.Equal(t, "Construtora Alfa", created.ClientName)
	assert.Equal(t, "cliente com pressa", created.SellerNote)
	require.NotNil(t, created.RequestedBy)
	assert.Equal(t, f.seller.ID, *created.RequestedBy)

	submitted, err := f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items:    []RequestItemDTO{{Product: "Cimento CP-II", Volume: "38,5", Unit: "t"}},
		Deadline: "30 dias",
		Note:     "volume ajustado ao estoque",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusUnderReview, submitted.Status)
	assert.Equal(t, "38.5", submitted.TotalVolume)

	first, err := f.svc.ApproveStep(ctx, f.commercial, created.ID, ApproveStepDTO{Note: "preço vigente"})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusUnderReview, first.Status)
	assert.True(t, first.CommercialApproved)
	assert.False(t, first.CreditApproved)

	second, err := f.svc.ApproveStep(ctx, f.credit, created.ID, ApproveStepDTO{})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusReadyToInvoice, second.Status)

	invoiced, err := f.svc.Invoice(ctx, f.billing, created.ID, InvoiceDTO{
		Items: []FulfilledItemDTO{{Product: "Cimento CP-II", Volume: "38,5", Unit: "t"}},
		Note:  "nf 4501",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusInvoiced, invoiced.Status)
	require.Len(t, invoiced.FulfilledItems, 1)
	require.NotNil(t, invoiced.InvoicedAt)

	order, err := f.orders.FindByNumber(ctx, "PED-1001")
	require.NoError(t, err)
	assert.Equal(t, "61.5", order.RemainingVolume.String())
	assert.Equal(t, "38.5", order.InvoicedVolume.String())
	assert.Equal(t, "19250", order.InvoicedValue.String())
	assert.Equal(t, model.OrderStatusPartiallyInvoiced, order.Status)

	events, err := f.recorder.Read(ctx, "PED-1001")
	require.NoError(t, err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, model.ActionCreateRequest)
	assert.Contains(t, actions, model.ActionSubmitForReview)
	assert.Contains(t, actions, model.ActionPartialApproval)
	assert.Contains(t, actions, model.ActionReadyToInvoice)
	assert.Contains(t, actions, model.ActionInvoiceRequest)
}

func TestRejectThenUnblockResumesReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createRequest(t, "40")
	_, err := f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items:    []RequestItemDTO{{Product: "Cimento CP-II", Volume: "40"}},
		Deadline: "30 dias",
	})
	require.NoError(t, err)
	_, err = f.svc.ApproveStep(ctx, f.commercial, created.ID, ApproveStepDTO{Note: "ok"})
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, f.credit, created.ID, RejectDTO{Reason: "limite de crédito excedido"})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusRejected, rejected.Status)
	assert.Equal(t, model.DeptCredit, rejected.BlockedBy)
	assert.Equal(t, "[BLOQUEIO: CREDITO] limite de crédito excedido", rejected.RejectionReason)
	assert.Equal(t, "limite de crédito excedido", rejected.DisplayReason)

	notices := f.notifier.all()
	require.Len(t, notices, 1)
	assert.Equal(t, created.ID, notices[0].RequestID)
	assert.Equal(t, model.DeptCredit, notices[0].BlockedBy)
	assert.Equal(t, "limite de crédito excedido", notices[0].Reason)
	assert.Equal(t, []string{"vendedor.sul", "gerente.sul"}, notices[0].Recipients)

	_, err = f.svc.Unblock(ctx, f.commercial, created.ID)
	assert.True(t, workflow.IsPermission(err))

	unblocked, err := f.svc.Unblock(ctx, f.credit, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusUnderReview, unblocked.Status)
	assert.True(t, unblocked.CommercialApproved, "commercial track survives a credit block")
	assert.False(t, unblocked.CreditApproved)
	assert.Empty(t, unblocked.BlockedBy)
}

func TestBillingRejectRestartsFromPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createRequest(t, "40")
	_, err := f.svc.Reject(ctx, f.billing, created.ID, RejectDTO{Reason: "pedido com dados incompletos"})
	require.NoError(t, err)

	unblocked, err := f.svc.Unblock(ctx, f.admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusPending, unblocked.Status)

	// A restarted request goes through the full pipeline again.
	_, err = f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items:    []RequestItemDTO{{Product: "Cimento CP-II", Volume: "40"}},
		Deadline: "15 dias",
	})
	require.NoError(t, err)
}

func TestItemizedApprovalAllRefusedNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created := f.createRequest(t, "40")
	_, err := f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items: []RequestItemDTO{
			{Product: "Cimento CP-II", Volume: "30"},
			{Product: "Cal Hidratada", Volume: "10"},
		},
		Deadline: "30 dias",
	})
	require.NoError(t, err)

	resp, err := f.svc.ApproveStep(ctx, f.commercial, created.ID, ApproveStepDTO{
		ItemSplit: []ItemDecisionDTO{
			{Product: "Cimento CP-II", Approved: false, Reason: "tabela de preço vencida"},
			{Product: "Cal Hidratada", Approved: false, Reason: "fora de linha"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusRejected, resp.Status)
	assert.Equal(t, model.DeptCommercial, resp.BlockedBy)
	assert.Equal(t, "tabela de preço vencida", resp.DisplayReason)

	require.Len(t, f.notifier.all(), 1)
}

func TestPermissionChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createRequest(t, "40")

	_, err := f.svc.CreateRequest(ctx, f.billing, CreateRequestDTO{
		OrderNumber: "PED-1001",
		Items:       []RequestItemDTO{{Product: "Cimento CP-II", Volume: "10"}},
	})
	assert.True(t, workflow.IsPermission(err), "billing cannot create requests")

	_, err = f.svc.SubmitForReview(ctx, f.seller, created.ID, SubmitForReviewDTO{
		Items:    []RequestItemDTO{{Product: "Cimento CP-II", Volume: "40"}},
		Deadline: "30 dias",
	})
	assert.True(t, workflow.IsPermission(err), "sellers cannot submit for review")

	_, err = f.svc.ApproveStep(ctx, f.billing, created.ID, ApproveStepDTO{})
	assert.True(t, workflow.IsPermission(err), "billing has no approval track")

	ready := f.readyToInvoice(t, "10")
	_, err = f.svc.Invoice(ctx, f.commercial, ready.ID, InvoiceDTO{})
	assert.True(t, workflow.IsPermission(err), "only billing invoices")
}

func TestValidationAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRequest(ctx, f.seller, CreateRequestDTO{
		OrderNumber: "PED-9999",
		Items:       []RequestItemDTO{{Product: "Cimento CP-II", Volume: "10"}},
	})
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, err = f.svc.CreateRequest(ctx, f.seller, CreateRequestDTO{OrderNumber: "PED-1001"})
	assert.True(t, workflow.IsValidation(err), "empty item set is refused")

	_, err = f.svc.CreateRequest(ctx, f.seller, CreateRequestDTO{
		OrderNumber: "PED-1001",
		Items:       []RequestItemDTO{{Product: "Cimento CP-II", Volume: "abc"}},
	})
	assert.True(t, workflow.IsValidation(err))

	created := f.createRequest(t, "40")
	_, err = f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items: []RequestItemDTO{{Product: "Cimento CP-II", Volume: "40"}},
	})
	assert.True(t, workflow.IsValidation(err), "deadline is mandatory")

	_, err = f.svc.GetRequest(ctx, "not-a-uuid")
	assert.True(t, workflow.IsValidation(err))

	_, err = f.svc.GetRequest(ctx, uuid.NewString())
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

// Two requests invoiced concurrently against the same order must both be
// debited: the per-order lock serializes the read-modify-write.
func TestConcurrentInvoicesSameOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.readyToInvoice(t, "50")
	second := f.readyToInvoice(t, "50")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(slot int, requestID string) {
			defer wg.Done()
			_, errs[slot] = f.svc.Invoice(ctx, f.billing, requestID, InvoiceDTO{
				Items: []FulfilledItemDTO{{Product: "Cimento CP-II", Volume: "50"}},
			})
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	order, err := f.orders.FindByNumber(ctx, "PED-1001")
	require.NoError(t, err)
	assert.Equal(t, "0", order.RemainingVolume.String())
	assert.Equal(t, "100", order.InvoicedVolume.String())
	assert.Equal(t, "50000", order.InvoicedValue.String())
	assert.Equal(t, model.OrderStatusFinalized, order.Status)
}

func TestInvoiceTwiceIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ready := f.readyToInvoice(t, "20")
	_, err := f.svc.Invoice(ctx, f.billing, ready.ID, InvoiceDTO{
		Items: []FulfilledItemDTO{{Product: "Cimento CP-II", Volume: "20"}},
	})
	require.NoError(t, err)

	_, err = f.svc.Invoice(ctx, f.billing, ready.ID, InvoiceDTO{
		Items: []FulfilledItemDTO{{Product: "Cimento CP-II", Volume: "20"}},
	})
	assert.True(t, workflow.IsValidation(err))

	order, err := f.orders.FindByNumber(ctx, "PED-1001")
	require.NoError(t, err)
	assert.Equal(t, "80", order.RemainingVolume.String(), "second attempt must not debit again")
}

// A broken audit sink never fails the transition that triggered the event.
func TestAuditSinkFailureDoesNotBlockTransitions(t *testing.T) {
	f := newFixture(t)
	f.auditRepo.failAppends(errors.New("connection refused"))
	ctx := context.Background()

	created := f.createRequest(t, "40")

	// The event is still readable from the local replica.
	events, err := f.recorder.Read(ctx, "PED-1001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionCreateRequest, events[0].Action)

	_, err = f.svc.SubmitForReview(ctx, f.billing, created.ID, SubmitForReviewDTO{
		Items:    []RequestItemDTO{{Product: "Cimento CP-II", Volume: "40"}},
		Deadline: "30 dias",
	})
	require.NoError(t, err)
}
