package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"faturamento/internal/model"
	"faturamento/internal/repository"
	"faturamento/internal/workflow"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

// Actor identifies who is invoking a transition. ID and Name come from
// the token; Department is the actor's role.
type Actor struct {
	ID         string
	Name       string
	Department string
}

type RequestItemDTO struct {
	Product string `json:"product" binding:"required"`
	Volume  string `json:"volume" binding:"required"`
	Unit    string `json:"unit"`
	Note    string `json:"note"`
}

type CreateRequestDTO struct {
	OrderNumber string           `json:"order_number" binding:"required"`
	Items       []RequestItemDTO `json:"items" binding:"required"`
	Note        string           `json:"note"`
}

type SubmitForReviewDTO struct {
	Items    []RequestItemDTO `json:"items" binding:"required"`
	Deadline string           `json:"deadline"`
	Note     string           `json:"note"`
}

type ItemDecisionDTO struct {
	Product  string `json:"product" binding:"required"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

type ApproveStepDTO struct {
	Note      string            `json:"note"`
	ItemSplit []ItemDecisionDTO `json:"item_split"`
}

type RejectDTO struct {
	Reason string `json:"reason"`
}

type FulfilledItemDTO struct {
	Product string `json:"product" binding:"required"`
	Volume  string `json:"volume"`
	Unit    string `json:"unit"`
	Note    string `json:"note"`
}

type InvoiceDTO struct {
	Items []FulfilledItemDTO `json:"items"`
	Note  string             `json:"note"`
}

type RequestFilter struct {
	Status      string
	OrderNumber string
	Page        int
	Limit       int
}

type RequestResponse struct {
	ID                 string           `json:"id"`
	OrderNumber        string           `json:"order_number"`
	ClientCode         string           `json:"client_code"`
	ClientName         string           `json:"client_name"`
	Product            string           `json:"product"`
	Unit               string           `json:"unit"`
	Items              []model.LineItem `json:"items"`
	TotalVolume        string           `json:"total_volume"`
	Status             string           `json:"status"`
	RequestedBy        *string          `json:"requested_by"`
	RequesterName      string           `json:"requester_name"`
	Deadline           string           `json:"deadline"`
	SellerNote         string           `json:"seller_note,omitempty"`
	BillingNote        string           `json:"billing_note,omitempty"`
	CommercialNote     string           `json:"commercial_note,omitempty"`
	CreditNote         string           `json:"credit_note,omitempty"`
	IssuanceNote       string           `json:"issuance_note,omitempty"`
	CommercialApproved bool             `json:"commercial_approved"`
	CreditApproved     bool             `json:"credit_approved"`
	BlockedBy          string           `json:"blocked_by,omitempty"`
	RejectionReason    string           `json:"rejection_reason,omitempty"`
	DisplayReason      string           `json:"display_reason,omitempty"`
	ApproverName       string           `json:"approver_name,omitempty"`
	FulfilledItems     []model.LineItem `json:"itens_atendidos,omitempty"`
	InvoicedAt         *string          `json:"invoiced_at,omitempty"`
	CreatedAt          string           `json:"created_at"`
}

// RejectionNotice is handed to the notifier when a request is rejected.
// Recipients are the requester and the requester's manager, if any.
type RejectionNotice struct {
	RequestID   string   `json:"request_id"`
	OrderNumber string   `json:"order_number"`
	BlockedBy   string   `json:"blocked_by"`
	Reason      string   `json:"reason"`
	Recipients  []string `json:"recipients"`
}

// Notifier dispatches rejection notices. Delivery is fire-and-forget: a
// failed dispatch never unwinds the transition.
type Notifier interface {
	NotifyRejection(notice RejectionNotice)
}

// --- Interface ---

type RequestService interface {
	CreateRequest(ctx context.Context, actor Actor, req CreateRequestDTO) (RequestResponse, error)
	SubmitForReview(ctx context.Context, actor Actor, id string, req SubmitForReviewDTO) (RequestResponse, error)
	ApproveStep(ctx context.Context, actor Actor, id string, req ApproveStepDTO) (RequestResponse, error)
	Reject(ctx context.Context, actor Actor, id string, req RejectDTO) (RequestResponse, error)
	Unblock(ctx context.Context, actor Actor, id string) (RequestResponse, error)
	Invoice(ctx context.Context, actor Actor, id string, req InvoiceDTO) (RequestResponse, error)
	GetRequest(ctx context.Context, id string) (RequestResponse, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]RequestResponse, int64, error)
	ListByOrder(ctx context.Context, orderNumber string) ([]RequestResponse, error)
}

type requestService struct {
	requestRepo repository.RequestRepository
	orderRepo   repository.OrderRepository
	userRepo    repository.UserRepository
	txManager   repository.TransactionManager
	recorder    AuditRecorder
	notifier    Notifier

	// Invoice reconciliation is a read-modify-write on the order balance;
	// concurrent invoices against the same order serialize here (and on
	// the row lock inside the transaction).
	locksMu    sync.Mutex
	orderLocks map[string]*sync.Mutex
}

func NewRequestService(
	requestRepo repository.RequestRepository,
	orderRepo repository.OrderRepository,
	userRepo repository.UserRepository,
	txManager repository.TransactionManager,
	recorder AuditRecorder,
	notifier Notifier,
) RequestService {
	return &requestService{
		requestRepo: requestRepo,
		orderRepo:   orderRepo,
		userRepo:    userRepo,
		txManager:   txManager,
		recorder:    recorder,
		notifier:    notifier,
		orderLocks:  make(map[string]*sync.Mutex),
	}
}

// --- Implementation ---

func (s *requestService) CreateRequest(ctx context.Context, actor Actor, req CreateRequestDTO) (RequestResponse, error) {
	if actor.Department != model.DeptSeller && actor.Department != model.DeptAdmin {
		return RequestResponse{}, &workflow.PermissionError{
			Department: actor.Department,
			Reason:     "only sellers can create billing requests",
		}
	}

	order, err := s.orderRepo.FindByNumber(ctx, req.OrderNumber)
	if err != nil {
		return RequestResponse{}, notFoundOr(err, "order %s", req.OrderNumber)
	}

	if len(req.Items) == 0 {
		return RequestResponse{}, &workflow.ValidationError{Reason: "at least one line item required"}
	}
	items := make(model.LineItems, 0, len(req.Items))
	for _, in := range req.Items {
		volume, parseErr := workflow.ParseVolume(in.Volume)
		if parseErr != nil || !volume.IsPositive() {
			return RequestResponse{}, &workflow.ValidationError{
				Reason: fmt.Sprintf("volume must be a positive number for item %s", in.Product),
			}
		}
		unit := in.Unit
		if unit == "" {
			unit = order.Unit
		}
		items = append(items, model.LineItem{Product: in.Product, Volume: volume, Unit: unit, Note: in.Note})
	}

	request := &model.BillingRequest{
		OrderNumber: order.OrderNumber,
		ClientCode:  order.ClientCode,
		ClientName:  order.ClientName,
		Product:     order.Product,
		Unit:        order.Unit,
		Items:       items,
		TotalVolume: items.TotalVolume(),
		Status:      model.RequestStatusPending,
		SellerNote:  req.Note,
	}
	if id, parseErr := uuid.Parse(actor.ID); parseErr == nil {
		request.RequestedBy = &id
	}

	if err := s.requestRepo.Create(ctx, request); err != nil {
		return RequestResponse{}, fmt.Errorf("failed to create billing request: %w", err)
	}

	s.recorder.Record(ctx, model.AuditEvent{
		OrderNumber: order.OrderNumber,
		Actor:       actor.Name,
		Department:  actor.Department,
		Action:      model.ActionCreateRequest,
		Detail:      fmt.Sprintf("billing request created: %d item(s), total volume %s", len(items), request.TotalVolume.String()),
		Severity:    model.SeveritySuccess,
	})

	return toRequestResponse(request), nil
}

func (s *requestService) SubmitForReview(ctx context.Context, actor Actor, id string, req SubmitForReviewDTO) (RequestResponse, error) {
	if actor.Department != model.DeptBilling {
		return RequestResponse{}, &workflow.PermissionError{
			Department: actor.Department,
			Reason:     "only billing can submit a request for review",
		}
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}

	items := make([]workflow.SubmitItem, 0, len(req.Items))
	for _, in := range req.Items {
		items = append(items, workflow.SubmitItem(in))
	}
	if err := workflow.SubmitForReview(request, items, req.Deadline, req.Note); err != nil {
		return RequestResponse{}, err
	}

	if err := s.requestRepo.Update(ctx, request); err != nil {
		return RequestResponse{}, fmt.Errorf("failed to persist submission: %w", err)
	}

	s.recorder.Record(ctx, model.AuditEvent{
		OrderNumber: request.OrderNumber,
		Actor:       actor.Name,
		Department:  actor.Department,
		Action:      model.ActionSubmitForReview,
		Detail:      fmt.Sprintf("submitted for review: %d item(s), total volume %s, deadline %s", len(request.Items), request.TotalVolume.String(), request.Deadline),
		Severity:    model.SeveritySuccess,
	})

	return toRequestResponse(request), nil
}

func (s *requestService) ApproveStep(ctx context.Context, actor Actor, id string, req ApproveStepDTO) (RequestResponse, error) {
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}

	input := workflow.ApprovalInput{Department: actor.Department, Note: req.Note}
	for _, d := range req.ItemSplit {
		input.ItemSplit = append(input.ItemSplit, workflow.ItemDecision(d))
	}

	outcome, err := workflow.Approve(request, input)
	if err != nil {
		return RequestResponse{}, err
	}
	s.setApprover(request, actor)

	if err := s.requestRepo.Update(ctx, request); err != nil {
		return RequestResponse{}, fmt.Errorf("failed to persist approval: %w", err)
	}

	switch {
	case outcome.Rejected:
		s.recorder.Record(ctx, model.AuditEvent{
			OrderNumber: request.OrderNumber,
			Actor:       actor.Name,
			Department:  actor.Department,
			Action:      model.ActionRejectRequest,
			Detail:      fmt.Sprintf("all items refused in itemized approval: %s", request.RejectionReason),
			Severity:    model.SeverityWarning,
		})
		s.dispatchRejection(ctx, request)
	default:
		s.recorder.Record(ctx, model.AuditEvent{
			OrderNumber: request.OrderNumber,
			Actor:       actor.Name,
			Department:  actor.Department,
			Action:      model.ActionPartialApproval,
			Detail:      fmt.Sprintf("%s track approved", actor.Department),
			Severity:    model.SeverityInfo,
		})
		if outcome.Escalated {
			// The converging approval gets its own event, distinct from
			// the per-department partial approvals.
			s.recorder.Record(ctx, model.AuditEvent{
				OrderNumber: request.OrderNumber,
				Actor:       actor.Name,
				Department:  actor.Department,
				Action:      model.ActionReadyToInvoice,
				Detail:      "both approval tracks converged, request released for invoicing",
				Severity:    model.SeveritySuccess,
			})
		}
	}

	return toRequestResponse(request), nil
}

func (s *requestService) Reject(ctx context.Context, actor Actor, id string, req RejectDTO) (RequestResponse, error) {
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}

	if err := workflow.Reject(request, actor.Department, req.Reason); err != nil {
		return RequestResponse{}, err
	}
	s.setApprover(request, actor)

	if err := s.requestRepo.Update(ctx, request); err != nil {
		return RequestResponse{}, fmt.Errorf("failed to persist rejection: %w", err)
	}

	s.recorder.Record(ctx, model.AuditEvent{
		OrderNumber: request.OrderNumber,
		Actor:       actor.Name,
		Department:  actor.Department,
		Action:      model.ActionRejectRequest,
		Detail:      request.RejectionReason,
		Severity:    model.SeverityWarning,
	})
	s.dispatchRejection(ctx, request)

	return toRequestResponse(request), nil
}

func (s *requestService) Unblock(ctx context.Context, actor Actor, id string) (RequestResponse, error) {
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}

	if err := workflow.Unblock(request, actor.Department, actor.Department == model.DeptAdmin); err != nil {
		return RequestResponse{}, err
	}

	if err := s.requestRepo.Update(ctx, request); err != nil {
		return RequestResponse{}, fmt.Errorf("failed to persist unblock: %w", err)
	}

	s.recorder.Record(ctx, model.AuditEvent{
		OrderNumber: request.OrderNumber,
		Actor:       actor.Name,
		Department:  actor.Department,
		Action:      model.ActionUnblockRequest,
		Detail:      fmt.Sprintf("request unblocked, resumed at %s", request.Status),
		Severity:    model.SeverityInfo,
	})

	return toRequestResponse(request), nil
}

func (s *requestService) Invoice(ctx context.Context, actor Actor, id string, req InvoiceDTO) (RequestResponse, error) {
	if actor.Department != model.DeptBilling {
		return RequestResponse{}, &workflow.PermissionError{
			Department: actor.Department,
			Reason:     "only billing can invoice a request",
		}
	}

	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return RequestResponse{}, err
	}

	lock := s.lockForOrder(request.OrderNumber)
	lock.Lock()
	defer lock.Unlock()

	var order *model.Order
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		// Re-read inside the transaction so the lock covers the state check.
		requestID, _ := uuid.Parse(id)
		fresh, txErr := s.requestRepo.FindByID(txCtx, requestID)
		if txErr != nil {
			return notFoundOr(txErr, "billing request %s", id)
		}
		request = fresh

		fulfilled := make([]workflow.FulfilledItem, 0, len(req.Items))
		for _, in := range req.Items {
			fulfilled = append(fulfilled, workflow.FulfilledItem(in))
		}
		items, txErr := workflow.Invoice(request, fulfilled, req.Note, time.Now())
		if txErr != nil {
			return txErr
		}

		order, txErr = s.orderRepo.FindByNumberForUpdate(txCtx, request.OrderNumber)
		if txErr != nil {
			return notFoundOr(txErr, "order %s", request.OrderNumber)
		}
		workflow.ApplyInvoice(order, items)

		if txErr = s.orderRepo.Update(txCtx, order); txErr != nil {
			return fmt.Errorf("failed to persist order balance: %w", txErr)
		}
		if txErr = s.requestRepo.Update(txCtx, request); txErr != nil {
			return fmt.Errorf("failed to persist invoiced request: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return RequestResponse{}, err
	}

	s.recorder.Record(ctx, model.AuditEvent{
		OrderNumber: request.OrderNumber,
		Actor:       actor.Name,
		Department:  actor.Department,
		Action:      model.ActionInvoiceRequest,
		Detail: fmt.Sprintf("invoiced %d item(s), volume %s, order remaining %s",
			len(request.FulfilledItems), request.FulfilledItems.TotalVolume().String(), order.RemainingVolume.String()),
		Severity: model.SeveritySuccess,
	})

	return toRequestResponse(request), nil
}

func (s *requestService) GetRequest(ctx context.Context, id string) (RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return RequestResponse{}, &workflow.ValidationError{Reason: "invalid request id"}
	}
	request, err := s.requestRepo.FindByIDWithRelations(ctx, requestID)
	if err != nil {
		return RequestResponse{}, notFoundOr(err, "billing request %s", id)
	}
	return toRequestResponse(request), nil
}

func (s *requestService) ListRequests(ctx context.Context, filter RequestFilter) ([]RequestResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	requests, total, err := s.requestRepo.List(ctx, filter.Status, filter.Page, filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch billing requests: %w", err)
	}

	result := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		result = append(result, toRequestResponse(&requests[i]))
	}
	return result, total, nil
}

func (s *requestService) ListByOrder(ctx context.Context, orderNumber string) ([]RequestResponse, error) {
	requests, err := s.requestRepo.ListByOrder(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch requests for order %s: %w", orderNumber, err)
	}
	result := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		result = append(result, toRequestResponse(&requests[i]))
	}
	return result, nil
}

// --- Helpers ---

func (s *requestService) loadRequest(ctx context.Context, id string) (*model.BillingRequest, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, &workflow.ValidationError{Reason: "invalid request id"}
	}
	request, err := s.requestRepo.FindByID(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, "billing request %s", id)
	}
	return request, nil
}

func (s *requestService) lockForOrder(orderNumber string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.orderLocks[orderNumber]
	if !ok {
		lock = &sync.Mutex{}
		s.orderLocks[orderNumber] = lock
	}
	return lock
}

func (s *requestService) setApprover(request *model.BillingRequest, actor Actor) {
	if id, err := uuid.Parse(actor.ID); err == nil {
		request.ApprovedBy = &id
	}
}

// dispatchRejection resolves the recipients (requester plus their manager,
// if any) and hands the notice to the notifier. Best effort only.
func (s *requestService) dispatchRejection(ctx context.Context, request *model.BillingRequest) {
	if s.notifier == nil {
		return
	}

	recipients := make([]string, 0, 2)
	if request.RequestedBy != nil {
		requester, err := s.userRepo.GetByID(ctx, request.RequestedBy.String())
		if err != nil {
			log.Printf("rejection notice: requester lookup failed for request %s: %v", request.ID, err)
		} else {
			recipients = append(recipients, requester.Username)
			if requester.Manager != nil {
				recipients = append(recipients, requester.Manager.Username)
			}
		}
	}

	s.notifier.NotifyRejection(RejectionNotice{
		RequestID:   request.ID.String(),
		OrderNumber: request.OrderNumber,
		BlockedBy:   request.BlockedBy,
		Reason:      workflow.StripBlockTag(request.RejectionReason),
		Recipients:  recipients,
	})
}

func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, workflow.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func toRequestResponse(r *model.BillingRequest) RequestResponse {
	resp := RequestResponse{
		ID:                 r.ID.String(),
		OrderNumber:        r.OrderNumber,
		ClientCode:         r.ClientCode,
		ClientName:         r.ClientName,
		Product:            r.Product,
		Unit:               r.Unit,
		Items:              r.Items,
		TotalVolume:        r.TotalVolume.String(),
		Status:             r.Status,
		Deadline:           r.Deadline,
		SellerNote:         r.SellerNote,
		BillingNote:        r.BillingNote,
		CommercialNote:     r.CommercialNote,
		CreditNote:         r.CreditNote,
		IssuanceNote:       r.IssuanceNote,
		CommercialApproved: r.CommercialApproved,
		CreditApproved:     r.CreditApproved,
		BlockedBy:          r.BlockedBy,
		RejectionReason:    r.RejectionReason,
		DisplayReason:      workflow.StripBlockTag(r.RejectionReason),
		FulfilledItems:     r.FulfilledItems,
		CreatedAt:          r.CreatedAt.Format(time.RFC3339),
	}

	if r.RequestedBy != nil {
		id := r.RequestedBy.String()
		resp.RequestedBy = &id
	}
	if r.Requester != nil {
		resp.RequesterName = r.Requester.Username
	}
	if r.Approver != nil {
		resp.ApproverName = r.Approver.Username
	}
	if r.InvoicedAt != nil {
		ts := r.InvoicedAt.Format(time.RFC3339)
		resp.InvoicedAt = &ts
	}

	return resp
}
