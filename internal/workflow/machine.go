package workflow

import (
	"fmt"
	"strings"
	"time"

	"faturamento/internal/model"
)

// The request lifecycle:
//
//	PENDING -> UNDER_REVIEW -> READY_TO_INVOICE -> INVOICED
//
// with REJECTED reachable from any of the first three states, and Unblock
// resuming from REJECTED at a point derived from who blocked. INVOICED is
// terminal. UNDER_REVIEW is the only state where the two approval tracks
// (commercial, credit) are independent; they converge to READY_TO_INVOICE
// regardless of arrival order.

// Display tags for the blocking department, used in the stored rejection
// reason. The tag is produced here and stripped for display elsewhere,
// never re-parsed for logic (BlockedBy carries the department).
var blockTags = map[string]string{
	model.DeptBilling:    "FATURAMENTO",
	model.DeptCommercial: "COMERCIAL",
	model.DeptCredit:     "CREDITO",
}

// FormatBlockReason prefixes a rejection reason with the blocking
// department's display tag: "[BLOQUEIO: CREDITO] limit exceeded".
func FormatBlockReason(department, reason string) string {
	tag, ok := blockTags[department]
	if !ok {
		tag = department
	}
	return fmt.Sprintf("[BLOQUEIO: %s] %s", tag, reason)
}

// StripBlockTag removes the "[BLOQUEIO: ...]" prefix for display.
func StripBlockTag(reason string) string {
	if !strings.HasPrefix(reason, "[BLOQUEIO:") {
		return reason
	}
	if idx := strings.Index(reason, "]"); idx >= 0 {
		return strings.TrimSpace(reason[idx+1:])
	}
	return reason
}

// SubmitItem is one revised line supplied by billing at submission time.
// Relative to the originally requested items, a line may shrink, be
// dropped, or gain a note; dropped volume is never drawn down from the
// order.
type SubmitItem struct {
	Product string
	Volume  string
	Unit    string
	Note    string
}

// SubmitForReview moves a PENDING request into UNDER_REVIEW with the
// revised item set and mandatory deadline. Both approval flags reset and
// any previous rejection bookkeeping is cleared, so a restart after a
// billing-attributed rejection is a clean reset.
func SubmitForReview(req *model.BillingRequest, items []SubmitItem, deadline, note string) error {
	if req.Status != model.RequestStatusPending {
		return validationf("only PENDING requests can be submitted for review, request is %s", req.Status)
	}
	if strings.TrimSpace(deadline) == "" {
		return validationf("deadline required")
	}
	if len(items) == 0 {
		return validationf("at least one line item required")
	}

	submitted := make(model.LineItems, 0, len(items))
	for _, in := range items {
		volume, err := ParseVolume(in.Volume)
		if err != nil {
			return validationf("invalid volume %q for item %s", in.Volume, in.Product)
		}
		if !volume.IsPositive() {
			return validationf("volume must be positive for item %s", in.Product)
		}
		submitted = append(submitted, model.LineItem{
			Product: in.Product,
			Volume:  volume,
			Unit:    in.Unit,
			Note:    in.Note,
		})
	}

	req.Items = submitted
	req.TotalVolume = submitted.TotalVolume()
	req.Product = displayProduct(submitted)
	req.Deadline = deadline
	req.BillingNote = note
	req.CommercialApproved = false
	req.CreditApproved = false
	req.BlockedBy = ""
	req.RejectionReason = ""
	req.Status = model.RequestStatusUnderReview
	return nil
}

// ItemDecision is one line of an itemized commercial approval.
type ItemDecision struct {
	Product  string
	Approved bool
	Reason   string
}

// ApprovalInput carries one department's approve-step call.
type ApprovalInput struct {
	Department string
	Note       string
	// ItemSplit is the optional per-item accept/reject split of an
	// itemized commercial approval.
	ItemSplit []ItemDecision
}

// ApproveOutcome reports what the compound transition did.
type ApproveOutcome struct {
	// Escalated is true when this approval was the second track to land
	// and the request moved on to READY_TO_INVOICE.
	Escalated bool
	// Rejected is true when an itemized split rejected every item and the
	// call collapsed into a full rejection.
	Rejected bool
	// RejectedItems lists the products refused by an itemized split.
	RejectedItems []ItemDecision
}

// Approve applies one department's approval track to an UNDER_REVIEW
// request. Approving is idempotent per department: re-approving only
// overwrites the note. When the other track is already approved the
// request auto-escalates to READY_TO_INVOICE.
//
// A commercial approval may be itemized. An all-rejected split collapses
// into a full rejection using the first rejected item's reason; otherwise
// the accepted subset becomes the request's effective composition and the
// refused items are noted.
func Approve(req *model.BillingRequest, in ApprovalInput) (ApproveOutcome, error) {
	if in.Department != model.DeptCommercial && in.Department != model.DeptCredit {
		return ApproveOutcome{}, permissionf(in.Department, "department %s has no approval track", in.Department)
	}
	if req.Status != model.RequestStatusUnderReview {
		return ApproveOutcome{}, validationf("only requests under review can be approved, request is %s", req.Status)
	}

	var outcome ApproveOutcome
	if in.Department == model.DeptCommercial && len(in.ItemSplit) > 0 {
		accepted := make(map[string]bool, len(in.ItemSplit))
		for _, decision := range in.ItemSplit {
			if decision.Approved {
				accepted[decision.Product] = true
			} else {
				outcome.RejectedItems = append(outcome.RejectedItems, decision)
			}
		}
		if len(accepted) == 0 {
			// Every item refused: the split degenerates into a plain
			// rejection carrying the first item's reason.
			if err := Reject(req, model.DeptCommercial, outcome.RejectedItems[0].Reason); err != nil {
				return ApproveOutcome{}, err
			}
			outcome.Rejected = true
			return outcome, nil
		}

		kept := make(model.LineItems, 0, len(req.Items))
		for _, item := range req.Items {
			if accepted[item.Product] {
				kept = append(kept, item)
			}
		}
		req.Items = kept
		req.TotalVolume = kept.TotalVolume()
		req.Product = displayProduct(kept)
		in.Note = appendRefusedItems(in.Note, outcome.RejectedItems)
	}

	switch in.Department {
	case model.DeptCommercial:
		req.CommercialApproved = true
	case model.DeptCredit:
		req.CreditApproved = true
	}
	req.SetDepartmentNote(in.Department, in.Note)

	if req.CommercialApproved && req.CreditApproved {
		req.Status = model.RequestStatusReadyToInvoice
		outcome.Escalated = true
	}
	return outcome, nil
}

func appendRefusedItems(note string, refused []ItemDecision) string {
	if len(refused) == 0 {
		return note
	}
	parts := make([]string, 0, len(refused))
	for _, d := range refused {
		if d.Reason != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", d.Product, d.Reason))
		} else {
			parts = append(parts, d.Product)
		}
	}
	annotation := "itens recusados: " + strings.Join(parts, ", ")
	if note == "" {
		return annotation
	}
	return note + "; " + annotation
}

// Reject parks a request in REJECTED, attributing blame to the caller's
// department. Allowed from PENDING, UNDER_REVIEW and READY_TO_INVOICE.
// Approval flags are left untouched so a later unblock can resume the
// surviving track.
func Reject(req *model.BillingRequest, department, reason string) error {
	switch department {
	case model.DeptBilling, model.DeptCommercial, model.DeptCredit:
	default:
		return permissionf(department, "department %s cannot reject requests", department)
	}
	switch req.Status {
	case model.RequestStatusPending, model.RequestStatusUnderReview, model.RequestStatusReadyToInvoice:
	case model.RequestStatusInvoiced:
		return validationf("already invoiced, cannot reject")
	default:
		return validationf("request is already %s", req.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return validationf("reason required")
	}

	req.Status = model.RequestStatusRejected
	req.BlockedBy = department
	req.RejectionReason = FormatBlockReason(department, reason)
	return nil
}

// Unblock reverses a rejection. Only the blocking department (or an
// admin) may call it. The resume point is derived from who blocked:
// billing restarts from PENDING with both tracks cleared; commercial or
// credit resume UNDER_REVIEW with only their own track cleared. The
// blocking department's note is dropped, the other department's kept.
func Unblock(req *model.BillingRequest, actorDepartment string, isAdmin bool) error {
	if req.Status != model.RequestStatusRejected {
		return validationf("only rejected requests can be unblocked, request is %s", req.Status)
	}
	if !isAdmin && actorDepartment != req.BlockedBy {
		return permissionf(actorDepartment, "only %s or an admin can unblock this request", req.BlockedBy)
	}

	blocker := req.BlockedBy
	switch blocker {
	case model.DeptBilling:
		req.Status = model.RequestStatusPending
		req.CommercialApproved = false
		req.CreditApproved = false
	case model.DeptCommercial:
		req.Status = model.RequestStatusUnderReview
		req.CommercialApproved = false
	case model.DeptCredit:
		req.Status = model.RequestStatusUnderReview
		req.CreditApproved = false
	default:
		// Unknown blocker: restart from scratch.
		req.Status = model.RequestStatusPending
		req.CommercialApproved = false
		req.CreditApproved = false
	}

	req.BlockedBy = ""
	req.RejectionReason = ""
	req.ClearDepartmentNote(blocker)
	return nil
}

// Invoice finishes a READY_TO_INVOICE request with the volumes actually
// fulfilled per line. Items whose fulfilled volume does not parse to a
// positive number are excluded rather than refused, to accommodate partial
// stock availability; an invoice where every item was excluded still
// transitions, with an empty fulfilled set.
func Invoice(req *model.BillingRequest, fulfilled []FulfilledItem, note string, now time.Time) (model.LineItems, error) {
	if req.Status != model.RequestStatusReadyToInvoice {
		return nil, validationf("only requests released for invoicing can be invoiced, request is %s", req.Status)
	}

	items := FilterFulfilled(fulfilled)
	req.FulfilledItems = items
	req.InvoicedAt = &now
	if note != "" {
		req.IssuanceNote = note
	}
	req.Status = model.RequestStatusInvoiced
	return items, nil
}
