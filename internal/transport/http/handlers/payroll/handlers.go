package payrollhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"paycore/internal/domain/auth"
	"paycore/internal/domain/payroll"
	"paycore/internal/platform/events"
	"paycore/internal/platform/jobs"
	"paycore/internal/transport/http/api"
	"paycore/internal/transport/http/middleware"
	"paycore/internal/transport/http/shared"
)

// EventLister reads the audit trail of one aggregate.
type EventLister interface {
	List(ctx context.Context, aggregateType, aggregateID string, limit int) ([]events.Event, error)
}

type Handler struct {
	Payroll *payroll.Service
	Perms   middleware.PermissionChecker
	Events  EventLister
}

func NewHandler(svc *payroll.Service, perms middleware.PermissionChecker, auditLog EventLister) *Handler {
	return &Handler{Payroll: svc, Perms: perms, Events: auditLog}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	read := middleware.RequirePermission(auth.PermPayrollRead, h.Perms)
	write := middleware.RequirePermission(auth.PermPayrollWrite, h.Perms)
	run := middleware.RequirePermission(auth.PermPayrollRun, h.Perms)
	approve := middleware.RequirePermission(auth.PermPayrollApprove, h.Perms)
	lock := middleware.RequirePermission(auth.PermPayrollLock, h.Perms)

	r.Route("/payroll", func(r chi.Router) {
		r.With(read).Get("/periods", h.handleListPeriods)
		r.With(write).Post("/periods", h.handleCreatePeriod)
		r.With(read).Get("/periods/{periodID}", h.handleGetPeriod)
		r.With(write).Patch("/periods/{periodID}", h.handleUpdatePeriod)
		r.With(run).Post("/periods/{periodID}/calculations", h.handleStartCalculation)
		r.With(run).Post("/periods/{periodID}/recalculate", h.handleRecalculate)
		r.With(read).Get("/periods/{periodID}/calculations", h.handleListCalculations)
		r.With(read).Get("/calculations/{calculationID}", h.handleGetCalculation)
		r.With(run).Post("/calculations/{calculationID}/cancel", h.handleCancelCalculation)

		r.With(read).Get("/periods/{periodID}/adjustments", h.handleListAdjustments)
		r.With(write).Post("/periods/{periodID}/adjustments", h.handleCreateAdjustment)
		r.With(read).Get("/adjustments/{adjustmentID}", h.handleGetAdjustment)
		r.With(write).Patch("/adjustments/{adjustmentID}", h.handleUpdateAdjustment)
		r.With(write).Delete("/adjustments/{adjustmentID}", h.handleDeleteAdjustment)
		r.With(approve).Post("/adjustments/{adjustmentID}/approve", h.handleApproveAdjustment)
		r.With(approve).Post("/adjustments/{adjustmentID}/reject", h.handleRejectAdjustment)

		r.With(run).Post("/periods/{periodID}/submit", h.handleSubmit)
		r.With(read).Get("/periods/{periodID}/review", h.handleReview)
		r.With(approve).Post("/periods/{periodID}/approve", h.handleApprovePeriod)
		r.With(approve).Post("/periods/{periodID}/reject", h.handleRejectPeriod)
		r.With(approve).Post("/periods/{periodID}/steps/{step}/approve", h.handleApproveStep)
		r.With(approve).Post("/periods/{periodID}/steps/{step}/reject", h.handleRejectStep)
		r.With(lock).Post("/periods/{periodID}/pay", h.handleMarkPaid)
		r.With(lock).Post("/periods/{periodID}/close", h.handleClose)
		r.With(lock).Post("/periods/{periodID}/lock", h.handleLock)

		r.With(read).Get("/periods/{periodID}/payslips", h.handleExportPayslips)
		r.With(read).Get("/periods/{periodID}/payslips/{employeeID}/pdf", h.handlePayslipPDF)
		r.With(read).Get("/periods/{periodID}/register", h.handleRegister)
		r.With(read).Get("/periods/{periodID}/events", h.handlePeriodEvents)
	})
}

func actorFrom(r *http.Request) payroll.Actor {
	user, _ := middleware.GetUser(r.Context())
	return payroll.Actor{ID: user.UserID, Role: user.Role}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, dst)
}

type periodPayload struct {
	PeriodType string `json:"periodType"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	CutoffDate string `json:"cutoffDate"`
	PayDate    string `json:"payDate"`
}

func (p periodPayload) input(w http.ResponseWriter, r *http.Request) (payroll.PeriodInput, bool) {
	v := shared.NewValidator()
	v.Required("periodType", p.PeriodType, "is required")
	start, _ := v.Date("startDate", p.StartDate)
	end, _ := v.Date("endDate", p.EndDate)
	cutoff, _ := v.Date("cutoffDate", p.CutoffDate)
	pay, _ := v.Date("payDate", p.PayDate)
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return payroll.PeriodInput{}, false
	}
	return payroll.PeriodInput{
		Type:       payroll.PeriodType(strings.TrimSpace(p.PeriodType)),
		StartDate:  start,
		EndDate:    end,
		CutoffDate: cutoff,
		PayDate:    pay,
	}, true
}

func (h *Handler) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePagination(r, 50, 200)
	filter := payroll.PeriodFilter{
		Status: payroll.PeriodStatus(r.URL.Query().Get("status")),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	periods, total, err := h.Payroll.Periods.ListPeriods(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, periods, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var payload periodPayload
	if !decode(w, r, &payload) {
		return
	}
	in, ok := payload.input(w, r)
	if !ok {
		return
	}
	period, err := h.Payroll.Periods.CreatePeriod(r.Context(), in, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.Payroll.Periods.GetPeriod(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdatePeriod(w http.ResponseWriter, r *http.Request) {
	var payload periodPayload
	if !decode(w, r, &payload) {
		return
	}
	in, ok := payload.input(w, r)
	if !ok {
		return
	}
	period, err := h.Payroll.Periods.UpdatePeriod(r.Context(), chi.URLParam(r, "periodID"), in, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

type startPayload struct {
	CalculationType string `json:"calculationType"`
}

func (h *Handler) handleStartCalculation(w http.ResponseWriter, r *http.Request) {
	var payload startPayload
	if !decodeOptional(w, r, &payload) {
		return
	}
	calcType := payroll.CalcRegular
	if payload.CalculationType != "" {
		calcType = payroll.CalculationType(payload.CalculationType)
	}
	calc, err := h.Payroll.Periods.StartCalculation(r.Context(), chi.URLParam(r, "periodID"), calcType, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Accepted(w, calc, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	calc, err := h.Payroll.Periods.Recalculate(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Accepted(w, calc, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListCalculations(w http.ResponseWriter, r *http.Request) {
	calcs, err := h.Payroll.Periods.ListCalculations(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, calcs, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetCalculation(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Payroll.Periods.GetCalculation(r.Context(), chi.URLParam(r, "calculationID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, detail, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCancelCalculation(w http.ResponseWriter, r *http.Request) {
	calc, err := h.Payroll.Periods.Cancel(r.Context(), chi.URLParam(r, "calculationID"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, calc, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	filter := payroll.AdjustmentFilter{
		PeriodID:   chi.URLParam(r, "periodID"),
		EmployeeID: r.URL.Query().Get("employeeId"),
		Status:     payroll.AdjustmentStatus(r.URL.Query().Get("status")),
	}
	adjustments, err := h.Payroll.Ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, adjustments, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleCreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req payroll.AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	req.PeriodID = chi.URLParam(r, "periodID")
	adjustment, err := h.Payroll.Ledger.Store(r.Context(), req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Created(w, adjustment, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetAdjustment(w http.ResponseWriter, r *http.Request) {
	adjustment, err := h.Payroll.Ledger.Get(r.Context(), chi.URLParam(r, "adjustmentID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, adjustment, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req payroll.AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	adjustment, err := h.Payroll.Ledger.Update(r.Context(), chi.URLParam(r, "adjustmentID"), req, actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, adjustment, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "adjustmentID")
	if err := h.Payroll.Ledger.Delete(r.Context(), id, actorFrom(r)); err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, map[string]string{"id": id, "status": "deleted"}, middleware.GetRequestID(r.Context()))
}

type reviewPayload struct {
	Notes string `json:"notes"`
}

func (h *Handler) handleApproveAdjustment(w http.ResponseWriter, r *http.Request) {
	var payload reviewPayload
	if !decodeOptional(w, r, &payload) {
		return
	}
	adjustment, err := h.Payroll.Ledger.Approve(r.Context(), chi.URLParam(r, "adjustmentID"), actorFrom(r), payload.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, adjustment, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRejectAdjustment(w http.ResponseWriter, r *http.Request) {
	var payload reviewPayload
	if !decode(w, r, &payload) {
		return
	}
	adjustment, err := h.Payroll.Ledger.Reject(r.Context(), chi.URLParam(r, "adjustmentID"), actorFrom(r), payload.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, adjustment, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	workflow, err := h.Payroll.Periods.SubmitForReview(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, workflow, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Payroll.Approvals.Review(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

type approvePayload struct {
	Comments string `json:"comments"`
	Override bool   `json:"override"`
}

type rejectPayload struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleApprovePeriod(w http.ResponseWriter, r *http.Request) {
	var payload approvePayload
	if !decodeOptional(w, r, &payload) {
		return
	}
	summary, err := h.Payroll.Periods.ApprovePeriod(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r), payload.Comments, payload.Override)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRejectPeriod(w http.ResponseWriter, r *http.Request) {
	var payload rejectPayload
	if !decode(w, r, &payload) {
		return
	}
	summary, err := h.Payroll.Periods.RejectPeriod(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r), payload.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func stepIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || index < 1 {
		shared.FailValidation(w, middleware.GetRequestID(r.Context()), []shared.ValidationIssue{{Field: "step", Reason: "must be a positive step number"}})
		return 0, false
	}
	return index, true
}

func (h *Handler) handleApproveStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var payload approvePayload
	if !decodeOptional(w, r, &payload) {
		return
	}
	summary, err := h.Payroll.Approvals.ApproveStep(r.Context(), chi.URLParam(r, "periodID"), index, actorFrom(r), payload.Comments, payload.Override)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRejectStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var payload rejectPayload
	if !decode(w, r, &payload) {
		return
	}
	summary, err := h.Payroll.Approvals.RejectStep(r.Context(), chi.URLParam(r, "periodID"), index, actorFrom(r), payload.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, summary, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	period, err := h.Payroll.Periods.MarkPaid(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	period, err := h.Payroll.Periods.ClosePeriod(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	period, err := h.Payroll.Periods.LockPeriod(r.Context(), chi.URLParam(r, "periodID"), actorFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, period, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExportPayslips(w http.ResponseWriter, r *http.Request) {
	slips, err := h.Payroll.Exporter.Export(r.Context(), chi.URLParam(r, "periodID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, slips, middleware.GetRequestID(r.Context()))
}

// handlePayslipPDF renders the payslip on demand, or serves the encrypted
// archive copy with ?archived=true.
func (h *Handler) handlePayslipPDF(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")
	employeeID := chi.URLParam(r, "employeeID")
	var (
		doc []byte
		err error
	)
	if archived, _ := strconv.ParseBool(r.URL.Query().Get("archived")); archived {
		doc, err = h.Payroll.Exporter.OpenArchived(r.Context(), periodID, employeeID)
	} else {
		doc, err = h.Payroll.Exporter.RenderPDF(r.Context(), periodID, employeeID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=payslip-"+employeeID+".pdf")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc); err != nil {
		slog.Warn("payslip write failed", "periodId", periodID, "employeeId", employeeID, "err", err)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	periodID := chi.URLParam(r, "periodID")
	var buf bytes.Buffer
	if err := h.Payroll.Exporter.WriteRegister(r.Context(), periodID, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=register-"+periodID+".csv")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("register write failed", "periodId", periodID, "err", err)
	}
}

func (h *Handler) handlePeriodEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		api.Fail(w, http.StatusNotImplemented, "audit_unavailable", "audit trail requires the postgres store", middleware.GetRequestID(r.Context()))
		return
	}
	periodID := chi.URLParam(r, "periodID")
	if _, err := h.Payroll.Periods.GetPeriod(r.Context(), periodID); err != nil {
		writeError(w, r, err)
		return
	}
	page := shared.ParsePagination(r, 100, 500)
	list, err := h.Events.List(r.Context(), "period", periodID, page.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.Success(w, list, middleware.GetRequestID(r.Context()))
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// errorMappings is checked in order; ErrPeriodLocked wraps
// ErrImmutableRecord and must come first.
var errorMappings = []errorMapping{
	{payroll.ErrPeriodLocked, http.StatusConflict, "period_locked", ""},
	{payroll.ErrPeriodNotFound, http.StatusNotFound, "not_found", ""},
	{payroll.ErrCalculationNotFound, http.StatusNotFound, "not_found", ""},
	{payroll.ErrAdjustmentNotFound, http.StatusNotFound, "not_found", ""},
	{payroll.ErrWorkflowNotFound, http.StatusNotFound, "not_found", ""},
	{payroll.ErrEmployeeNotFound, http.StatusNotFound, "not_found", ""},
	{payroll.ErrStepNotFound, http.StatusNotFound, "not_found", ""},
	{payroll.ErrInvalidTransition, http.StatusConflict, "invalid_transition", ""},
	{payroll.ErrCalculationInProgress, http.StatusConflict, "calculation_in_progress", ""},
	{payroll.ErrOutOfOrder, http.StatusConflict, "out_of_order", ""},
	{payroll.ErrAlreadyApproved, http.StatusConflict, "already_approved", ""},
	{payroll.ErrImmutableRecord, http.StatusConflict, "immutable_record", ""},
	{payroll.ErrOverrideRequired, http.StatusConflict, "override_required", ""},
	{payroll.ErrNoCompletedCalculation, http.StatusConflict, "no_completed_calculation", ""},
	{payroll.ErrConcurrentModification, http.StatusConflict, "concurrent_modification", ""},
	{payroll.ErrRoleMismatch, http.StatusForbidden, "role_mismatch", ""},
	{payroll.ErrLockUnavailable, http.StatusServiceUnavailable, "lock_unavailable", "calculation lock unavailable, retry later"},
	{jobs.ErrQueueFull, http.StatusServiceUnavailable, "job_queue_unavailable", "calculation queue is busy, retry later"},
	{jobs.ErrStopped, http.StatusServiceUnavailable, "job_queue_unavailable", "calculation queue is shutting down, retry later"},
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())
	var ve *payroll.ValidationError
	if errors.As(err, &ve) {
		api.FailWithDetails(w, http.StatusBadRequest, "validation_error", "payload validation failed", map[string]any{"fields": ve.Issues}, requestID)
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = err.Error()
			}
			api.Fail(w, m.status, m.code, message, requestID)
			return
		}
	}
	slog.Error("payroll request failed", "method", r.Method, "path", r.URL.Path, "requestId", requestID, "err", err)
	api.Fail(w, http.StatusInternalServerError, "internal_error", "internal server error", requestID)
}
