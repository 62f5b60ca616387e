/*
handlers.go - HTTP API handlers for the facility scheduling and billing engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Catalog:
    GET    /api/resources                     List resources
    POST   /api/resources                     Register resource (admin)
    GET    /api/resources/{id}                Get resource
    GET    /api/resources/{id}/windows        Available windows in a range
    GET    /api/resources/{id}/reservations   Reservations for a resource
    GET    /api/accounts                      List accounts
    POST   /api/accounts                      Create account

  Reservations:
    POST   /api/reservations                  Request a reservation
    GET    /api/reservations/{id}             Get reservation
    POST   /api/reservations/{id}/cancel      Cancel (fee-liable inside cutoff)
    POST   /api/reservations/{id}/checkin     Check in (start usage)
    POST   /api/reservations/{id}/complete    Record actual usage and price it
    POST   /api/reservations/{id}/missed      Mark a no-show

  Billing:
    POST   /api/orders/items                  Open a quantity-rated line item
    GET    /api/details/{id}                  Get order detail
    POST   /api/details/{id}/start            New -> InProcess
    POST   /api/details/{id}/complete         Price and freeze a line item
    POST   /api/details/{id}/problem          Park for review
    POST   /api/details/{id}/resolve          Return to InProcess
    GET    /api/accounts/{id}/details         Line items for an account
    POST   /api/accounts/{id}/journal-runs    Run a journal batch
    GET    /api/accounts/{id}/journal         Journal rows
    POST   /api/journal/{id}/reverse          Reverse a journal row
    POST   /api/accounts/{id}/statements      Generate a period statement
    GET    /api/accounts/{id}/statements      List statements

  Policies and admin:
    GET    /api/policies                      Policies for a resource
    POST   /api/policies                      Create policy from JSON
    POST   /api/admin/rules                   Create schedule rule
    POST   /api/admin/exceptions              Create blackout/capacity exception
    POST   /api/admin/memberships             Link account to price group
    POST   /api/admin/priority                Set group resolution order

ERROR HANDLING:
  Domain errors map onto HTTP status through the core error taxonomy:
  - 400: invalid input, rule violations, illegal transitions
  - 404: missing entities
  - 409: capacity conflicts, cap rejections, closed statements
  - 503: lock acquisition timeouts (retryable)
  - 500: everything else

SECURITY NOTE:
  Actor identity arrives in request bodies; authentication and
  authorization live in an upstream gateway, not here.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - worker.go: Background journal/statement runs
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/billing"
	"github.com/warp/facility-engine/booking"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/factory"
	"github.com/warp/facility-engine/pricing"
	"github.com/warp/facility-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the persistence surface the handlers read from. Both
// store/memory and store/sqlite satisfy it.
type Store interface {
	core.CatalogStore
	schedule.RuleStore
	booking.ReservationStore
	pricing.PolicyStore
	billing.OrderStore
	billing.JournalStore
	billing.StatementStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Store
	Schedule *schedule.Engine
	Booking  *booking.Scheduler
	Billing  *billing.Service
	Journal  *billing.Journaler
	Stmts    *billing.StatementCreator
	Priority *pricing.GroupPriority
	Factory  *factory.PolicyFactory
	Logger   *zap.Logger
}

// NewHandler wires the full domain stack over one store.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	engine := schedule.NewEngine(store)
	priority := pricing.NewGroupPriority()
	resolver := &pricing.Resolver{
		Policies:   store,
		Membership: pricing.CatalogMemberships{Catalog: store},
		Catalog:    store,
		Priority:   priority,
	}
	calc := &pricing.Calculator{Usage: store}
	svc := billing.NewService(store, resolver, calc)

	sched := booking.NewScheduler(store, engine, store)
	sched.Orders = svc
	sched.Logger = logger

	journaler := billing.NewJournaler(store, store)
	journaler.Logger = logger
	stmts := billing.NewStatementCreator(store, store)
	stmts.Logger = logger

	return &Handler{
		Store:    store,
		Schedule: engine,
		Booking:  sched,
		Billing:  svc,
		Journal:  journaler,
		Stmts:    stmts,
		Priority: priority,
		Factory:  factory.NewPolicyFactory(),
		Logger:   logger,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListResources returns the resources of a facility (or all).
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	facility := core.FacilityID(r.URL.Query().Get("facility_id"))
	resources, err := h.Store.ListResources(r.Context(), facility)
	if err != nil {
		writeDomainError(w, "Failed to list resources", err)
		return
	}
	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = toResourceDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateResource registers a resource.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.FacilityID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id, facility_id and name are required", nil)
		return
	}
	kind := core.ResourceKind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown resource kind", nil)
		return
	}

	rules, err := parseRules(req.Rules)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid booking rules", err)
		return
	}
	res := core.Resource{
		ID:         core.ResourceID(req.ID),
		FacilityID: core.FacilityID(req.FacilityID),
		Name:       req.Name,
		Kind:       kind,
		Rules:      rules,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveResource(r.Context(), res); err != nil {
		writeDomainError(w, "Failed to save resource", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceDTO(res))
}

// GetResource returns a single resource.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := core.ResourceID(chi.URLParam(r, "id"))
	res, err := h.Store.GetResource(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get resource", err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceDTO(*res))
}

// GetWindows returns the available windows of a resource over a range.
// GET /api/resources/{id}/windows?from=RFC3339&to=RFC3339
func (h *Handler) GetWindows(w http.ResponseWriter, r *http.Request) {
	id := core.ResourceID(chi.URLParam(r, "id"))
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from parameter", err)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to parameter", err)
		return
	}

	iter, err := h.Schedule.AvailableWindows(r.Context(), id, core.Interval{Start: from, End: to})
	if err != nil {
		writeDomainError(w, "Failed to compute windows", err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowDTOs(iter.Collect()))
}

// ListResourceReservations returns the reservations of a resource.
func (h *Handler) ListResourceReservations(w http.ResponseWriter, r *http.Request) {
	id := core.ResourceID(chi.URLParam(r, "id"))
	reservations, err := h.Store.ListReservations(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list reservations", err)
		return
	}
	dtos := make([]ReservationDTO, len(reservations))
	for i, res := range reservations {
		dtos[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.ListAccounts(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list accounts", err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = AccountDTO{
			ID:        string(a.ID),
			Name:      a.Name,
			Owner:     a.Owner,
			Suspended: a.Suspended,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount creates a billing account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	a := core.Account{
		ID:        core.AccountID(req.ID),
		Name:      req.Name,
		Owner:     req.Owner,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveAccount(r.Context(), a); err != nil {
		writeDomainError(w, "Failed to save account", err)
		return
	}
	writeJSON(w, http.StatusCreated, AccountDTO{ID: req.ID, Name: req.Name, Owner: req.Owner})
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// CreateReservation books a resource window.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Booking.Request(r.Context(), booking.RequestInput{
		ResourceID: core.ResourceID(req.ResourceID),
		AccountID:  core.AccountID(req.AccountID),
		Window:     core.Interval{Start: req.Start, End: req.End},
		Override:   req.Override,
		Actor:      req.Actor,
	})
	if err != nil {
		writeDomainError(w, "Reservation rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*res))
}

// GetReservation returns a single reservation.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	res, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CancelReservation cancels a reservation; inside the cutoff the linked
// line item is priced with the cancellation fee.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	var req CancelReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Booking.Cancel(r.Context(), id, req.Actor)
	if err != nil {
		writeDomainError(w, "Cancellation rejected", err)
		return
	}

	if res.OrderDetailID != "" {
		planned := pricing.DurationUsage(res.Requested.Duration())
		_, err := h.Billing.Cancel(r.Context(), res.OrderDetailID, res.FeeLiable, planned, res.Requested.Start)
		if err != nil {
			writeDomainError(w, "Failed to settle cancelled line item", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CheckInReservation starts usage.
func (h *Handler) CheckInReservation(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	res, err := h.Booking.CheckIn(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Check-in rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// CompleteReservation records the actual usage window and prices the
// linked line item against it.
func (h *Handler) CompleteReservation(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	var req CompleteReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	actual := core.Interval{Start: req.ActualStart, End: req.ActualEnd}

	res, err := h.Booking.Complete(r.Context(), id, actual)
	if err != nil {
		writeDomainError(w, "Completion rejected", err)
		return
	}

	if res.OrderDetailID != "" {
		usage := pricing.DurationUsage(actual.Duration())
		if _, err := h.Billing.Complete(r.Context(), res.OrderDetailID, usage, actual.Start); err != nil {
			writeDomainError(w, "Failed to price completed usage", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// MarkMissed marks a no-show. The linked line item settles as a
// fee-liable cancellation of the planned window.
func (h *Handler) MarkMissed(w http.ResponseWriter, r *http.Request) {
	id := core.ReservationID(chi.URLParam(r, "id"))
	res, err := h.Booking.MarkMissed(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Missed transition rejected", err)
		return
	}

	if res.OrderDetailID != "" {
		planned := pricing.DurationUsage(res.Requested.Duration())
		_, err := h.Billing.Cancel(r.Context(), res.OrderDetailID, true, planned, res.Requested.Start)
		if err != nil {
			writeDomainError(w, "Failed to settle missed line item", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toReservationDTO(*res))
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// OpenItem opens a quantity-rated line item for an item or service.
func (h *Handler) OpenItem(w http.ResponseWriter, r *http.Request) {
	var req OpenItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil || !qty.IsPositive() {
		writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
		return
	}

	resource, err := h.Store.GetResource(r.Context(), core.ResourceID(req.ResourceID))
	if err != nil {
		writeDomainError(w, "Failed to get resource", err)
		return
	}
	d, err := h.Billing.OpenItemDetail(r.Context(), resource, core.AccountID(req.AccountID), qty)
	if err != nil {
		writeDomainError(w, "Failed to open line item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDetailDTO(*d))
}

// GetDetail returns a single order detail.
func (h *Handler) GetDetail(w http.ResponseWriter, r *http.Request) {
	id := core.OrderDetailID(chi.URLParam(r, "id"))
	d, err := h.Store.GetDetail(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get order detail", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(*d))
}

// StartDetail moves a New line item to InProcess.
func (h *Handler) StartDetail(w http.ResponseWriter, r *http.Request) {
	id := core.OrderDetailID(chi.URLParam(r, "id"))
	d, err := h.Billing.Start(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Start rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(*d))
}

// CompleteDetail prices and freezes a quantity-rated line item.
func (h *Handler) CompleteDetail(w http.ResponseWriter, r *http.Request) {
	id := core.OrderDetailID(chi.URLParam(r, "id"))
	var req CompleteDetailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	d, err := h.Store.GetDetail(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get order detail", err)
		return
	}

	// A reservation-linked detail is duration-rated. Re-pricing one that
	// a failed completion left InProcess must use the reservation's
	// recorded actual window, never a quantity.
	if d.ReservationID != "" {
		res, err := h.Store.GetReservation(r.Context(), d.ReservationID)
		if err != nil {
			writeDomainError(w, "Failed to get reservation", err)
			return
		}
		if res.Actual == nil {
			writeError(w, http.StatusConflict, "reservation has no recorded actual usage", nil)
			return
		}
		usage := pricing.DurationUsage(res.Actual.Duration())
		out, err := h.Billing.Complete(r.Context(), id, usage, res.Actual.Start)
		if err != nil {
			writeDomainError(w, "Completion rejected", err)
			return
		}
		writeJSON(w, http.StatusOK, toDetailDTO(*out))
		return
	}

	qty := d.Quantity
	if req.Quantity != "" {
		qty, err = decimal.NewFromString(req.Quantity)
		if err != nil || !qty.IsPositive() {
			writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
			return
		}
	}
	usageAt := time.Now().UTC()
	if req.UsageAt != nil {
		usageAt = *req.UsageAt
	}

	out, err := h.Billing.Complete(r.Context(), id, pricing.QuantityUsage(qty), usageAt)
	if err != nil {
		writeDomainError(w, "Completion rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(*out))
}

// MarkDetailProblem parks a line item for manual review.
func (h *Handler) MarkDetailProblem(w http.ResponseWriter, r *http.Request) {
	id := core.OrderDetailID(chi.URLParam(r, "id"))
	var req ProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	d, err := h.Billing.MarkProblem(r.Context(), id, req.Note)
	if err != nil {
		writeDomainError(w, "Problem transition rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(*d))
}

// ResolveDetailProblem returns a reviewed line item to InProcess.
func (h *Handler) ResolveDetailProblem(w http.ResponseWriter, r *http.Request) {
	id := core.OrderDetailID(chi.URLParam(r, "id"))
	d, err := h.Billing.ResolveProblem(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Resolve rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(*d))
}

// ListAccountDetails returns the line items of an account.
func (h *Handler) ListAccountDetails(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))
	details, err := h.Store.ListDetailsByAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list order details", err)
		return
	}
	dtos := make([]OrderDetailDTO, len(details))
	for i, d := range details {
		dtos[i] = toDetailDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunJournal runs a journal batch for one account.
func (h *Handler) RunJournal(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))
	var req JournalRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	rows, err := h.Journal.RunBatch(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, "Journal run failed", err)
		return
	}
	dtos := make([]JournalRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toJournalRowDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListJournal returns the journal rows of an account.
func (h *Handler) ListJournal(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))
	rows, err := h.Store.ListRows(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list journal rows", err)
		return
	}
	dtos := make([]JournalRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toJournalRowDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReverseJournalRow voids a row and appends its offset.
func (h *Handler) ReverseJournalRow(w http.ResponseWriter, r *http.Request) {
	id := core.JournalRowID(chi.URLParam(r, "id"))
	var req ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}
	row, err := h.Journal.Reverse(r.Context(), id, req.Reason)
	if err != nil {
		writeDomainError(w, "Reversal failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toJournalRowDTO(*row))
}

// GenerateStatement creates (or returns) the statement for a period.
func (h *Handler) GenerateStatement(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))
	var req GenerateStatementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Year == 0 || req.Month < 1 || req.Month > 12 {
		writeError(w, http.StatusBadRequest, "year and month are required", nil)
		return
	}

	st, err := h.Stmts.Generate(r.Context(), id, core.Period{Year: req.Year, Month: time.Month(req.Month)})
	if err != nil {
		writeDomainError(w, "Statement generation failed", err)
		return
	}
	if st == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toStatementDTO(*st))
}

// ListStatements returns the statements of an account.
func (h *Handler) ListStatements(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))
	statements, err := h.Store.ListStatements(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list statements", err)
		return
	}
	dtos := make([]StatementDTO, len(statements))
	for i, st := range statements {
		dtos[i] = toStatementDTO(st)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// POLICY AND ADMIN HANDLERS
// =============================================================================

// ListPolicies returns the policies of a resource.
// GET /api/policies?resource_id=...
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	resource := core.ResourceID(r.URL.Query().Get("resource_id"))
	if resource == "" {
		writeError(w, http.StatusBadRequest, "resource_id is required", nil)
		return
	}
	policies, err := h.Store.PoliciesFor(r.Context(), resource)
	if err != nil {
		writeDomainError(w, "Failed to list policies", err)
		return
	}
	writeJSON(w, http.StatusOK, policies)
}

// CreatePolicy creates a price policy from its JSON definition.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var pj factory.PolicyJSON
	if err := json.NewDecoder(r.Body).Decode(&pj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	policy, err := h.Factory.FromJSON(pj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy definition", err)
		return
	}
	if err := h.Store.SavePolicy(r.Context(), *policy); err != nil {
		writeDomainError(w, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

// CreateRule adds a recurring availability rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.ResourceID == "" || len(req.Days) == 0 {
		writeError(w, http.StatusBadRequest, "id, resource_id and days are required", nil)
		return
	}
	if req.StartMinute < 0 || req.EndMinute > 24*60 || req.StartMinute >= req.EndMinute {
		writeError(w, http.StatusBadRequest, "minute window must satisfy 0 <= start < end <= 1440", nil)
		return
	}
	if req.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "capacity must be >= 1", nil)
		return
	}

	rule := schedule.ScheduleRule{
		ID:          req.ID,
		ResourceID:  core.ResourceID(req.ResourceID),
		StartMinute: schedule.MinuteOfDay(req.StartMinute),
		EndMinute:   schedule.MinuteOfDay(req.EndMinute),
		Capacity:    req.Capacity,
		CreatedAt:   time.Now().UTC(),
	}
	for _, d := range req.Days {
		if d < 0 || d > 6 {
			writeError(w, http.StatusBadRequest, "days must be 0-6", nil)
			return
		}
		rule.Days = append(rule.Days, time.Weekday(d))
	}
	if req.EffectiveFrom != nil {
		rule.EffectiveFrom = *req.EffectiveFrom
	}
	if req.EffectiveTo != nil {
		rule.EffectiveTo = *req.EffectiveTo
	}

	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeDomainError(w, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rule.ID})
}

// CreateException adds a blackout or capacity override window.
func (h *Handler) CreateException(w http.ResponseWriter, r *http.Request) {
	var req CreateExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	kind := schedule.ExceptionKind(req.Kind)
	if kind != schedule.ExceptionBlackout && kind != schedule.ExceptionCapacity {
		writeError(w, http.StatusBadRequest, "kind must be blackout or capacity", nil)
		return
	}
	window := core.Interval{Start: req.Start, End: req.End}
	if !window.Valid() {
		writeError(w, http.StatusBadRequest, "end must be after start", nil)
		return
	}

	e := schedule.ScheduleException{
		ID:         req.ID,
		ResourceID: core.ResourceID(req.ResourceID),
		Kind:       kind,
		Window:     window,
		Capacity:   req.Capacity,
		Reason:     req.Reason,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveException(r.Context(), e); err != nil {
		writeDomainError(w, "Failed to save exception", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": e.ID})
}

// CreateMembership links an account to a price group.
func (h *Handler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	var req MembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	m := core.Membership{
		AccountID:    core.AccountID(req.AccountID),
		FacilityID:   core.FacilityID(req.FacilityID),
		PriceGroupID: core.PriceGroupID(req.PriceGroupID),
		From:         req.From,
		To:           req.To,
	}
	if err := h.Store.SaveMembership(r.Context(), m); err != nil {
		writeDomainError(w, "Failed to save membership", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// SetPriority replaces the price-group resolution order for a facility.
func (h *Handler) SetPriority(w http.ResponseWriter, r *http.Request) {
	var req PriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.FacilityID == "" || len(req.Groups) == 0 {
		writeError(w, http.StatusBadRequest, "facility_id and groups are required", nil)
		return
	}
	groups := make([]core.PriceGroupID, len(req.Groups))
	for i, g := range req.Groups {
		groups[i] = core.PriceGroupID(g)
	}
	h.Priority.Set(core.FacilityID(req.FacilityID), groups...)
	writeJSON(w, http.StatusOK, req)
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func parseRules(dto BookingRulesDTO) (core.BookingRules, error) {
	rules := core.BookingRules{
		GranularityMinutes: dto.GranularityMinutes,
		MaxPerAccount:      dto.MaxPerAccount,
	}
	for _, f := range []struct {
		src string
		dst *time.Duration
	}{
		{dto.MinDuration, &rules.MinDuration},
		{dto.MaxDuration, &rules.MaxDuration},
		{dto.LeadTime, &rules.LeadTime},
		{dto.CancelCutoff, &rules.CancelCutoff},
		{dto.MissedGrace, &rules.MissedGrace},
	} {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return core.BookingRules{}, err
		}
		*f.dst = d
	}
	return rules, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case core.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	case conflictError(err):
		writeError(w, http.StatusConflict, message, err)
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func conflictError(err error) bool {
	return errors.Is(err, core.ErrConflict) ||
		errors.Is(err, core.ErrSlotUnavailable) ||
		errors.Is(err, core.ErrCapExceeded) ||
		errors.Is(err, core.ErrAlreadyJournaled) ||
		errors.Is(err, core.ErrStatementClosed)
}
