/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary amounts are JSON strings ("12.50"), never floats.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/warp/facility-engine/billing"
	"github.com/warp/facility-engine/booking"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/schedule"
)

// =============================================================================
// CATALOG
// =============================================================================

// ResourceDTO represents a bookable or purchasable resource.
type ResourceDTO struct {
	ID         string          `json:"id"`
	FacilityID string          `json:"facility_id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Rules      BookingRulesDTO `json:"rules"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

// BookingRulesDTO carries per-resource scheduling constraints. Durations
// are Go duration strings ("30m", "24h").
type BookingRulesDTO struct {
	GranularityMinutes int    `json:"granularity_minutes,omitempty"`
	MinDuration        string `json:"min_duration,omitempty"`
	MaxDuration        string `json:"max_duration,omitempty"`
	LeadTime           string `json:"lead_time,omitempty"`
	CancelCutoff       string `json:"cancel_cutoff,omitempty"`
	MissedGrace        string `json:"missed_grace,omitempty"`
	MaxPerAccount      int    `json:"max_per_account,omitempty"`
}

// CreateResourceRequest is the admin request to register a resource.
type CreateResourceRequest struct {
	ID         string          `json:"id"`
	FacilityID string          `json:"facility_id"`
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Rules      BookingRulesDTO `json:"rules"`
}

// AccountDTO represents a billing account.
type AccountDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Owner     string `json:"owner,omitempty"`
	Suspended bool   `json:"suspended,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// MembershipRequest links an account to a price group.
type MembershipRequest struct {
	AccountID    string     `json:"account_id"`
	FacilityID   string     `json:"facility_id"`
	PriceGroupID string     `json:"price_group_id"`
	From         time.Time  `json:"from"`
	To           *time.Time `json:"to,omitempty"`
}

// PriorityRequest sets the price-group resolution order for a facility.
type PriorityRequest struct {
	FacilityID string   `json:"facility_id"`
	Groups     []string `json:"groups"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// WindowDTO is one bookable window with its concurrency capacity.
type WindowDTO struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Capacity int    `json:"capacity"`
}

// CreateRuleRequest defines a recurring weekly availability rule.
type CreateRuleRequest struct {
	ID            string     `json:"id"`
	ResourceID    string     `json:"resource_id"`
	Days          []int      `json:"days"` // 0=Sunday ... 6=Saturday
	StartMinute   int        `json:"start_minute"`
	EndMinute     int        `json:"end_minute"`
	Capacity      int        `json:"capacity"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
}

// CreateExceptionRequest defines a one-off blackout or capacity change.
type CreateExceptionRequest struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	Kind       string    `json:"kind"` // blackout, capacity
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Capacity   int       `json:"capacity,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID            string  `json:"id"`
	ResourceID    string  `json:"resource_id"`
	AccountID     string  `json:"account_id"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	ActualStart   *string `json:"actual_start,omitempty"`
	ActualEnd     *string `json:"actual_end,omitempty"`
	Status        string  `json:"status"`
	OrderDetailID string  `json:"order_detail_id,omitempty"`
	Override      bool    `json:"override,omitempty"`
	FeeLiable     bool    `json:"fee_liable,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// CreateReservationRequest is the request to book a resource.
type CreateReservationRequest struct {
	ResourceID string    `json:"resource_id"`
	AccountID  string    `json:"account_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Override   bool      `json:"override,omitempty"`
	Actor      string    `json:"actor"`
}

// CancelReservationRequest identifies who cancelled.
type CancelReservationRequest struct {
	Actor string `json:"actor"`
}

// CompleteReservationRequest records the actual usage window.
type CompleteReservationRequest struct {
	ActualStart time.Time `json:"actual_start"`
	ActualEnd   time.Time `json:"actual_end"`
}

// =============================================================================
// BILLING
// =============================================================================

// OrderDetailDTO represents a billable line item.
type OrderDetailDTO struct {
	ID            string   `json:"id"`
	OrderID       string   `json:"order_id"`
	ResourceID    string   `json:"resource_id"`
	AccountID     string   `json:"account_id"`
	Kind          string   `json:"kind"`
	ReservationID string   `json:"reservation_id,omitempty"`
	Quantity      string   `json:"quantity,omitempty"`
	Status        string   `json:"status"`
	PolicyID      string   `json:"policy_id,omitempty"`
	Cost          *CostDTO `json:"cost,omitempty"`
	CostKind      string   `json:"cost_kind,omitempty"`
	BilledUnits   string   `json:"billed_units,omitempty"`
	UsageAt       string   `json:"usage_at,omitempty"`
	ProblemNote   string   `json:"problem_note,omitempty"`
	Journaled     bool     `json:"journaled"`
}

// CostDTO is a frozen cost breakdown.
type CostDTO struct {
	Base    string `json:"base"`
	Subsidy string `json:"subsidy"`
	Net     string `json:"net"`
}

// OpenItemRequest creates a quantity-rated line item.
type OpenItemRequest struct {
	ResourceID string `json:"resource_id"`
	AccountID  string `json:"account_id"`
	Quantity   string `json:"quantity"`
}

// CompleteDetailRequest finalizes a quantity-rated line item.
type CompleteDetailRequest struct {
	Quantity string     `json:"quantity,omitempty"`
	UsageAt  *time.Time `json:"usage_at,omitempty"`
}

// ProblemRequest parks a detail for manual review.
type ProblemRequest struct {
	Note string `json:"note"`
}

// JournalRowDTO represents one journal entry.
type JournalRowDTO struct {
	ID            string `json:"id"`
	OrderDetailID string `json:"order_detail_id"`
	AccountID     string `json:"account_id"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
	JournalDate   string `json:"journal_date"`
	BatchID       string `json:"batch_id"`
	Voided        bool   `json:"voided,omitempty"`
	ReversesRowID string `json:"reverses_row_id,omitempty"`
	StatementID   string `json:"statement_id,omitempty"`
}

// JournalRunRequest triggers a journal batch for an account.
type JournalRunRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

// ReverseRequest reverses a journal row.
type ReverseRequest struct {
	Reason string `json:"reason"`
}

// StatementDTO represents a monthly statement.
type StatementDTO struct {
	ID        string   `json:"id"`
	AccountID string   `json:"account_id"`
	Period    string   `json:"period"`
	RowIDs    []string `json:"row_ids"`
	Total     string   `json:"total"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// GenerateStatementRequest selects the statement period.
type GenerateStatementRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toResourceDTO(r core.Resource) ResourceDTO {
	return ResourceDTO{
		ID:         string(r.ID),
		FacilityID: string(r.FacilityID),
		Name:       r.Name,
		Kind:       string(r.Kind),
		Rules: BookingRulesDTO{
			GranularityMinutes: r.Rules.GranularityMinutes,
			MinDuration:        durationString(r.Rules.MinDuration),
			MaxDuration:        durationString(r.Rules.MaxDuration),
			LeadTime:           durationString(r.Rules.LeadTime),
			CancelCutoff:       durationString(r.Rules.CancelCutoff),
			MissedGrace:        durationString(r.Rules.MissedGrace),
			MaxPerAccount:      r.Rules.MaxPerAccount,
		},
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func toWindowDTOs(windows []schedule.Window) []WindowDTO {
	dtos := make([]WindowDTO, len(windows))
	for i, w := range windows {
		dtos[i] = WindowDTO{
			Start:    w.Interval.Start.Format(time.RFC3339),
			End:      w.Interval.End.Format(time.RFC3339),
			Capacity: w.Capacity,
		}
	}
	return dtos
}

func toReservationDTO(r booking.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:            string(r.ID),
		ResourceID:    string(r.ResourceID),
		AccountID:     string(r.AccountID),
		Start:         r.Requested.Start.Format(time.RFC3339),
		End:           r.Requested.End.Format(time.RFC3339),
		Status:        string(r.Status),
		OrderDetailID: string(r.OrderDetailID),
		Override:      r.Override,
		FeeLiable:     r.FeeLiable,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.Actual != nil {
		dto.ActualStart = strPtr(r.Actual.Start.Format(time.RFC3339))
		dto.ActualEnd = strPtr(r.Actual.End.Format(time.RFC3339))
	}
	return dto
}

func toDetailDTO(d billing.OrderDetail) OrderDetailDTO {
	dto := OrderDetailDTO{
		ID:            string(d.ID),
		OrderID:       string(d.OrderID),
		ResourceID:    string(d.ResourceID),
		AccountID:     string(d.AccountID),
		Kind:          string(d.Kind),
		ReservationID: string(d.ReservationID),
		Status:        string(d.Status),
		PolicyID:      string(d.PolicyID),
		CostKind:      string(d.CostKind),
		ProblemNote:   d.ProblemNote,
		Journaled:     d.JournalBatchID != "",
	}
	if !d.Quantity.IsZero() {
		dto.Quantity = d.Quantity.String()
	}
	if !d.BilledUnits.IsZero() {
		dto.BilledUnits = d.BilledUnits.String()
	}
	if !d.UsageAt.IsZero() {
		dto.UsageAt = d.UsageAt.Format(time.RFC3339)
	}
	if d.Cost != nil {
		dto.Cost = &CostDTO{
			Base:    d.Cost.Base.Value.StringFixed(2),
			Subsidy: d.Cost.Subsidy.Value.StringFixed(2),
			Net:     d.Cost.Net.Value.StringFixed(2),
		}
	}
	return dto
}

func toJournalRowDTO(r billing.JournalRow) JournalRowDTO {
	return JournalRowDTO{
		ID:            string(r.ID),
		OrderDetailID: string(r.OrderDetailID),
		AccountID:     string(r.AccountID),
		Amount:        r.Amount.Value.StringFixed(2),
		Description:   r.Description,
		JournalDate:   r.JournalDate.Format(time.RFC3339),
		BatchID:       r.BatchID,
		Voided:        r.Voided,
		ReversesRowID: string(r.ReversesRowID),
		StatementID:   string(r.StatementID),
	}
}

func toStatementDTO(st billing.Statement) StatementDTO {
	rowIDs := make([]string, len(st.RowIDs))
	for i, id := range st.RowIDs {
		rowIDs[i] = string(id)
	}
	return StatementDTO{
		ID:        string(st.ID),
		AccountID: string(st.AccountID),
		Period:    st.Period.String(),
		RowIDs:    rowIDs,
		Total:     st.Total.Value.StringFixed(2),
		CreatedAt: st.CreatedAt.Format(time.RFC3339),
	}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func strPtr(s string) *string {
	return &s
}
