package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/api"
	"github.com/warp/facility-engine/factory"
	"github.com/warp/facility-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// monday is the frozen request-time clock: Monday March 2 2026, 07:00 UTC.
// The seeded confocal rule opens weekdays 08:00-20:00.
var monday = time.Date(2026, time.March, 2, 7, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *api.Handler) {
	store := memory.New()
	h := api.NewHandler(store, zap.NewNop())

	require.NoError(t, factory.Seed(context.Background(), factory.SeedStores{
		Catalog:  store,
		Rules:    store,
		Policies: store,
		Priority: h.Priority,
	}))

	h.Booking.Clock = func() time.Time { return monday }
	h.Billing.Clock = func() time.Time { return monday }

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return srv, h
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func reserve(t *testing.T, srv *httptest.Server, account string, start, end time.Time) api.ReservationDTO {
	t.Helper()
	var dto api.ReservationDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", api.CreateReservationRequest{
		ResourceID: string(factory.DemoConfocal),
		AccountID:  account,
		Start:      start,
		End:        end,
		Actor:      account,
	}, &dto)
	require.Equal(t, http.StatusCreated, status)
	return dto
}

// =============================================================================
// END-TO-END FLOW
// =============================================================================

func TestAPI_ReservationToStatement_FullFlow(t *testing.T) {
	// GIVEN: The seeded demo facility
	// WHEN: Booking, using and completing a confocal session, then running
	//       the journal and generating the March statement
	// THEN: The internal rate ($25/h, 50% subsidy) flows through to a
	//       $25.00 statement total

	srv, _ := newTestServer(t)
	start := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	res := reserve(t, srv, string(factory.DemoAccountLab), start, end)
	assert.Equal(t, "confirmed", res.Status)
	require.NotEmpty(t, res.OrderDetailID)

	status := doJSON(t, http.MethodPost, srv.URL+"/api/reservations/"+res.ID+"/checkin", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var done api.ReservationDTO
	status = doJSON(t, http.MethodPost, srv.URL+"/api/reservations/"+res.ID+"/complete",
		api.CompleteReservationRequest{ActualStart: start, ActualEnd: end}, &done)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", done.Status)

	var detail api.OrderDetailDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/details/"+res.OrderDetailID, nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "complete", detail.Status)
	require.NotNil(t, detail.Cost)
	assert.Equal(t, "50.00", detail.Cost.Base)
	assert.Equal(t, "25.00", detail.Cost.Subsidy)
	assert.Equal(t, "25.00", detail.Cost.Net)

	var rows []api.JournalRowDTO
	status = doJSON(t, http.MethodPost,
		srv.URL+"/api/accounts/"+string(factory.DemoAccountLab)+"/journal-runs",
		api.JournalRunRequest{}, &rows)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, rows, 1)
	assert.Equal(t, "25.00", rows[0].Amount)

	var st api.StatementDTO
	status = doJSON(t, http.MethodPost,
		srv.URL+"/api/accounts/"+string(factory.DemoAccountLab)+"/statements",
		api.GenerateStatementRequest{Year: 2026, Month: 3}, &st)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "2026-03", st.Period)
	assert.Equal(t, "25.00", st.Total)
	assert.Len(t, st.RowIDs, 1)

	var statements []api.StatementDTO
	status = doJSON(t, http.MethodGet,
		srv.URL+"/api/accounts/"+string(factory.DemoAccountLab)+"/statements", nil, &statements)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, statements, 1)
}

func TestAPI_FeeLiableCancellation_BillsTheFee(t *testing.T) {
	// The commercial policy charges 25% of the would-be price inside the
	// 24h cutoff: 2h at $120/h is $240, so the fee is $60.

	srv, h := newTestServer(t)
	start := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

	res := reserve(t, srv, string(factory.DemoAccountBio), start, start.Add(2*time.Hour))

	// Cancel Monday noon, inside the cutoff.
	h.Booking.Clock = func() time.Time { return monday.Add(5 * time.Hour) }
	var cancelled api.ReservationDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/reservations/"+res.ID+"/cancel",
		api.CancelReservationRequest{Actor: "procurement"}, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, cancelled.FeeLiable)

	var detail api.OrderDetailDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/details/"+res.OrderDetailID, nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "complete", detail.Status)
	assert.Equal(t, "cancellation_fee", detail.CostKind)
	require.NotNil(t, detail.Cost)
	assert.Equal(t, "60.00", detail.Cost.Net)
}

func TestAPI_BillingFailureAfterCompletion_DetailRecoverableByDuration(t *testing.T) {
	// GIVEN: A completed reservation whose pricing failed (the account
	//        held no price-group membership at completion time)
	// WHEN: The membership is fixed and the stuck detail is re-completed
	//       through the details endpoint
	// THEN: The detail prices by the reservation's actual duration, not
	//       as a quantity line

	srv, _ := newTestServer(t)

	status := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", api.CreateAccountRequest{
		ID: "orphan-lab", Name: "Orphan Lab", Owner: "pi@example.edu",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	start := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	res := reserve(t, srv, "orphan-lab", start, start.Add(2*time.Hour))

	status = doJSON(t, http.MethodPost, srv.URL+"/api/reservations/"+res.ID+"/checkin", nil, nil)
	require.Equal(t, http.StatusOK, status)

	// The reservation transition commits; pricing fails with no policy.
	status = doJSON(t, http.MethodPost, srv.URL+"/api/reservations/"+res.ID+"/complete",
		api.CompleteReservationRequest{ActualStart: start, ActualEnd: start.Add(2 * time.Hour)}, nil)
	require.NotEqual(t, http.StatusOK, status)

	var detail api.OrderDetailDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/details/"+res.OrderDetailID, nil, &detail)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "in_process", detail.Status)

	from := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	status = doJSON(t, http.MethodPost, srv.URL+"/api/admin/memberships", api.MembershipRequest{
		AccountID:    "orphan-lab",
		FacilityID:   string(factory.DemoFacility),
		PriceGroupID: string(factory.DemoGroupInternal),
		From:         from,
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	status = doJSON(t, http.MethodPost, srv.URL+"/api/details/"+res.OrderDetailID+"/complete",
		api.CompleteDetailRequest{}, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "complete", detail.Status)
	require.NotNil(t, detail.Cost)
	assert.Equal(t, "50.00", detail.Cost.Base, "two hours at the internal hourly rate")
	assert.Equal(t, "25.00", detail.Cost.Net)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_DoubleBooking_Returns409(t *testing.T) {
	srv, _ := newTestServer(t)
	start := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)

	reserve(t, srv, string(factory.DemoAccountLab), start, start.Add(2*time.Hour))

	status := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", api.CreateReservationRequest{
		ResourceID: string(factory.DemoConfocal),
		AccountID:  string(factory.DemoAccountBio),
		Start:      start.Add(time.Hour),
		End:        start.Add(3 * time.Hour),
		Actor:      "procurement",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPI_OutsideAvailability_Returns409(t *testing.T) {
	srv, _ := newTestServer(t)

	// Sunday March 8 has no confocal rule.
	start := time.Date(2026, time.March, 8, 9, 0, 0, 0, time.UTC)
	status := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", api.CreateReservationRequest{
		ResourceID: string(factory.DemoConfocal),
		AccountID:  string(factory.DemoAccountLab),
		Start:      start,
		End:        start.Add(2 * time.Hour),
		Actor:      "a.chen",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestAPI_RuleViolation_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)

	// 10 minutes violates both granularity and the 30m minimum.
	start := time.Date(2026, time.March, 3, 9, 10, 0, 0, time.UTC)
	status := doJSON(t, http.MethodPost, srv.URL+"/api/reservations", api.CreateReservationRequest{
		ResourceID: string(factory.DemoConfocal),
		AccountID:  string(factory.DemoAccountLab),
		Start:      start,
		End:        start.Add(10 * time.Minute),
		Actor:      "a.chen",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_UnknownResource_Returns404(t *testing.T) {
	srv, _ := newTestServer(t)

	status := doJSON(t, http.MethodGet, srv.URL+"/api/resources/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	start := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	status = doJSON(t, http.MethodPost, srv.URL+"/api/reservations", api.CreateReservationRequest{
		ResourceID: "ghost",
		AccountID:  string(factory.DemoAccountLab),
		Start:      start,
		End:        start.Add(time.Hour),
		Actor:      "a.chen",
	}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_MalformedBody_Returns400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/reservations", "application/json",
		bytes.NewBufferString(`{"resource_id":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// CATALOG AND WINDOWS
// =============================================================================

func TestAPI_Windows_ReflectScheduleRules(t *testing.T) {
	srv, _ := newTestServer(t)

	from := time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	url := fmt.Sprintf("%s/api/resources/%s/windows?from=%s&to=%s",
		srv.URL, factory.DemoConfocal,
		from.Format(time.RFC3339), to.Format(time.RFC3339))

	var windows []api.WindowDTO
	status := doJSON(t, http.MethodGet, url, nil, &windows)
	require.Equal(t, http.StatusOK, status)

	require.Len(t, windows, 1)
	assert.Equal(t, "2026-03-02T08:00:00Z", windows[0].Start)
	assert.Equal(t, "2026-03-02T20:00:00Z", windows[0].End)
	assert.Equal(t, 1, windows[0].Capacity)
}

func TestAPI_CreateResourceAndAccount(t *testing.T) {
	srv, _ := newTestServer(t)

	var res api.ResourceDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/resources", api.CreateResourceRequest{
		ID:         "incubator-1",
		FacilityID: string(factory.DemoFacility),
		Name:       "CO2 Incubator",
		Kind:       "instrument",
		Rules:      api.BookingRulesDTO{GranularityMinutes: 60, MinDuration: "1h"},
	}, &res)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "incubator-1", res.ID)
	assert.Equal(t, "1h0m0s", res.Rules.MinDuration)

	status = doJSON(t, http.MethodPost, srv.URL+"/api/accounts", api.CreateAccountRequest{
		ID: "new-lab", Name: "New Lab", Owner: "pi@example.edu",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var accounts []api.AccountDTO
	status = doJSON(t, http.MethodGet, srv.URL+"/api/accounts", nil, &accounts)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, accounts, 3, "two seeded accounts plus the new one")
}

func TestAPI_CreatePolicy_ThroughFactory(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]any{
		"id":             "confocal-academic",
		"resource_id":    string(factory.DemoConfocal),
		"price_group_id": string(factory.DemoGroupAcademic),
		"effective_from": "2026-01-01T00:00:00Z",
		"rate":           map[string]any{"kind": "hourly", "hourly_rate": "40"},
	}
	status := doJSON(t, http.MethodPost, srv.URL+"/api/policies", body, nil)
	require.Equal(t, http.StatusCreated, status)

	// Invalid definitions are rejected up front.
	body["rate"] = map[string]any{"kind": "per_photon"}
	body["id"] = "confocal-bogus"
	status = doJSON(t, http.MethodPost, srv.URL+"/api/policies", body, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPI_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
