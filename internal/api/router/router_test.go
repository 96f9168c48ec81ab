package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	"github.com/wolfman30/clinic-booking-platform/internal/compliance"
	"github.com/wolfman30/clinic-booking-platform/internal/e2ee"
	"github.com/wolfman30/clinic-booking-platform/internal/identity"
	"github.com/wolfman30/clinic-booking-platform/internal/payments"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

var doctorColumns = []string{
	"id", "user_id", "full_name", "email", "specialty", "consultation_fee_minor",
	"clinic_line", "clinic_city", "clinic_state", "approval_status", "is_online", "timing", "created_at", "updated_at",
}

// passThrough stands in for the real authenticator without attaching a caller.
func passThrough(next http.Handler) http.Handler { return next }

func serve(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := New(&Config{Logger: logging.Default(), Health: NewHealthHandler(nil)})

	rec, payload := serve(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", payload["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouterReadyReportsFailingCheck(t *testing.T) {
	health := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	router := New(&Config{Logger: logging.Default(), Health: health})

	rec, payload := serve(t, router, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", payload["status"])
	checks := payload["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["postgres"])
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestRouterReadyAllHealthy(t *testing.T) {
	health := NewHealthHandler(map[string]Check{
		"postgres": func(context.Context) error { return nil },
	})
	rec, payload := serve(t, New(&Config{Health: health}), http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", payload["status"])
}

func TestRouterListsDoctorsPublicly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM doctors").
		WithArgs(50, 0).
		WillReturnRows(pgxmock.NewRows(doctorColumns).AddRow(
			uuid.New(), "user-doc", "Dr. Asha Rao", "asha@example.com", "Cardiology", int64(50000),
			"12 MG Road", "Pune", "MH", "approved", true, []byte(`{}`), now, now,
		))

	router := New(&Config{Profiles: profiles.NewHandler(profiles.NewStore(mock), 15, nil)})

	rec, payload := serve(t, router, http.MethodGet, "/doctors", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doctors := payload["doctors"].([]any)
	require.Len(t, doctors, 1)
	assert.Equal(t, "Dr. Asha Rao", doctors[0].(map[string]any)["fullName"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterDeniesWithoutAuthenticator(t *testing.T) {
	router := New(&Config{
		Appointments: appointments.NewHandler(nil, nil),
		Payments:     payments.NewHandler(payments.NewService(payments.Config{}, nil, nil, nil), nil),
	})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/appointments"},
		{http.MethodGet, "/appointments/me"},
		{http.MethodPost, "/payments/appointments/" + uuid.NewString() + "/order"},
	} {
		rec, _ := serve(t, router, tc.method, tc.path, "{}")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestRouterKeyDirectoryRequiresAuth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	router := New(&Config{Keys: e2ee.NewHandler(e2ee.NewStore(mock), nil)})

	rec, _ := serve(t, router, http.MethodPut, "/e2ee/me/bundle", `{"registrationId":1}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = serve(t, router, http.MethodGet, "/e2ee/bundles/doctor/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterKeyDirectoryPublishesForCaller(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO key_bundles").
		WithArgs("user-pat", int64(9), "ik", pgxmock.AnyArg(), []byte(`[]`)).
		WillReturnRows(pgxmock.NewRows([]string{
			"user_id", "registration_id", "identity_key", "signed_pre_key", "pre_keys", "created_at", "updated_at",
		}).AddRow("user-pat", int64(9), "ik", []byte(`{"id":1,"publicKey":"p","signature":"s"}`), []byte(`[]`), now, now))

	asPatient := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := identity.WithCaller(r.Context(), identity.Caller{
				UserID: "user-pat", Role: identity.RolePatient, ProfileID: uuid.NewString(),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router := New(&Config{Authenticate: asPatient, Keys: e2ee.NewHandler(e2ee.NewStore(mock), nil)})

	rec, payload := serve(t, router, http.MethodPut, "/e2ee/me/bundle",
		`{"registrationId":9,"identityKey":"ik","signedPreKey":{"id":1,"publicKey":"p","signature":"s"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, payload["success"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterWebhookIsPublic(t *testing.T) {
	router := New(&Config{
		Authenticate: passThrough,
		Payments:     payments.NewHandler(payments.NewService(payments.Config{}, nil, nil, nil), nil),
	})

	for _, path := range []string{"/payments/webhook", "/payments/webhook/razorpay"} {
		rec, payload := serve(t, router, http.MethodPost, path, `{"event":"payment.captured"}`)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, true, payload["success"])
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	router := New(&Config{
		Profiles:        profiles.NewHandler(profiles.NewStore(mock), 15, nil),
		AdminAuthSecret: "admin-secret",
	})

	rec, payload := serve(t, router, http.MethodPut, "/admin/doctors/"+uuid.NewString()+"/approval", `{"status":"approved"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, payload["success"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterAdminAuditTrail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	apptID := uuid.NewString()
	mock.ExpectQuery("SELECT id, event_type, appointment_id").
		WithArgs(apptID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "event_type", "appointment_id", "doctor_id", "patient_id", "actor_role", "details", "created_at",
		}).AddRow("e-1", "appointment.cancelled", apptID, "d-1", "p-1", "doctor", []byte(`{}`), time.Now().UTC()))

	router := New(&Config{
		Audit:           compliance.NewHandler(compliance.NewAuditService(db), nil),
		AdminAuthSecret: "admin-secret",
	})

	rec, _ := serve(t, router, http.MethodGet, "/admin/appointments/"+apptID+"/audit", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "ops"}).SignedString([]byte("admin-secret"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/admin/appointments/"+apptID+"/audit", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"event_type":"appointment.cancelled"`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRouterRateLimitsAppointmentWrites(t *testing.T) {
	router := New(&Config{
		Authenticate:   passThrough,
		Appointments:   appointments.NewHandler(nil, nil),
		RateLimitRPS:   0.001,
		RateLimitBurst: 1,
	})

	first, _ := serve(t, router, http.MethodPost, "/appointments", "{}")
	assert.Equal(t, http.StatusUnauthorized, first.Code)
	second, _ := serve(t, router, http.MethodPost, "/appointments", "{}")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// reads are not limited
	for i := 0; i < 3; i++ {
		rec, _ := serve(t, router, http.MethodGet, "/appointments/me", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("clinic_up 1\n"))
	})
	router := New(&Config{MetricsHandler: metrics})

	rec, _ := serve(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_up")
}

func TestRouterUnknownRoute(t *testing.T) {
	rec, _ := serve(t, New(&Config{}), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
