package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking-platform/internal/appointments"
	"github.com/wolfman30/clinic-booking-platform/internal/chat"
	"github.com/wolfman30/clinic-booking-platform/internal/compliance"
	"github.com/wolfman30/clinic-booking-platform/internal/e2ee"
	httpmiddleware "github.com/wolfman30/clinic-booking-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-platform/internal/payments"
	"github.com/wolfman30/clinic-booking-platform/internal/profiles"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger       *logging.Logger
	Health       *HealthHandler
	Profiles     *profiles.Handler
	Appointments *appointments.Handler
	Chat         *chat.Handler
	Socket       http.Handler
	Payments     *payments.Handler
	Keys         *e2ee.Handler
	Audit        *compliance.Handler

	// Authenticate attaches the caller to authenticated routes.
	Authenticate    func(http.Handler) http.Handler
	AdminAuthSecret string

	MetricsHandler     http.Handler
	RequestObserver    httpmiddleware.RequestObserver
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.RequestObserver))

	authenticate := cfg.Authenticate
	if authenticate == nil {
		authenticate = denyAll
	}
	limitWrites := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitRPS > 0 {
		limitWrites = writesOnly(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Health)
			public.Get("/ready", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		// The socket authenticates its own handshake.
		if cfg.Socket != nil {
			public.Handle("/ws", cfg.Socket)
		}
	})

	if cfg.Profiles != nil || cfg.Appointments != nil {
		r.Route("/doctors", func(doctors chi.Router) {
			if cfg.Profiles != nil {
				doctors.Get("/", cfg.Profiles.ListDoctors)
				doctors.Get("/{doctorID}", cfg.Profiles.GetDoctor)
				doctors.Group(func(self chi.Router) {
					self.Use(authenticate)
					self.Put("/me/online-status", cfg.Profiles.UpdateOnlineStatus)
					self.Put("/me/timing", cfg.Profiles.UpdateTiming)
				})
			}
			if cfg.Appointments != nil {
				doctors.Get("/{doctorID}/slots", cfg.Appointments.Slots)
			}
		})
	}

	if cfg.Appointments != nil {
		r.Route("/appointments", func(appts chi.Router) {
			appts.Use(authenticate, limitWrites)
			cfg.Appointments.Routes(appts)
		})
	}

	if cfg.Chat != nil {
		r.Route("/chats", func(chats chi.Router) {
			chats.Use(authenticate)
			cfg.Chat.Routes(chats)
		})
	}

	if cfg.Keys != nil {
		r.Route("/e2ee", func(keys chi.Router) {
			keys.Use(authenticate)
			cfg.Keys.Routes(keys)
		})
	}

	if cfg.Payments != nil {
		r.Route("/payments", func(pay chi.Router) {
			pay.Post("/webhook", cfg.Payments.Webhook)
			pay.Post("/webhook/razorpay", cfg.Payments.Webhook)
			pay.Group(func(authed chi.Router) {
				authed.Use(authenticate)
				cfg.Payments.Routes(authed)
			})
		})
	}

	if cfg.AdminAuthSecret != "" && (cfg.Profiles != nil || cfg.Audit != nil) {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Profiles != nil {
				admin.Put("/doctors/{doctorID}/approval", cfg.Profiles.SetApproval)
			}
			if cfg.Audit != nil {
				admin.Get("/audit", cfg.Audit.ListEvents)
				admin.Get("/appointments/{appointmentID}/audit", cfg.Audit.AppointmentEvents)
			}
		})
	}

	return r
}

// writesOnly applies mw to non-GET requests.
func writesOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func denyAll(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "authentication not configured", http.StatusUnauthorized)
	})
}
