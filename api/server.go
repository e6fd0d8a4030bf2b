/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the LIFF frontend
  5. Auth:       Bearer token -> Actor, on /api only

ROUTE GROUPS:
  /api/rooms/*      Room catalog
  /api/customers/*  Tenant profiles
  /api/bookings/*   Booking and checkout lifecycle
  /api/bills/*      Billing
  /api/payments/*   Payment reconciliation
  /api/slips/*      Slip images
  /api/scenarios/*  Demo data (staff)
  /webhook/line     LINE platform callbacks (signature checked, no token)
  /healthz          Liveness and store readiness

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticator and RequireStaff
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries the router's cross-cutting settings.
type RouterConfig struct {
	AllowedOrigins []string
	Auth           *Authenticator
	Logger         *zap.Logger

	// Ready, when set, is consulted by /healthz.
	Ready func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Not ready", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/webhook/line", h.LineWebhook)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)
		staff := r.With(RequireStaff)

		r.Route("/rooms", func(r chi.Router) {
			staff := r.With(RequireStaff)
			r.Get("/", h.ListRooms)
			r.Get("/{id}", h.GetRoom)
			staff.Post("/", h.CreateRoom)
			staff.Delete("/{id}", h.DeleteRoom)
			staff.Post("/{id}/bills", h.CreateRoomBill)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.RegisterCustomer)
			r.Get("/me", h.GetMe)
			r.With(RequireStaff).Get("/{id}", h.GetCustomer)
		})

		r.Route("/bookings", func(r chi.Router) {
			staff := r.With(RequireStaff)
			r.Post("/", h.CreateBooking)
			r.Get("/mine", h.MyBookings)
			staff.Get("/", h.ListBookings)
			r.Get("/{id}", h.GetBooking)
			staff.Patch("/{id}", h.UpdateBooking)
			staff.Delete("/{id}", h.DeleteBooking)
			staff.Post("/{id}/approve", h.ApproveBooking)
			staff.Post("/{id}/reject", h.RejectBooking)
			r.Post("/{id}/checkout", h.RequestCheckout)
			r.Delete("/{id}/checkout", h.WithdrawCheckout)
			staff.Patch("/{id}/checkout", h.RescheduleCheckout)
			staff.Post("/{id}/return/approve", h.ApproveReturn)
			staff.Post("/{id}/return/reject", h.RejectReturn)
			r.Post("/{id}/deposit", h.SubmitDepositSlip)
		})

		r.Route("/bills", func(r chi.Router) {
			staff := r.With(RequireStaff)
			r.Get("/unpaid", h.ListUnpaidBills)
			r.Get("/paid", h.ListPaidBills)
			staff.Get("/", h.ListBills)
			staff.Post("/", h.CreateBill)
			staff.Post("/refresh-fines", h.RefreshFines)
			r.Get("/{id}", h.GetBill)
			r.Get("/{id}/qr", h.BillQR)
			staff.Patch("/{id}", h.UpdateBill)
			staff.Delete("/{id}", h.DeleteBill)
		})

		r.Route("/payments", func(r chi.Router) {
			staff := r.With(RequireStaff)
			r.Post("/", h.SubmitPayment)
			r.Get("/", h.ListPayments)
			staff.Get("/{id}", h.GetPayment)
			staff.Post("/{id}/verify", h.VerifyPayment)
			staff.Post("/{id}/reject", h.RejectPayment)
		})

		r.Post("/slips", h.UploadSlip)
		staff.Get("/slips/{ref}", h.GetSlip)

		staff.Get("/scenarios", h.ListScenarios)
		staff.Post("/scenarios/load", h.LoadScenario)
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
