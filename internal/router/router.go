package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/canceldesk/internal/config"
	"github.com/kiwari-pos/canceldesk/internal/enum"
	"github.com/kiwari-pos/canceldesk/internal/handler"
	mw "github.com/kiwari-pos/canceldesk/internal/middleware"
	"github.com/kiwari-pos/canceldesk/internal/ws"
	"go.uber.org/zap"
)

// Deps are the long-lived components the routes are wired to.
type Deps struct {
	Desk    handler.Desk
	Board   handler.Board
	Hub     *ws.Hub
	Metrics http.Handler
	Log     *zap.Logger
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, deps Deps) chi.Router {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// WebSocket routes (handle auth internally via query param)
	ownerRoles := []string{enum.UserRoleOwner, enum.UserRoleManager}
	if deps.Hub != nil {
		r.Get("/ws/cashier", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWS(deps.Hub, cfg.JWTSecret, ws.RoomCashier, nil, log, w, r)
		})
		r.Get("/ws/owner", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWS(deps.Hub, cfg.JWTSecret, ws.RoomOwner, ownerRoles, log, w, r)
		})
	}

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Owner desk
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(ownerRoles...))
			cancelHandler := handler.NewCancelRequestHandler(deps.Desk, log)
			r.Route("/cancel-requests", cancelHandler.RegisterRoutes)
		})

		// Cashier view, any authenticated role
		cashierHandler := handler.NewCashierHandler(deps.Board, log)
		r.Route("/cashier", cashierHandler.RegisterRoutes)
	})

	log.Info("router initialized")
	return r
}
