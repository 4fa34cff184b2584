package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/stratum-identity/internal/authz"
	"github.com/stanstork/stratum-identity/internal/handlers"
)

// NewRouter sets up the API routes
func NewRouter(
	health http.HandlerFunc,
	auth *handlers.AuthHandler,
	migrations *handlers.MigrationHandler,
	links *handlers.IdentityLinkHandler,
	notifications *handlers.NotificationHandler,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.JWTMiddleware)

	admin := api.NewRoute().Subrouter()
	admin.Use(authz.RequireRole(authz.RoleAdmin))
	admin.HandleFunc("/migrations", migrations.Create).Methods(http.MethodPost)
	admin.HandleFunc("/migrations", migrations.List).Methods(http.MethodGet)
	admin.HandleFunc("/migrations/{migrationID}", migrations.Get).Methods(http.MethodGet)
	admin.HandleFunc("/migrations/{migrationID}", migrations.Delete).Methods(http.MethodDelete)
	admin.HandleFunc("/identity-links", links.Create).Methods(http.MethodPost)

	api.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", notifications.MarkRead).Methods(http.MethodPut)

	return router
}
