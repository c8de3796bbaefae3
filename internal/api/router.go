package api

import (
	"net/http"

	"doc-collab/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Document endpoints
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")

	// Content endpoints
	api.HandleFunc("/documents/{id}/content", h.GetContent).Methods("GET")
	api.HandleFunc("/documents/{id}/autosave", h.AutoSave).Methods("POST")

	// Lock endpoints
	api.HandleFunc("/documents/{id}/lock", h.GetLock).Methods("GET")
	api.HandleFunc("/documents/{id}/lock", h.AcquireLock).Methods("POST")
	api.HandleFunc("/documents/{id}/lock", h.ReleaseLock).Methods("DELETE")

	// Version endpoints
	api.HandleFunc("/documents/{id}/versions", h.ListVersions).Methods("GET")
	api.HandleFunc("/documents/{id}/versions", h.CreateVersion).Methods("POST")
	api.HandleFunc("/documents/{id}/versions/{version}/promote", h.PromoteVersion).Methods("POST")
	api.HandleFunc("/documents/{id}/versions/{version}/restore", h.RestoreVersion).Methods("POST")
	api.HandleFunc("/documents/{id}/versions/{version}", h.DeleteVersion).Methods("DELETE")

	// Checkout endpoints
	api.HandleFunc("/documents/{id}/checkout", h.Checkout).Methods("POST")
	api.HandleFunc("/documents/{id}/checkout-status", h.CheckoutStatus).Methods("GET")
	api.HandleFunc("/documents/{id}/checkin", h.CheckIn).Methods("POST")
	api.HandleFunc("/documents/{id}/resolve-conflicts", h.ResolveConflicts).Methods("POST")

	// Collaboration endpoints
	api.HandleFunc("/documents/{id}/collaboration/start", h.StartCollaboration).Methods("POST")
	api.HandleFunc("/documents/{id}/collaboration/end", h.EndCollaboration).Methods("POST")
	api.HandleFunc("/documents/{id}/collaboration/users", h.ActiveUsers).Methods("GET")
	api.HandleFunc("/documents/{id}/collaboration/changes", h.SubmitChanges).Methods("POST")
	api.HandleFunc("/documents/{id}/collaboration/sync", h.SyncChanges).Methods("POST")

	// Side endpoints
	api.HandleFunc("/index/refresh", h.RefreshIndex).Methods("POST")
	api.HandleFunc("/audit", h.AppendAudit).Methods("POST")
	api.HandleFunc("/audit", h.ListAudit).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// WebSocket event feed
	r.HandleFunc("/ws/documents/{id}", h.HandleDocumentFeed)

	return r
}
