package api

import (
	"context"
	"log"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/authz"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
)

// PurchaseLister is the slice of the repository the admin listing needs.
type PurchaseLister interface {
	ListPurchases(ctx context.Context, limit int) ([]postgres.Purchase, error)
}

// RegisterPurchaseRoutes exposes the operator-facing purchases listing,
// guarded by an authorization check on the purchases collection.
func RegisterPurchaseRoutes(mux *http.ServeMux, store PurchaseLister, az authz.Client) {
	guard := authz.Require(az, func(r *http.Request) (string, string) {
		if r.Method == http.MethodGet {
			return "purchases:all", "viewer"
		}
		return "", ""
	})

	mux.Handle("/api/purchases", otelhttp.NewHandler(guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlePurchasesList(store, w, r)
	})), "purchases-list"))
}

func handlePurchasesList(store PurchaseLister, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list, err := store.ListPurchases(r.Context(), 50)
	if err != nil {
		log.Printf("[Purchases] list failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if list == nil {
		list = []postgres.Purchase{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": list})
}
