package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
)

// IntentStore is the slice of the repository the intent endpoint needs.
type IntentStore interface {
	InsertIntent(ctx context.Context, in postgres.Intent) error
}

// CheckoutOptions builds the hosted-checkout redirect. The intent id rides on
// the post-payment return URL so the webhook can recover it later.
type CheckoutOptions struct {
	CheckoutURL string
	AppBaseURL  string
}

// RegisterIntentRoutes mounts the checkout-intent endpoint.
func RegisterIntentRoutes(mux *http.ServeMux, store IntentStore, opts CheckoutOptions) {
	mux.Handle("/api/purchase-intents", otelhttp.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleCreateIntent(store, opts, w, r)
	}), "purchase-intents"))
}

func handleCreateIntent(store IntentStore, opts CheckoutOptions, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		RecipeID string `json:"recipe_id"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RecipeID == "" {
		writeError(w, http.StatusBadRequest, "recipe_id required")
		return
	}

	intentID := uuid.NewString()
	in := postgres.Intent{
		ID:        intentID,
		RecipeID:  req.RecipeID,
		Email:     req.Email,
		Status:    "created",
		CreatedAt: time.Now().UTC(),
	}
	if err := store.InsertIntent(r.Context(), in); err != nil {
		log.Printf("[Intent] insert failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create intent")
		return
	}

	returnURL := fmt.Sprintf("%s/thanks?pi=%s", opts.AppBaseURL, intentID)
	checkoutURL := fmt.Sprintf("%s?return_url=%s", opts.CheckoutURL, url.QueryEscape(returnURL))

	writeJSON(w, http.StatusOK, map[string]any{
		"purchase_intent_id": intentID,
		"checkout_url":       checkoutURL,
	})
}
