package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/email"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/events"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
)

// FulfillmentStore is the slice of the repository the webhook pipeline needs.
type FulfillmentStore interface {
	PurchaseExists(ctx context.Context, orderID string) (bool, error)
	InsertPurchase(ctx context.Context, p postgres.Purchase) error
	GetIntent(ctx context.Context, id string) (*postgres.Intent, error)
	MarkIntentCompleted(ctx context.Context, id string) error
	GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error)
}

// Renderer turns a recipe into printable document bytes.
type Renderer interface {
	Render(rec recipe.Recipe) ([]byte, error)
}

// BlobStore uploads documents and mints time-limited retrieval links.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Publisher emits purchase lifecycle events. Publishing is best-effort and
// never gates fulfillment.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, evt events.Envelope) error
}

// WebhookHandler drives the payment-webhook fulfillment pipeline:
// verify, idempotency check, event filter, intent resolve, render, upload,
// persist, notify. One linear pass, no retries.
type WebhookHandler struct {
	Secret   string
	Store    FulfillmentStore
	Renderer Renderer
	Blobs    BlobStore
	Sender   email.Sender
	Events   Publisher // optional
	Topic    string
	URLTTL   time.Duration
}

// RegisterWebhookRoutes mounts the payment webhook endpoint.
func RegisterWebhookRoutes(mux *http.ServeMux, h *WebhookHandler) {
	mux.Handle("/api/webhooks/payment", otelhttp.NewHandler(http.HandlerFunc(h.handle), "payment-webhook"))
}

// webhookPayload mirrors the processor's callback shape. data.id arrives as a
// number or a string depending on the event, so it is decoded leniently.
type webhookPayload struct {
	EventName string `json:"event_name"`
	Data      struct {
		ID         json.RawMessage `json:"id"`
		Attributes struct {
			Status    string         `json:"status"`
			ReturnURL string         `json:"return_url"`
			Meta      map[string]any `json:"meta"`
			Customer  struct {
				Email string `json:"email"`
			} `json:"customer"`
		} `json:"attributes"`
	} `json:"data"`
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.Secret == "" {
		log.Printf("[Webhook] webhook secret not configured")
		writeError(w, http.StatusInternalServerError, "server misconfigured")
		return
	}

	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	signature := r.Header.Get("X-Signature")
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		log.Printf("[Webhook] invalid signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx := r.Context()
	orderID := decodeID(payload.Data.ID)

	// Fast-path idempotency check; the insert's unique constraint below is
	// the authoritative gate.
	if orderID != "" {
		exists, err := h.Store.PurchaseExists(ctx, orderID)
		if err != nil {
			log.Printf("[Webhook] purchase lookup failed for %s: %v", orderID, err)
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
		if exists {
			log.Printf("[Webhook] order already processed: %s", orderID)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "info": "already processed"})
			return
		}
	}

	eventName := r.Header.Get("X-Event-Name")
	if eventName == "" {
		eventName = payload.EventName
	}
	paid := eventName == "order_paid" || eventName == "order_completed" ||
		payload.Data.Attributes.Status == "paid"
	if !paid {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "info": "ignored event"})
		return
	}

	meta := payload.Data.Attributes.Meta
	intentID := resolveIntentID(meta, payload.Data.Attributes.ReturnURL)

	var intent *postgres.Intent
	if intentID != "" {
		intent, err = h.Store.GetIntent(ctx, intentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			log.Printf("[Webhook] intent lookup failed for %s: %v", intentID, err)
			writeError(w, http.StatusInternalServerError, "store unavailable")
			return
		}
	}

	// Intent row wins over whatever the payment processor relayed.
	recipeID := metaString(meta, "recipe_id")
	if intent != nil && intent.RecipeID != "" {
		recipeID = intent.RecipeID
	}
	emailTo := payload.Data.Attributes.Customer.Email
	if emailTo == "" {
		emailTo = metaString(meta, "email")
	}
	if intent != nil && intent.Email != "" {
		emailTo = intent.Email
	}

	if recipeID == "" {
		log.Printf("[Webhook] no recipe mapped for order %s", orderID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "info": "unmapped"})
		return
	}

	rec, err := h.Store.GetRecipe(ctx, recipeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// A resolved intent pointing at a missing recipe is a data
			// integrity problem, surfaced rather than acknowledged away.
			log.Printf("[Webhook] recipe not found: %s (order %s)", recipeID, orderID)
			writeError(w, http.StatusInternalServerError, "recipe not found")
			return
		}
		log.Printf("[Webhook] recipe fetch failed for %s: %v", recipeID, err)
		writeError(w, http.StatusInternalServerError, "recipe fetch error")
		return
	}

	pdf, err := h.Renderer.Render(*rec)
	if err != nil {
		log.Printf("[Webhook] render failed for recipe %s: %v", recipeID, err)
		writeError(w, http.StatusInternalServerError, "processing error")
		return
	}

	orderRef := orderID
	if orderRef == "" {
		orderRef = "order"
	}
	path := fmt.Sprintf("purchases/%s_%d.pdf", orderRef, time.Now().UnixMilli())
	if err := h.Blobs.Upload(ctx, path, pdf, "application/pdf"); err != nil {
		log.Printf("[Webhook] upload failed for %s: %v", path, err)
		writeError(w, http.StatusInternalServerError, "processing error")
		return
	}

	signedURL, err := h.Blobs.SignedURL(ctx, path, h.URLTTL)
	if err != nil {
		log.Printf("[Webhook] sign url failed for %s: %v", path, err)
		writeError(w, http.StatusInternalServerError, "processing error")
		return
	}

	purchase := postgres.Purchase{
		OrderID:       orderID,
		RecipeID:      recipeID,
		FileURL:       signedURL,
		CustomerEmail: emailTo,
		Status:        "delivered",
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.Store.InsertPurchase(ctx, purchase); err != nil {
		if postgres.IsUniqueViolation(err) {
			// A concurrent delivery of the same order won the race; this
			// call's upload is orphaned but no duplicate record exists.
			log.Printf("[Webhook] duplicate delivery for order %s", orderID)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "info": "already processed"})
			return
		}
		log.Printf("[Webhook] persist failed for order %s: %v", orderID, err)
		writeError(w, http.StatusInternalServerError, "processing error")
		return
	}

	if intent != nil {
		if err := h.Store.MarkIntentCompleted(ctx, intent.ID); err != nil {
			log.Printf("[Webhook] mark intent completed failed for %s: %v", intent.ID, err)
		}
	}

	// Notification is best-effort: the record above is already delivered.
	if emailTo != "" && h.Sender != nil {
		subject := "Votre carte recette AstroFood"
		if rec.Title != "" {
			subject += " — " + rec.Title
		}
		if err := h.Sender.Send(emailTo, subject, email.RenderDeliveryEmail(signedURL)); err != nil {
			log.Printf("[Webhook] delivery email failed for order %s: %v", orderID, err)
		}
	}

	if h.Events != nil {
		evt := events.Envelope{
			EventType:    "PurchaseDelivered",
			EventVersion: "v1",
			AggregateID:  orderID,
			Data: map[string]any{
				"orderId":       orderID,
				"recipeId":      recipeID,
				"recipeTitle":   rec.Title,
				"fileUrl":       signedURL,
				"customerEmail": emailTo,
			},
		}
		if err := h.Events.Publish(ctx, h.Topic, orderID, evt); err != nil {
			log.Printf("[Webhook] failed to publish PurchaseDelivered for %s: %v", orderID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// resolveIntentID recovers the checkout intent id from the payload. The
// precedence is fixed: meta.purchase_intent_id, then meta.pi, then the pi
// query parameter of the return URL. First hit wins.
func resolveIntentID(meta map[string]any, returnURL string) string {
	if id := metaString(meta, "purchase_intent_id"); id != "" {
		return id
	}
	if id := metaString(meta, "pi"); id != "" {
		return id
	}
	if returnURL != "" {
		if u, err := url.Parse(returnURL); err == nil {
			return u.Query().Get("pi")
		}
	}
	return ""
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}

// decodeID accepts both string and numeric order ids.
func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(bytes.TrimSpace(raw), &n); err == nil {
		return n.String()
	}
	return ""
}
