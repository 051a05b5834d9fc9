package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/blob"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/events"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
)

const testSecret = "whsec_test"

type fakeStore struct {
	exists      bool
	existsCalls int
	intents     map[string]*postgres.Intent
	recipes     map[string]*recipe.Recipe
	inserted    []postgres.Purchase
	insertErr   error
	completed   []string
}

func (f *fakeStore) PurchaseExists(ctx context.Context, orderID string) (bool, error) {
	f.existsCalls++
	return f.exists, nil
}

func (f *fakeStore) InsertPurchase(ctx context.Context, p postgres.Purchase) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, p)
	return nil
}

func (f *fakeStore) GetIntent(ctx context.Context, id string) (*postgres.Intent, error) {
	if in, ok := f.intents[id]; ok {
		return in, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) MarkIntentCompleted(ctx context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	if rec, ok := f.recipes[id]; ok {
		return rec, nil
	}
	return nil, sql.ErrNoRows
}

type fakeRenderer struct {
	calls int
	err   error
}

func (f *fakeRenderer) Render(rec recipe.Recipe) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3 " + rec.Title), nil
}

type fakeBlobs struct {
	uploads   []string
	uploadErr error
}

func (f *fakeBlobs) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, path)
	return nil
}

func (f *fakeBlobs) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "https://blob.local/" + path + "?sig=abc", nil
}

type fakeSender struct {
	to, subject, body string
	calls             int
}

func (f *fakeSender) Send(to, subject, htmlBody string) error {
	f.calls++
	f.to, f.subject, f.body = to, subject, htmlBody
	return nil
}

type fakePublisher struct {
	topics []string
	events []events.Envelope
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, evt events.Envelope) error {
	f.topics = append(f.topics, topic)
	f.events = append(f.events, evt)
	return nil
}

type webhookFixture struct {
	handler *WebhookHandler
	store   *fakeStore
	render  *fakeRenderer
	blobs   *fakeBlobs
	sender  *fakeSender
	pub     *fakePublisher
}

func newFixture() *webhookFixture {
	store := &fakeStore{
		intents: map[string]*postgres.Intent{},
		recipes: map[string]*recipe.Recipe{},
	}
	render := &fakeRenderer{}
	blobs := &fakeBlobs{}
	sender := &fakeSender{}
	pub := &fakePublisher{}
	return &webhookFixture{
		handler: &WebhookHandler{
			Secret:   testSecret,
			Store:    store,
			Renderer: render,
			Blobs:    blobs,
			Sender:   sender,
			Events:   pub,
			Topic:    "purchases.v1",
			URLTTL:   72 * time.Hour,
		},
		store:  store,
		render: render,
		blobs:  blobs,
		sender: sender,
		pub:    pub,
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (fx *webhookFixture) post(t *testing.T, body []byte, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, fx.handler)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", signBody(testSecret, body))
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func paidPayload(orderID string, meta map[string]any) []byte {
	payload := map[string]any{
		"event_name": "order_paid",
		"data": map[string]any{
			"id": orderID,
			"attributes": map[string]any{
				"status": "paid",
				"meta":   meta,
			},
		},
	}
	b, _ := json.Marshal(payload)
	return b
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	fx := newFixture()
	body := paidPayload("ord1", nil)

	rr := fx.post(t, body, func(r *http.Request) {
		r.Header.Set("X-Signature", "deadbeef")
	})

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, fx.store.existsCalls, "store must not be touched before verification")
	assert.Zero(t, fx.render.calls)
}

func TestWebhookMissingSecretRefuses(t *testing.T) {
	fx := newFixture()
	fx.handler.Secret = ""
	body := paidPayload("ord1", nil)

	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, fx.handler)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(string(body)))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "server misconfigured")
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	fx := newFixture()
	body := []byte("{not json")

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookIgnoresUnpaidEvents(t *testing.T) {
	fx := newFixture()
	payload := map[string]any{
		"event_name": "order_refunded",
		"data": map[string]any{
			"id":         "ord1",
			"attributes": map[string]any{"status": "refunded"},
		},
	}
	body, _ := json.Marshal(payload)

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ignored event", decodeBody(t, rr)["info"])
	assert.Zero(t, fx.render.calls)
	assert.Empty(t, fx.store.inserted)
}

func TestWebhookReplayShortCircuits(t *testing.T) {
	fx := newFixture()
	fx.store.exists = true
	body := paidPayload("ord1", map[string]any{"purchase_intent_id": "pi1"})

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "already processed", decodeBody(t, rr)["info"])
	assert.Zero(t, fx.render.calls)
	assert.Empty(t, fx.blobs.uploads)
	assert.Zero(t, fx.sender.calls)
}

func TestWebhookUnmappedOrderAcknowledged(t *testing.T) {
	fx := newFixture()
	body := paidPayload("ord1", nil)

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "unmapped", decodeBody(t, rr)["info"])
	assert.Empty(t, fx.store.inserted)
}

func TestWebhookHappyPathDeliversCard(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi1"] = &postgres.Intent{ID: "pi1", RecipeID: "recipe_abc", Email: "buyer@example.com", Status: "created"}
	fx.store.recipes["recipe_abc"] = &recipe.Recipe{ID: "recipe_abc", Title: "Mafé d'arachide"}
	body := paidPayload("ord42", map[string]any{"purchase_intent_id": "pi1"})

	rr := fx.post(t, body, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, decodeBody(t, rr)["ok"])

	require.Len(t, fx.store.inserted, 1)
	p := fx.store.inserted[0]
	assert.Equal(t, "ord42", p.OrderID)
	assert.Equal(t, "recipe_abc", p.RecipeID)
	assert.Equal(t, "buyer@example.com", p.CustomerEmail)
	assert.Equal(t, "delivered", p.Status)
	assert.True(t, strings.HasPrefix(p.FileURL, "https://blob.local/purchases/ord42_"))

	require.Len(t, fx.blobs.uploads, 1)
	assert.True(t, strings.HasPrefix(fx.blobs.uploads[0], "purchases/ord42_"))
	assert.True(t, strings.HasSuffix(fx.blobs.uploads[0], ".pdf"))

	assert.Equal(t, []string{"pi1"}, fx.store.completed)

	assert.Equal(t, 1, fx.sender.calls)
	assert.Equal(t, "buyer@example.com", fx.sender.to)
	assert.Contains(t, fx.sender.subject, "Mafé d'arachide")
	assert.Contains(t, fx.sender.body, p.FileURL)

	require.Len(t, fx.pub.events, 1)
	assert.Equal(t, "PurchaseDelivered", fx.pub.events[0].EventType)
	assert.Equal(t, "ord42", fx.pub.events[0].AggregateID)
	assert.Equal(t, []string{"purchases.v1"}, fx.pub.topics)
}

func TestWebhookResolvesIntentFromReturnURL(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi9"] = &postgres.Intent{ID: "pi9", RecipeID: "recipe_xyz"}
	fx.store.recipes["recipe_xyz"] = &recipe.Recipe{ID: "recipe_xyz", Title: "Thieboudienne"}
	payload := map[string]any{
		"event_name": "order_completed",
		"data": map[string]any{
			"id": "ord7",
			"attributes": map[string]any{
				"status":     "paid",
				"return_url": "https://astrofood.app/thanks?pi=pi9",
				"customer":   map[string]any{"email": "relay@example.com"},
			},
		},
	}
	body, _ := json.Marshal(payload)

	rr := fx.post(t, body, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, fx.store.inserted, 1)
	assert.Equal(t, "recipe_xyz", fx.store.inserted[0].RecipeID)
	// no email on the intent, so the processor's customer email is used
	assert.Equal(t, "relay@example.com", fx.store.inserted[0].CustomerEmail)
}

func TestWebhookMetaIntentWinsOverReturnURL(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi-meta"] = &postgres.Intent{ID: "pi-meta", RecipeID: "recipe_meta"}
	fx.store.recipes["recipe_meta"] = &recipe.Recipe{ID: "recipe_meta", Title: "Bouillie de mil"}
	payload := map[string]any{
		"event_name": "order_paid",
		"data": map[string]any{
			"id": "ord8",
			"attributes": map[string]any{
				"status":     "paid",
				"meta":       map[string]any{"purchase_intent_id": "pi-meta"},
				"return_url": "https://astrofood.app/thanks?pi=pi-other",
			},
		},
	}
	body, _ := json.Marshal(payload)

	rr := fx.post(t, body, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"pi-meta"}, fx.store.completed)
}

func TestWebhookNumericOrderID(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi1"] = &postgres.Intent{ID: "pi1", RecipeID: "recipe_abc"}
	fx.store.recipes["recipe_abc"] = &recipe.Recipe{ID: "recipe_abc", Title: "Jollof"}
	body := []byte(`{"event_name":"order_paid","data":{"id":123456,"attributes":{"status":"paid","meta":{"pi":"pi1"}}}}`)

	rr := fx.post(t, body, nil)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Len(t, fx.store.inserted, 1)
	assert.Equal(t, "123456", fx.store.inserted[0].OrderID)
}

func TestWebhookDuplicateInsertTreatedAsProcessed(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi1"] = &postgres.Intent{ID: "pi1", RecipeID: "recipe_abc"}
	fx.store.recipes["recipe_abc"] = &recipe.Recipe{ID: "recipe_abc", Title: "Jollof"}
	fx.store.insertErr = &pq.Error{Code: "23505"}
	body := paidPayload("ord1", map[string]any{"purchase_intent_id": "pi1"})

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "already processed", decodeBody(t, rr)["info"])
	// the losing call does not notify or publish
	assert.Zero(t, fx.sender.calls)
	assert.Empty(t, fx.pub.events)
}

func TestWebhookMissingRecipeIsAnError(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi1"] = &postgres.Intent{ID: "pi1", RecipeID: "recipe_gone"}
	body := paidPayload("ord1", map[string]any{"purchase_intent_id": "pi1"})

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "recipe not found")
}

func TestWebhookUploadConflictFails(t *testing.T) {
	fx := newFixture()
	fx.store.intents["pi1"] = &postgres.Intent{ID: "pi1", RecipeID: "recipe_abc"}
	fx.store.recipes["recipe_abc"] = &recipe.Recipe{ID: "recipe_abc", Title: "Jollof"}
	fx.blobs.uploadErr = blob.ErrObjectExists
	body := paidPayload("ord1", map[string]any{"purchase_intent_id": "pi1"})

	rr := fx.post(t, body, nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, fx.store.inserted)
	assert.Zero(t, fx.sender.calls)
}

func TestWebhookRejectsNonPost(t *testing.T) {
	fx := newFixture()
	mux := http.NewServeMux()
	RegisterWebhookRoutes(mux, fx.handler)
	req := httptest.NewRequest(http.MethodGet, "/api/webhooks/payment", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestResolveIntentIDPrecedence(t *testing.T) {
	cases := []struct {
		name      string
		meta      map[string]any
		returnURL string
		want      string
	}{
		{"meta purchase_intent_id first", map[string]any{"purchase_intent_id": "a", "pi": "b"}, "https://x/thanks?pi=c", "a"},
		{"meta pi second", map[string]any{"pi": "b"}, "https://x/thanks?pi=c", "b"},
		{"return url last", nil, "https://x/thanks?pi=c", "c"},
		{"nothing", nil, "", ""},
		{"non-string meta ignored", map[string]any{"purchase_intent_id": 42.0}, "https://x/thanks?pi=c", "c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveIntentID(tc.meta, tc.returnURL))
		})
	}
}

func TestDecodeID(t *testing.T) {
	assert.Equal(t, "ord1", decodeID(json.RawMessage(`"ord1"`)))
	assert.Equal(t, "42", decodeID(json.RawMessage(`42`)))
	assert.Equal(t, "", decodeID(nil))
	assert.Equal(t, "", decodeID(json.RawMessage(`{"x":1}`)))
}
