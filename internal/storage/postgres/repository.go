package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
)

// Intent links a future payment to a recipe and a contact address.
// Created before checkout, marked completed after fulfillment, never deleted.
type Intent struct {
	ID        string    `json:"id"`
	RecipeID  string    `json:"recipe_id"`
	Email     string    `json:"email,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Purchase is the delivery record. The order_id unique constraint is the
// idempotency gate: at most one row per payment-processor order.
type Purchase struct {
	OrderID       string    `json:"order_id"`
	RecipeID      string    `json:"recipe_id"`
	FileURL       string    `json:"file_url"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository is a thin wrapper around *sql.DB intended for dependency
// injection; no package-level connection state.
type Repository struct {
	DB     *sql.DB
	tables TableConfig
}

func NewRepository(db *sql.DB, tables TableConfig) *Repository {
	return &Repository{DB: db, tables: tables.withDefaults()}
}

// IsUniqueViolation reports whether err is a Postgres duplicate-key error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// InsertIntent writes a fresh checkout intent row.
func (r *Repository) InsertIntent(ctx context.Context, in Intent) error {
	if r.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`
        INSERT INTO %s (id, recipe_id, email, status, created_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5)
    `, pq.QuoteIdentifier(r.tables.Intents))
	if _, err := r.DB.ExecContext(ctx, query, in.ID, in.RecipeID, in.Email, in.Status, in.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	log.Printf("[DB] Inserted intent: %s (recipe %s)", in.ID, in.RecipeID)
	return nil
}

// GetIntent returns one intent row; sql.ErrNoRows when absent.
func (r *Repository) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if r.DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`
        SELECT id, recipe_id, COALESCE(email, ''), status, created_at
        FROM %s WHERE id = $1
    `, pq.QuoteIdentifier(r.tables.Intents))
	var in Intent
	err := r.DB.QueryRowContext(ctx, query, id).
		Scan(&in.ID, &in.RecipeID, &in.Email, &in.Status, &in.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// MarkIntentCompleted flips an intent to completed after fulfillment.
func (r *Repository) MarkIntentCompleted(ctx context.Context, id string) error {
	if r.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'completed' WHERE id = $1`,
		pq.QuoteIdentifier(r.tables.Intents))
	if _, err := r.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark intent completed: %w", err)
	}
	log.Printf("[DB] Marked intent completed: %s", id)
	return nil
}

// PurchaseExists reports whether a delivery record already exists for the
// order. This is a fast path only; the insert's unique constraint is the
// authoritative idempotency check.
func (r *Repository) PurchaseExists(ctx context.Context, orderID string) (bool, error) {
	if r.DB == nil {
		return false, fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE order_id = $1 LIMIT 1`,
		pq.QuoteIdentifier(r.tables.Purchases))
	var one int
	err := r.DB.QueryRowContext(ctx, query, orderID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check purchase: %w", err)
	}
	return true, nil
}

// InsertPurchase writes the delivery record. A unique violation on order_id
// means another delivery of the same order won the race; callers should treat
// it as already processed, not as a failure.
func (r *Repository) InsertPurchase(ctx context.Context, p Purchase) error {
	if r.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`
        INSERT INTO %s (order_id, recipe_id, file_url, customer_email, status, created_at)
        VALUES (NULLIF($1, ''), $2, $3, NULLIF($4, ''), $5, $6)
    `, pq.QuoteIdentifier(r.tables.Purchases))
	if _, err := r.DB.ExecContext(ctx, query, p.OrderID, p.RecipeID, p.FileURL, p.CustomerEmail, p.Status, p.CreatedAt); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	log.Printf("[DB] Inserted purchase: order=%s recipe=%s", p.OrderID, p.RecipeID)
	return nil
}

// ListPurchases returns the most recent delivery records.
func (r *Repository) ListPurchases(ctx context.Context, limit int) ([]Purchase, error) {
	if r.DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
        SELECT order_id, recipe_id, file_url, COALESCE(customer_email, ''), status, created_at
        FROM %s ORDER BY created_at DESC LIMIT $1
    `, pq.QuoteIdentifier(r.tables.Purchases))
	rows, err := r.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var list []Purchase
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.OrderID, &p.RecipeID, &p.FileURL, &p.CustomerEmail, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}
	return list, nil
}

// GetRecipe returns one recipe record; sql.ErrNoRows when absent.
func (r *Repository) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	if r.DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`
        SELECT id, title, COALESCE(sign, ''), COALESCE(lang, ''), ingredients, steps,
               COALESCE(nutrition, ''), COALESCE(poem, ''), COALESCE(notes, '')
        FROM %s WHERE id = $1
    `, pq.QuoteIdentifier(r.tables.Recipes))
	var rec recipe.Recipe
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Title, &rec.Sign, &rec.Lang,
		pq.Array(&rec.Ingredients), pq.Array(&rec.Steps),
		&rec.Nutrition, &rec.Poem, &rec.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertRecipe inserts or replaces a recipe row by id.
func (r *Repository) UpsertRecipe(ctx context.Context, rec recipe.Recipe) error {
	if r.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	query := fmt.Sprintf(`
        INSERT INTO %s (id, title, sign, lang, ingredients, steps, nutrition, poem, notes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            title = EXCLUDED.title,
            sign = EXCLUDED.sign,
            lang = EXCLUDED.lang,
            ingredients = EXCLUDED.ingredients,
            steps = EXCLUDED.steps,
            nutrition = EXCLUDED.nutrition,
            poem = EXCLUDED.poem,
            notes = EXCLUDED.notes
    `, pq.QuoteIdentifier(r.tables.Recipes))
	_, err := r.DB.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.Sign, rec.Lang,
		pq.Array(rec.Ingredients), pq.Array(rec.Steps),
		rec.Nutrition, rec.Poem, rec.Notes, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert recipe %s: %w", rec.ID, err)
	}
	log.Printf("[DB] Upserted recipe: %s", rec.ID)
	return nil
}
