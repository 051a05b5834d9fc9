package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	appconfig "github.com/astrofood/Card-Fulfillment-Pipeline/internal/config"
	"github.com/astrofood/Card-Fulfillment-Pipeline/internal/recipe"
	postgres "github.com/astrofood/Card-Fulfillment-Pipeline/internal/storage/postgres"
)

// Seeds the recipes table from the bundled fallback file so the storefront has
// purchasable cards before any live generation happened. Safe to rerun; rows
// are upserted by id.
func main() {
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := postgres.OpenDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(db, cfg.Tables); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := postgres.NewRepository(db, cfg.Tables)

	raw, err := os.ReadFile(cfg.Generation.FallbackFile)
	if err != nil {
		log.Fatalf("read %s: %v", cfg.Generation.FallbackFile, err)
	}
	var table map[string][]recipe.Recipe
	if err := json.Unmarshal(raw, &table); err != nil {
		log.Fatalf("parse %s: %v", cfg.Generation.FallbackFile, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstID string
	seeded := 0
	for lang, set := range table {
		for i, rec := range set {
			rec.Lang = lang
			if rec.ID == "" {
				rec.ID = fmt.Sprintf("recipe_seed_%s_%s", lang, strconv.Itoa(i+1))
			}
			if err := repo.UpsertRecipe(ctx, rec.Normalize()); err != nil {
				log.Fatalf("upsert %s: %v", rec.ID, err)
			}
			if firstID == "" {
				firstID = rec.ID
			}
			seeded++
		}
	}
	log.Printf("seeded %d recipes into %s", seeded, cfg.Tables.Recipes)

	// Verify one row round-trips
	if firstID != "" {
		got, err := repo.GetRecipe(ctx, firstID)
		if err != nil {
			log.Fatalf("verify %s: %v", firstID, err)
		}
		log.Printf("Verify %s -> %q", firstID, got.Title)
	}

	log.Println("Recipe seed verification passed")
}
