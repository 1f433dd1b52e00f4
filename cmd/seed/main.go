package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/ledger"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/registry"
	"github.com/xtrntr/auction/internal/storage/backend"
)

// Password shared by every seeded account
const seedPassword = "Auction1!"

// Seed the configured store with categories, users, items and bids
func main() {
	ctx := context.Background()

	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage == config.StorageMemory {
		log.Fatalf("Seeding memory storage has no effect; set AUCTION_STORAGE")
	}

	store, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Storage, err)
	}
	defer store.Close()

	// First check if we already have data
	existing, err := store.ListCategories(ctx)
	if err != nil {
		log.Fatalf("Failed to check categories: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("Store already has %d categories. No need to seed.\n", len(existing))
		os.Exit(0)
	}

	reg := registry.New(store, nil)
	bidLedger := ledger.New(store)
	engine := auction.NewEngine(reg, bidLedger, nil)
	// Seeding never issues tokens
	users := auth.NewAuthService(store, "seed", time.Hour)

	categories := map[string]models.Category{}
	for _, name := range []string{"Antiques", "Books", "Electronics", "Furniture", "Music"} {
		c, err := reg.AddCategory(ctx, name)
		if err != nil {
			log.Fatalf("Failed to create category %s: %v", name, err)
		}
		categories[name] = c
	}

	people := []struct{ first, last, email string }{
		{"Ada", "Lovelace", "ada@example.com"},
		{"Grace", "Hopper", "grace@example.com"},
		{"Alan", "Turing", "alan@example.com"},
	}
	ids := make([]int64, 0, len(people))
	for _, p := range people {
		u, err := users.Register(ctx, p.first, p.last, p.email, seedPassword)
		if err != nil {
			log.Fatalf("Failed to create user %s: %v", p.email, err)
		}
		ids = append(ids, u.ID)
	}

	now := time.Now()
	listings := []struct {
		owner    int64
		item     models.NewItem
		category string
	}{
		{ids[0], models.NewItem{Title: "Brass desk lamp", Description: "1930s, rewired", StartingPrice: 40, ClosesAt: now.Add(72 * time.Hour)}, "Antiques"},
		{ids[0], models.NewItem{Title: "First edition novel", Description: "Signed copy, slight wear", StartingPrice: 120, ClosesAt: now.Add(48 * time.Hour)}, "Books"},
		{ids[1], models.NewItem{Title: "Vintage synthesizer", Description: "Analog, fully working", StartingPrice: 300, ClosesAt: now.Add(24 * time.Hour)}, "Music"},
		{ids[1], models.NewItem{Title: "Oak bookshelf", Description: "Five shelves, solid oak", StartingPrice: 60, ClosesAt: now.Add(96 * time.Hour)}, "Furniture"},
		{ids[2], models.NewItem{Title: "Mechanical keyboard", Description: "Tactile switches", StartingPrice: 50, ClosesAt: now.Add(36 * time.Hour)}, "Electronics"},
	}
	items := make([]models.Item, 0, len(listings))
	for _, l := range listings {
		l.item.CategoryIDs = []int64{categories[l.category].ID}
		item, err := reg.CreateItem(ctx, l.owner, l.item, now)
		if err != nil {
			log.Fatalf("Failed to create item %q: %v", l.item.Title, err)
		}
		items = append(items, item)
	}

	// Each non-owner outbids the last in turn
	bids := 0
	for _, item := range items {
		price := item.StartingPrice
		for round := 1; round <= 3; round++ {
			for _, bidder := range ids {
				if bidder == item.OwnerID {
					continue
				}
				price += int64(5 * round)
				if _, err := engine.PlaceBid(ctx, item.ID, bidder, price, time.Now()); err != nil {
					log.Fatalf("Failed to place bid on item %d: %v", item.ID, err)
				}
				bids++
			}
		}
	}

	fmt.Printf("Seeded %d categories, %d users, %d items and %d bids (password %q).\n",
		len(categories), len(ids), len(items), bids, seedPassword)
}
