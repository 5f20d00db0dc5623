package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"recurrent-billing/internal/config"
	"recurrent-billing/internal/domain/model"
	pg "recurrent-billing/internal/infra/db/postgres"
)

type catalogEntry struct {
	ID         string `yaml:"id"`
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Price      int64  `yaml:"price"` // minor units
	LengthDays int    `yaml:"length_days"`
	Renewable  *bool  `yaml:"renewable"`
	Next       string `yaml:"next"`
}

var defaultCatalog = []catalogEntry{
	{ID: "monthly", Code: "monthly", Name: "Monthly", Price: 990, LengthDays: 30},
	{ID: "yearly", Code: "yearly", Name: "Yearly", Price: 9900, LengthDays: 365},
	{ID: "trial", Code: "trial", Name: "Trial", Price: 100, LengthDays: 7, Next: "monthly"},
}

// seed upserts subscription types. Safe to re-run.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	catalogPath := flag.String("catalog", "", "YAML list of subscription types; built-in sample when empty")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	entries := defaultCatalog
	if *catalogPath != "" {
		b, err := os.ReadFile(*catalogPath)
		if err != nil {
			log.Fatalf("read catalog: %v", err)
		}
		entries = nil
		if err := yaml.Unmarshal(b, &entries); err != nil {
			log.Fatalf("parse catalog: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	repo := pg.NewSubscriptionTypeRepo(pool)

	// successors reference other rows, so link them in a second pass
	saved := make(map[string]*model.SubscriptionType, len(entries))
	for _, e := range entries {
		renewable := e.Renewable == nil || *e.Renewable
		st, err := model.NewSubscriptionType(e.ID, e.Code, e.Name, e.Price, e.LengthDays, renewable)
		if err != nil {
			log.Fatalf("subscription type %q: %v", e.ID, err)
		}
		if err := repo.Save(ctx, nil, st); err != nil {
			log.Fatalf("save %q: %v", e.ID, err)
		}
		saved[e.ID] = st
	}
	for _, e := range entries {
		if e.Next == "" {
			continue
		}
		st := saved[e.ID]
		next := e.Next
		st.NextSubscriptionTypeID = &next
		if err := repo.Save(ctx, nil, st); err != nil {
			log.Fatalf("link %q -> %q: %v", e.ID, e.Next, err)
		}
	}

	for _, e := range entries {
		st := saved[e.ID]
		fmt.Printf("seeded: %s (code=%s, price=%d, days=%d, renewable=%v)\n", st.ID, st.Code, st.Price, st.LengthDays, st.Renewable)
	}
}
