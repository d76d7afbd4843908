// Package main applies schema migrations for the AlpacaLotto stores:
// Postgres (session keys, referral users) and ClickHouse (purchase history).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/alpaca-lotto/internal/config"
	"github.com/alpaca-lotto/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		target = flag.String("db", "all", "Target store: postgres, clickhouse, all")
		dir    = flag.String("dir", "migrations", "Root directory holding per-store migration files")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *action {
	case "up":
		if *target != "postgres" && *target != "clickhouse" && *target != "all" {
			log.Fatalf("Unknown store: %s", *target)
		}
		if *target == "postgres" || *target == "all" {
			if err := postgresUp(cfg, *dir); err != nil {
				log.Fatalf("Postgres migration failed: %v", err)
			}
		}
		if *target == "clickhouse" || *target == "all" {
			if err := clickhouseUp(cfg, *dir); err != nil {
				log.Fatalf("ClickHouse migration failed: %v", err)
			}
		}

	case "down":
		// ClickHouse migrations are forward-only; the purchase table is
		// append-only history and never rolled back in place.
		if *target != "postgres" {
			log.Fatalf("Action down supports -db postgres only")
		}
		log.Println("Rolling back one Postgres migration...")
		if err := storage.RollbackMigrations(postgresURL(cfg), filepath.Join(*dir, "postgres")); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rolled back")

	case "version":
		if *target != "postgres" {
			log.Fatalf("Action version supports -db postgres only")
		}
		version, dirty, err := storage.MigrationVersion(postgresURL(cfg), filepath.Join(*dir, "postgres"))
		if err != nil {
			log.Fatalf("Version check failed: %v", err)
		}
		log.Printf("Postgres schema version: %d (dirty: %v)", version, dirty)

	default:
		log.Fatalf("Unknown action: %s", *action)
	}
}

func postgresURL(cfg *config.Config) string {
	pg := cfg.Database.Postgres
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pg.User, pg.Password, pg.Host, pg.Port, pg.Database)
}

func postgresUp(cfg *config.Config, dir string) error {
	log.Println("Applying Postgres migrations...")
	if err := storage.RunMigrations(postgresURL(cfg), filepath.Join(dir, "postgres")); err != nil {
		return err
	}
	log.Println("Postgres schema up to date")
	return nil
}

func clickhouseUp(cfg *config.Config, dir string) error {
	path := filepath.Join(dir, "clickhouse")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", path)
	}

	db, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	log.Println("Applying ClickHouse migrations...")
	if err := storage.RunClickHouseMigrations(db, path); err != nil {
		return err
	}
	log.Println("ClickHouse schema up to date")
	return nil
}
