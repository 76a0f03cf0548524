// Package main repairs dirty migration state. golang-migrate marks a version dirty when a
// migration is interrupted; the server then refuses to start until the flag is cleared.
// This tool forces the schema back to a known version so the next startup can retry.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/barangay-registry/civil-registry/internal/config"
	"github.com/barangay-registry/civil-registry/internal/db"
)

func main() {
	force := flag.Int("version", -1, "version to force; defaults to the current (dirty) version")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), 1, 0)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	current, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", current, dirty)

	if !dirty && *force < 0 {
		log.Println("Migration state is already clean")
		return
	}

	target := int(current)
	if *force >= 0 {
		target = *force
	}
	if err := db.ForceMigrationVersion(database, target); err != nil {
		log.Fatalf("Failed to fix migration state: %v", err)
	}

	current, dirty, err = db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", current, dirty)
}
