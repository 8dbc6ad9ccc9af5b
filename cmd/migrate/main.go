package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
)

// Schema migration runner. Usage: migrate [up|down|version]. "down" rolls
// back a single migration; rolling back everything would drop live session
// and ledger data, so it is deliberately not offered.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL environment variable is required")
	}

	dir, err := resolveMigrationsDir()
	if err != nil {
		log.Fatal(err)
	}

	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("close migrate: source=%v db=%v", sourceErr, dbErr)
		}
	}()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if err := run(m, command); err != nil {
		log.Fatal(err)
	}
}

func run(m *migrate.Migrate, command string) error {
	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		log.Println("schema is up to date")
	case "down":
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		log.Println("rolled back one migration")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		log.Printf("schema version %d (dirty=%v)", version, dirty)
	default:
		return fmt.Errorf("unknown command %q (want up, down, or version)", command)
	}
	return nil
}

// resolveMigrationsDir looks for the migrations directory by walking from
// the working directory toward the filesystem root, then from the binary's
// location for deployed builds.
func resolveMigrationsDir() (string, error) {
	var starts []string
	if cwd, err := os.Getwd(); err == nil {
		starts = append(starts, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exe))
	}

	for _, start := range starts {
		dir := start
		for {
			candidate := filepath.Join(dir, "migrations")
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				return filepath.Abs(candidate)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return "", errors.New("migrations directory not found; run from the repository root")
}
