// Command migrate runs schema migrations against the configured
// database. Deployments use it where the in-process migrator of the
// development server is not wanted.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"carepool/internal/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const migrationsPath = "internal/database/migrations/versions"

func main() {
	var (
		command = flag.String("command", "", "up, down, version, force or create")
		steps   = flag.Int("steps", 0, "number of migrations to apply or roll back")
		version = flag.Int("version", 0, "target version for force")
		name    = flag.String("name", "", "migration name for create")
	)
	flag.Parse()

	if *command == "" {
		usage()
		os.Exit(1)
	}

	if *command == "create" {
		if *name == "" {
			log.Fatal("create needs -name")
		}
		create(*name)
		return
	}

	cfg := config.NewConfig()

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("failed to create migration driver: %v", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()

	switch *command {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
		report(err, "migrations applied")

	case "down":
		n := *steps
		if n == 0 {
			n = 1
		}
		report(m.Steps(-n), "migrations rolled back")

	case "version":
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("no migrations applied yet")
			return
		}
		if err != nil {
			log.Fatalf("failed to read version: %v", err)
		}
		fmt.Printf("version %d (dirty: %v)\n", v, dirty)

	case "force":
		if *version == 0 {
			log.Fatal("force needs -version")
		}
		if err := m.Force(*version); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		fmt.Printf("version forced to %d\n", *version)

	default:
		usage()
		os.Exit(1)
	}
}

func report(err error, done string) {
	if errors.Is(err, migrate.ErrNoChange) {
		fmt.Println("nothing to do")
		return
	}
	if err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	fmt.Println(done)
}

func create(name string) {
	stamp := time.Now().UTC().Format("20060102150405")
	for _, direction := range []string{"up", "down"} {
		path := fmt.Sprintf("%s/%s_%s.%s.sql", migrationsPath, stamp, name, direction)
		if err := os.WriteFile(path, []byte("-- "+direction+"\n"), 0o644); err != nil {
			log.Fatalf("failed to create %s: %v", path, err)
		}
		fmt.Println("created", path)
	}
}

func usage() {
	fmt.Println("usage: migrate -command [up|down|version|force|create] [options]")
	fmt.Println("  -steps N     number of migrations for up/down")
	fmt.Println("  -version N   target version for force")
	fmt.Println("  -name NAME   migration name for create")
}
