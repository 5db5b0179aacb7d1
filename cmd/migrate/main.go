// Command migrate manages the gateway database schema: applying,
// rolling back and scaffolding migration files.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ecomhub/gateway/internal/infrastructure/config"
	"github.com/ecomhub/gateway/internal/infrastructure/logger"
	"github.com/ecomhub/gateway/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsPath = "migrations"

func main() {
	var (
		migrationsPath string
		logLevel       string
	)
	flag.StringVar(&migrationsPath, "path", "", "migrations directory (default ./migrations)")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stdout", TimeFormat: "2006-01-02 15:04:05"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger setup failed:", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	migrationsPath = resolveMigrationsPath(migrationsPath, log)
	log.Info("Migration CLI started",
		zap.String("command", command),
		zap.String("migrations_path", migrationsPath),
	)

	// create and list work on the filesystem alone
	switch command {
	case "create":
		runCreate(migrationsPath, args[1:], log)
		return
	case "list":
		runList(migrationsPath, log)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Cannot load configuration", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Cannot open database connection", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("Database is unreachable", zap.Error(err))
	}

	m, err := migration.New(db, migrationsPath, log)
	if err != nil {
		log.Fatal("Cannot build migrator", zap.Error(err))
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil {
			log.Fatal("Applying migrations failed", zap.Error(err))
		}
	case "down":
		if err := m.Down(); err != nil {
			log.Fatal("Rolling back migrations failed", zap.Error(err))
		}
	case "step":
		n, err := strconv.Atoi(requireArg(args, "A step count is required: migrate step <n>", log))
		if err != nil {
			log.Fatal("Step count is not a number", zap.String("value", args[1]))
		}
		if err := m.Steps(n); err != nil {
			log.Fatal("Stepping migrations failed", zap.Error(err))
		}
	case "goto":
		version, err := strconv.ParseUint(requireArg(args, "A target version is required: migrate goto <version>", log), 10, 32)
		if err != nil {
			log.Fatal("Version is not a number", zap.String("value", args[1]))
		}
		if err := m.GoTo(uint(version)); err != nil {
			log.Fatal("Moving to version failed", zap.Error(err))
		}
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Cannot read schema version", zap.Error(err))
		}
		if version == 0 {
			log.Info("Schema has no applied migrations")
		} else {
			log.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
	case "force":
		version, err := strconv.Atoi(requireArg(args, "A version is required: migrate force <version>", log))
		if err != nil {
			log.Fatal("Version is not a number", zap.String("value", args[1]))
		}
		log.Warn("Stamping schema version without running SQL")
		if err := m.Force(version); err != nil {
			log.Fatal("Stamping version failed", zap.Error(err))
		}
	case "drop":
		if !hasConfirmFlag(args[1:]) {
			log.Fatal("Refusing to drop without -confirm")
		}
		if err := m.Drop(); err != nil {
			log.Fatal("Dropping schema failed", zap.Error(err))
		}
	default:
		log.Error("Unrecognized command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

// resolveMigrationsPath falls back from the flag to ./migrations, then
// to a path relative to the executable for containerized deployments.
func resolveMigrationsPath(flagPath string, log *zap.Logger) string {
	path := flagPath
	if path == "" {
		path = defaultMigrationsPath
		if _, err := os.Stat(path); err != nil {
			if execPath, execErr := os.Executable(); execErr == nil {
				candidate := filepath.Join(filepath.Dir(execPath), "..", "..", defaultMigrationsPath)
				if _, statErr := os.Stat(candidate); statErr == nil {
					path = candidate
				}
			}
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		log.Fatal("Cannot resolve migrations path", zap.Error(err))
	}
	return abs
}

func runCreate(migrationsPath string, args []string, log *zap.Logger) {
	if len(args) == 0 {
		log.Fatal("A migration name is required: migrate create <name> [description]")
	}
	name := args[0]
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	mf, err := migration.CreateMigration(migrationsPath, name, description)
	if err != nil {
		log.Fatal("Scaffolding migration failed", zap.Error(err))
	}

	log.Info("Migration scaffolded",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
}

func runList(migrationsPath string, log *zap.Logger) {
	migrations, err := migration.ListMigrations(migrationsPath)
	if err != nil {
		log.Fatal("Cannot list migrations", zap.Error(err))
	}
	if len(migrations) == 0 {
		log.Info("No migration files found")
		return
	}

	log.Info("Migration files", zap.Int("count", len(migrations)))
	for _, m := range migrations {
		fmt.Println("  -", m)
	}
}

func requireArg(args []string, usage string, log *zap.Logger) string {
	if len(args) < 2 {
		log.Fatal(usage)
	}
	return args[1]
}

func hasConfirmFlag(args []string) bool {
	for _, arg := range args {
		if arg == "-confirm" || arg == "--confirm" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Println(`Gateway schema migration tool

Usage:
  migrate [flags] <command> [arguments]

Commands:
  up                    apply all pending migrations
  down                  roll back all migrations
  step <n>              apply n migrations, negative rolls back
  goto <version>        migrate to a specific version
  version               show the current schema version
  force <version>       stamp a version without running SQL (repairs dirty state)
  drop -confirm         drop every database object
  create <name> [desc]  scaffold a new up/down migration pair
  list                  list available migrations

Flags:
  -path string          migrations directory (default ./migrations)
  -log-level string     log level (default info)

Connection settings come from config.yaml or GATEWAY_DATABASE_* env vars.

Examples:
  migrate up
  migrate step -1
  migrate create add_service_descriptors "Create service registry table"
  migrate version`)
}
