package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/straye-as/sales-pipeline-api/internal/config"
	"github.com/straye-as/sales-pipeline-api/migrations"
)

const usage = "usage: migrate up|up-to VERSION|down|down-to VERSION|status|version|create NAME"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Migration error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf(usage)
	}
	command, arguments := args[0], args[1:]

	// new files go to the source tree, not the embedded copy
	if command == "create" {
		if len(arguments) == 0 {
			return fmt.Errorf("create requires a migration name")
		}
		return goose.Create(nil, "migrations", arguments[0], "sql")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.UpContext(ctx, db, ".")
	case "up-to":
		version, err := versionArg(arguments)
		if err != nil {
			return err
		}
		return goose.UpToContext(ctx, db, ".", version)
	case "down":
		return goose.DownContext(ctx, db, ".")
	case "down-to":
		version, err := versionArg(arguments)
		if err != nil {
			return err
		}
		return goose.DownToContext(ctx, db, ".", version)
	case "status":
		return goose.StatusContext(ctx, db, ".")
	case "version":
		return goose.VersionContext(ctx, db, ".")
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func versionArg(arguments []string) (int64, error) {
	if len(arguments) == 0 {
		return 0, fmt.Errorf("a target version is required")
	}
	version, err := strconv.ParseInt(arguments[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", arguments[0], err)
	}
	return version, nil
}
