package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"loraclima-server/internal/config"
	"loraclima-server/internal/db"
	"loraclima-server/internal/logging"
	"loraclima-server/internal/migrate"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending schema/seed migrations\n  status   list migrations and whether they are applied\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StoreDriverSQLite {
		fmt.Fprintf(os.Stderr, "migrate: STORE_DRIVER=%s manages its own schema\n", cfg.StoreDriver)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewTo(os.Stderr, cfg, version, "loraclima-migrate"))

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	switch os.Args[1] {
	case "migrate":
		if err := migrate.Run(ctx, conn); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migrations applied")
	case "status":
		migrations, err := migrate.Status(ctx, conn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		for _, m := range migrations {
			state := "pending"
			if m.Applied {
				state = "applied"
			}
			fmt.Printf("%s  %-8s %s\n", m.Version, state, m.Name)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
