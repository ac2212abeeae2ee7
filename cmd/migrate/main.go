package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"booky.app/internal/migrate"
	"booky.app/internal/obs"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn     = flag.String("dsn", os.Getenv("BOOKY_PG_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Directory holding migrations/ and seeds/ (default: embedded schema)")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		fatal("missing DSN: provide via -dsn or BOOKY_PG_DSN")
	}
	if flag.NArg() == 0 {
		fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatal(fmt.Sprintf("open db: %v", err))
	}
	defer db.Close()

	var opts []migrate.Option
	if *dir != "" {
		opts = append(opts, migrate.WithFS(os.DirFS(*dir)))
	}
	mgr := migrate.NewManager(db, opts...)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		obs.Logger().Info("migrate up finished", "applied", len(applied))
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			obs.Logger().Info("nothing to roll back")
			return
		}
		if err == nil {
			obs.Logger().Info("migrate down finished", "name", name)
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		obs.Logger().Info("seed finished", "applied", len(applied))
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		fatal(fmt.Sprintf("unknown command %q", cmd))
	}
	if err != nil {
		fatal(fmt.Sprintf("migrate %s: %v", flag.Arg(0), err))
	}
}

func fatal(msg string) {
	obs.Logger().Error(msg)
	os.Exit(1)
}
