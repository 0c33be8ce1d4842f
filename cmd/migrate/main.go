package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"payerbook.org/internal/migrate"
	"payerbook.org/internal/obs"
	"payerbook.org/internal/store/pg"
	"payerbook.org/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("PAYERBOOK_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded schema)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds")
		timeout        = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or PAYERBOOK_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [up|down|seed|status]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	var tree fs.FS = migrations.FS()
	if *migrationsPath != "" {
		tree = os.DirFS(*migrationsPath)
	}
	var opts []migrate.Option
	if *seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seedsPath)))
	}
	mgr := migrate.NewManager(store.DB(), tree, opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			logger.Info("applied migration", zap.String("name", name))
		}
		if err == nil && len(applied) == 0 {
			logger.Info("schema up to date")
		}
	case "down":
		var reverted string
		reverted, err = mgr.Down(ctx)
		if err == nil {
			if reverted == "" {
				logger.Info("nothing to revert")
			} else {
				logger.Info("reverted migration", zap.String("name", reverted))
			}
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
