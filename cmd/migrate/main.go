// Command migrate manages the raffle schema.
//
//	migrate up            apply schema migrations
//	migrate seed          apply schema and demo data
//	migrate down          roll back everything
//	migrate to <version>  move to a specific version
//	migrate force <v>     mark version v as clean
//	migrate version       print the current version
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"ms-raffle/internal/config"
	"ms-raffle/internal/database"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var dir string
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dir, "dir", cfg.Migrations.Dir, "directory holding the migration files")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: migrate [--dir path] up|seed|down|to <version>|force <version>|version\n")
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return fmt.Errorf("missing command")
	}

	log := logger.NewLogger("raffle-migrate")
	defer log.Close()

	bunDB, err := database.ConnectPostgres(context.Background(), cfg.Database, log)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	opts := migrations.Options{Dir: dir}
	if args[0] == "seed" {
		opts.SeedData = true
	}
	runner := migrations.NewRunner(bunDB, opts, log)
	defer runner.Close()

	switch args[0] {
	case "up", "seed":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a version", args[0])
		}
		version, convErr := strconv.Atoi(args[1])
		if convErr != nil || version < 0 {
			return fmt.Errorf("invalid version %q", args[1])
		}
		if args[0] == "to" {
			err = runner.MigrateTo(uint(version))
		} else {
			err = runner.Force(version)
		}
	case "version":
		version, dirty, verr := runner.Version()
		if verr != nil {
			return verr
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		return err
	}
	log.Info("MIGRATION", fmt.Sprintf("✅ %s complete", args[0]))
	return nil
}
