package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clinigate.org/internal/config"
	"clinigate.org/internal/migrate"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	if configPath != "" {
		if err := os.Setenv(config.ConfigPathEnvVar, configPath); err != nil {
			log.Fatalf("set config path: %v", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn is required for migrations")
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	runner := migrate.NewRunner(db)
	switch command {
	case "up":
		if err := runner.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := runner.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		fmt.Println("last migration rolled back")
	case "status":
		applied, err := runner.Status(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up, down or status)\n", command)
		os.Exit(2)
	}
}
