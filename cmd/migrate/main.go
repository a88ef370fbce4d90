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

	"clinicore.org/internal/ids"
	"clinicore.org/internal/migrate"
	"clinicore.org/internal/session"
	"clinicore.org/internal/store/pg"
	"clinicore.org/internal/user"
)

func main() {
	log.SetFlags(0)
	var (
		dsn            = flag.String("dsn", os.Getenv("CLINICORE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = flag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CLINICORE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|bootstrap]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
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
	case "bootstrap":
		err = bootstrapSuperAdmin(ctx, db)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// bootstrapSuperAdmin creates the first super_admin account from
// CLINICORE_BOOTSTRAP_EMAIL and CLINICORE_BOOTSTRAP_PASSWORD. The account is
// created active; further role changes go through the admin API.
func bootstrapSuperAdmin(ctx context.Context, db *sql.DB) error {
	email := os.Getenv("CLINICORE_BOOTSTRAP_EMAIL")
	password := os.Getenv("CLINICORE_BOOTSTRAP_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("CLINICORE_BOOTSTRAP_EMAIL and CLINICORE_BOOTSTRAP_PASSWORD are required")
	}
	hash, err := session.HashPassword(password)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	u := user.New(ids.New(), email, hash, "", "", now)
	u = u.VerifyEmail(now)
	u.SystemRole = user.RoleSuperAdmin

	if err := pg.NewStore(db).Users().Create(ctx, u); err != nil {
		return err
	}
	log.Printf("created super admin %s (%s)", u.ID, u.Email)
	return nil
}
