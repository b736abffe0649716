// seed inserts one demo account per school role. Idempotent: existing emails are skipped.
package main

import (
	"context"
	"fmt"
	"os"

	"schoolhub/backend/internal/config"
	"schoolhub/backend/internal/db"
	identityrepo "schoolhub/backend/internal/identity/repository"
	"schoolhub/backend/internal/security"
	"schoolhub/backend/internal/seed"
	userrepo "schoolhub/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; the server seeds its in-memory store on its own")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	n, err := seed.Demo(ctx, seed.Stores{
		Users:      users,
		Contacts:   users,
		Identities: identityrepo.NewPostgresRepository(conn),
	}, security.NewHasher(cfg.BcryptCost))
	if err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
	fmt.Printf("created %d demo accounts\n", n)
	for _, a := range seed.DemoAccounts {
		fmt.Printf("  %-8s %s / %s\n", a.Role, a.Email, seed.DemoPassword)
	}
}
