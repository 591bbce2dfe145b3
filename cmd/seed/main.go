// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"session-control-plane/internal/config"
	"session-control-plane/internal/db"
	"session-control-plane/internal/security"
	userdomain "session-control-plane/internal/user/domain"
	userrepo "session-control-plane/internal/user/repository"
)

const (
	devUserEmail   = "dev@example.com"
	devPassword    = "password123"
	adminUserEmail = "admin@example.com"
	adminPassword  = "adminpass123"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)

	existing, err := users.GetByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("lookup: %v", err)
	}
	if existing != nil {
		log.Printf("seed: %s already exists, nothing to do", devUserEmail)
		return
	}

	seedUsers := []struct {
		email    string
		password string
		name     string
		role     string
	}{
		{devUserEmail, devPassword, "Dev User", "member"},
		{adminUserEmail, adminPassword, "Admin User", "admin"},
	}
	for _, su := range seedUsers {
		hash, err := hasher.Hash([]byte(su.password))
		if err != nil {
			log.Fatalf("hash: %v", err)
		}
		now := time.Now().UTC()
		u := &userdomain.User{
			ID:           uuid.New().String(),
			Email:        su.email,
			Name:         su.name,
			PasswordHash: hash,
			Role:         su.role,
			Status:       userdomain.UserStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create %s: %v", su.email, err)
		}
		log.Printf("seed: created %s (%s)", su.email, su.role)
	}
}
