// Command provision-admin creates an admin identity for a contact. Admins
// are never created through code sign-in.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/amplio/onboard/internal/apperr"
	"github.com/amplio/onboard/internal/config"
	"github.com/amplio/onboard/internal/identity"
	"github.com/amplio/onboard/internal/infra"
	"github.com/amplio/onboard/internal/logging"
)

func main() {
	contact := flag.String("contact", "", "phone number or email address of the admin")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if *contact == "" {
		fmt.Fprintln(os.Stderr, "usage: provision-admin -contact <phone|email>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := identity.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	svc := identity.NewService(repo, identity.WithLogger(logger), identity.WithTimeout(cfg.PersistenceTimeout))
	admin, err := svc.ProvisionAdmin(ctx, *contact)
	if apperr.Is(err, apperr.KindAlreadyExists) {
		fmt.Fprintf(os.Stderr, "contact %s is already registered\n", logging.MaskContact(*contact))
		os.Exit(1)
	}
	if err != nil {
		logger.Error("provision admin", "error", err)
		os.Exit(1)
	}
	fmt.Println(admin.ID)
}
