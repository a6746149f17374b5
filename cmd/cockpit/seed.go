package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicockpit/cockpit/internal/account"
	"github.com/voicockpit/cockpit/internal/auth"
	"github.com/voicockpit/cockpit/internal/mail"
	"github.com/voicockpit/cockpit/internal/rbac"
	"github.com/voicockpit/cockpit/internal/user"
)

var (
	seedAdminEmail    string
	seedAdminName     string
	seedAdminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the permission catalog, system roles and a first admin",
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", "", "email of the first admin (or COCKPIT_ADMIN_EMAIL)")
	seedCmd.Flags().StringVar(&seedAdminName, "admin-name", "Administrator", "display name of the first admin")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "", "password of the first admin (or COCKPIT_ADMIN_PASSWORD)")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	roleStore := rbac.NewStore(pool)
	if err := rbac.Seed(ctx, roleStore); err != nil {
		return fmt.Errorf("seeding roles: %w", err)
	}
	slog.Info("permission catalog and system roles installed")

	if seedAdminEmail == "" {
		seedAdminEmail = os.Getenv("COCKPIT_ADMIN_EMAIL")
	}
	if seedAdminPassword == "" {
		seedAdminPassword = os.Getenv("COCKPIT_ADMIN_PASSWORD")
	}
	if seedAdminEmail == "" || seedAdminPassword == "" {
		slog.Info("no admin credentials given, skipping admin account")
		return nil
	}

	userStore := user.NewStore(pool, cfg.Auth.SessionTTL)
	count, err := userStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		slog.Info("users already exist, skipping admin account", "count", count)
		return nil
	}

	guard := account.NewGuard(userStore, rbac.NewService(roleStore), mail.New(cfg.Mail), account.DefaultOptions(), nil)
	admin, err := guard.CreateUser(ctx, "", account.CreateUserInput{
		Name:     seedAdminName,
		Email:    seedAdminEmail,
		Password: seedAdminPassword,
		Role:     auth.RoleAdmin,
		Verified: true,
	})
	if err != nil {
		return fmt.Errorf("creating admin: %w", err)
	}

	slog.Info("created admin account", "id", admin.ID, "email", admin.Email)
	fmt.Printf("\n=== Cockpit Seeded ===\n")
	fmt.Printf("Admin:  %s (%s)\n", admin.Email, admin.ID)
	fmt.Printf("\nSign in:\n")
	fmt.Printf("  curl -X POST http://%s/api/v1/auth/login -d '{\"email\":\"%s\",\"password\":\"...\"}'\n", cfg.Addr(), admin.Email)
	return nil
}
