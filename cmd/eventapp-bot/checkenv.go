package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"eventapp-telegram-bot/internal/common/config"
	"eventapp-telegram-bot/internal/common/logger"
	"eventapp-telegram-bot/internal/metrics"
	"eventapp-telegram-bot/internal/platform/postgres"
	"eventapp-telegram-bot/internal/service/eventapp"
)

var (
	requiredVars = []string{
		"TELEGRAM_BOT_TOKEN",
		"DATABASE_URL",
		"JWT_SECRET",
		"EVENTAPP_API_URL",
		"FRONTEND_URL",
		"MINI_APP_URL",
		"PORT",
	}
	optionalVars = []string{
		"APP_ENV",
		"SESSION_BACKEND",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
	}
)

func newCheckEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Check environment variables and connectivity to the database and EventApp API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			// Keep connection logs out of the report.
			logger.Init(serviceName, false, true)
			return checkEnv(cmd.Context(), cmd.OutOrStdout(), os.LookupEnv)
		},
	}
}

type lookupFunc func(string) (string, bool)

func checkEnv(ctx context.Context, out io.Writer, lookup lookupFunc) error {
	fmt.Fprintln(out, "🔍 Checking Telegram Bot Environment Variables...")

	missing := reportVars(out, lookup)

	fmt.Fprintln(out, "\n🔧 Environment Summary:")
	fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
	fmt.Fprintf(out, "Platform: %s\n", runtime.GOOS)
	fmt.Fprintf(out, "Architecture: %s\n", runtime.GOARCH)

	fmt.Fprintln(out, "\n🗄️  Testing Database Connection...")
	if dsn, ok := lookup("DATABASE_URL"); ok && dsn != "" {
		checkDatabase(ctx, out, dsn)
	} else {
		fmt.Fprintln(out, "❌ DATABASE_URL not set")
	}

	fmt.Fprintln(out, "\n🌐 Testing API Connection...")
	if apiURL, ok := lookup("EVENTAPP_API_URL"); ok && apiURL != "" {
		checkAPI(ctx, out, apiURL)
	} else {
		fmt.Fprintln(out, "❌ EVENTAPP_API_URL not set")
	}

	fmt.Fprintln(out, "\n🎯 Bot Configuration Check Complete!")

	if len(missing) > 0 {
		return fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// reportVars prints every known variable and returns the required ones that are unset.
func reportVars(out io.Writer, lookup lookupFunc) []string {
	var missing []string

	fmt.Fprintln(out, "\n📋 Required Variables:")
	for _, name := range requiredVars {
		value, ok := lookup(name)
		if !ok || value == "" {
			fmt.Fprintf(out, "❌ %s: NOT SET\n", name)
			missing = append(missing, name)
			continue
		}
		fmt.Fprintf(out, "✅ %s: %s\n", name, maskSecret(name, value))
	}

	fmt.Fprintln(out, "\n📋 Optional Variables:")
	for _, name := range optionalVars {
		value, ok := lookup(name)
		if !ok || value == "" {
			fmt.Fprintf(out, "⚠️  %s: NOT SET (using default)\n", name)
			continue
		}
		fmt.Fprintf(out, "✅ %s: %s\n", name, maskSecret(name, value))
	}

	return missing
}

func maskSecret(name, value string) string {
	if strings.Contains(name, "TOKEN") || strings.Contains(name, "SECRET") || strings.Contains(name, "PASSWORD") {
		return "***SET***"
	}
	return value
}

func checkDatabase(ctx context.Context, out io.Writer, dsn string) {
	cfg := &config.Config{}
	cfg.Postgres.DatabaseURL = dsn
	cfg.Postgres.MaxOpenConns = 1
	cfg.Postgres.MaxIdleConns = 1
	cfg.Postgres.ConnMaxLifetime = time.Minute

	client, err := postgres.NewClient(ctx, cfg)
	if err != nil {
		fmt.Fprintf(out, "❌ Database connection failed: %v\n", err)
		return
	}
	defer client.Close()

	now, err := client.ServerTime(ctx)
	if err != nil {
		fmt.Fprintf(out, "❌ Database connection failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "✅ Database connection successful")
	fmt.Fprintf(out, "   Server time: %s\n", now.Format(time.RFC3339))
}

func checkAPI(ctx context.Context, out io.Writer, apiURL string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := eventapp.NewClient(&http.Client{}, apiURL, metrics.Nop{})
	if err := client.Health(ctx); err != nil {
		fmt.Fprintf(out, "❌ API connection failed: %v\n", err)
		return
	}
	fmt.Fprintln(out, "✅ API connection successful")
	fmt.Fprintf(out, "   URL: %s/health\n", client.BaseURL())
}
