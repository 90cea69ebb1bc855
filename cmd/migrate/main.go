package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/LambdaCodeStudio/Clinica-Backend/internal/db"
	"github.com/LambdaCodeStudio/Clinica-Backend/pkg/logging"
)

const usage = `usage: migrate [up | down <steps> | force <version> | version]`

func main() {
	_ = godotenv.Load()
	logger := logging.Component(logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")), "migrate")

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migrator")
		}
	}()

	if err := run(m, os.Args[1:], logger); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		_ = m.Close()
		os.Exit(1)
	}
}

func run(m *db.Migrator, args []string, logger zerolog.Logger) error {
	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
	case "down":
		steps, err := intArg(args, "steps")
		if err != nil {
			return err
		}
		if err := m.Down(steps); err != nil {
			return err
		}
	case "force":
		version, err := intArg(args, "version")
		if err != nil {
			return err
		}
		if err := m.Force(version); err != nil {
			return err
		}
		logger.Info().Int("version", version).Msg("forced schema version")
		return nil
	case "version":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Str("command", cmd).Msg("schema version")
	return nil
}

func intArg(args []string, name string) (int, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing %s\n%s", name, usage)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, args[1], err)
	}
	return n, nil
}
