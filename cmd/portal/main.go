package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/router-for-me/CLIProxyAPIPortal/internal/app"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/config"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/security"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the requested command.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("portal", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 8318, "server port when the config file sets none")
	migrateOnly := fs.Bool("migrate", false, "run database migrations and exit")
	issueAdminToken := fs.String("issue-admin-token", "", "print an admin token for the given username and exit")
	initConfig := fs.Bool("init", false, "write a new config file and prepare the database, then exit")
	initDBType := fs.String("init-db-type", "sqlite", "database type for -init (sqlite or postgres)")
	initDBPath := fs.String("init-db-path", "", "sqlite database path for -init")
	initDBHost := fs.String("init-db-host", "", "postgres host for -init")
	initDBPort := fs.Int("init-db-port", 5432, "postgres port for -init")
	initDBUser := fs.String("init-db-user", "", "postgres user for -init")
	initDBPassword := fs.String("init-db-password", "", "postgres password for -init")
	initDBName := fs.String("init-db-name", "", "postgres database for -init")
	initUpstream := fs.String("init-upstream", "", "upstream base url for -init")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}
	configureLogging(appCfg.LogLevel)
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)

	switch {
	case *initConfig:
		return app.Initialize(configPath, app.InitRequest{
			DatabaseType:     *initDBType,
			DatabasePath:     *initDBPath,
			DatabaseHost:     *initDBHost,
			DatabasePort:     *initDBPort,
			DatabaseUser:     *initDBUser,
			DatabasePassword: *initDBPassword,
			DatabaseName:     *initDBName,
			UpstreamBaseURL:  *initUpstream,
			UpstreamAPIKey:   os.Getenv(config.EnvUpstreamKey),
			Port:             *port,
		})
	case strings.TrimSpace(*issueAdminToken) != "":
		jwtCfg, _ := config.LoadJWTConfig(configPath)
		token, errIssue := security.IssueAdminToken(jwtCfg.Secret, *issueAdminToken, jwtCfg.Expiry, time.Now())
		if errIssue != nil {
			return errIssue
		}
		fmt.Println(token)
		return nil
	case *migrateOnly:
		return app.Migrate(ctx, appCfg)
	}

	if !app.ConfigExists(configPath) && strings.TrimSpace(os.Getenv(config.EnvDBConnection)) == "" {
		return fmt.Errorf("config file %s not found (run with -init to create one)", configPath)
	}
	return app.RunServer(ctx, appCfg, *port)
}

func configureLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level = strings.TrimSpace(level)
	if level == "" {
		return
	}
	parsed, errParse := log.ParseLevel(level)
	if errParse != nil {
		log.Warnf("invalid log level %q, keeping %s", level, log.GetLevel())
		return
	}
	log.SetLevel(parsed)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
