package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/CLIProxyAPIPortal/internal/db"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// InitRequest contains parameters for writing the initial config file.
type InitRequest struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	UpstreamBaseURL  string
	UpstreamAPIKey   string
	Port             int
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "portal.db"

// BuildDSN builds a database DSN from the init request.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "postgres":
		sslMode := req.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			req.DatabaseUser,
			req.DatabasePassword,
			req.DatabaseHost,
			req.DatabasePort,
			req.DatabaseName,
			sslMode,
		), nil
	case "sqlite":
		path := strings.TrimSpace(req.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		return buildSQLiteDSN(path), nil
	default:
		return "", fmt.Errorf("unsupported database type")
	}
}

// buildSQLiteDSN constructs a SQLite DSN with default parameters.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		"_pragma=synchronous(NORMAL)",
	}, "&")
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

// validateInitRequest normalizes and validates init input data.
func validateInitRequest(req *InitRequest) error {
	dbType := strings.ToLower(strings.TrimSpace(req.DatabaseType))
	if dbType == "" {
		dbType = "sqlite"
	}
	req.DatabaseType = dbType

	switch dbType {
	case "postgres":
		if strings.TrimSpace(req.DatabaseHost) == "" {
			return fmt.Errorf("database host is required")
		}
		if req.DatabasePort <= 0 {
			return fmt.Errorf("invalid database port")
		}
		if strings.TrimSpace(req.DatabaseUser) == "" {
			return fmt.Errorf("database username is required")
		}
		if strings.TrimSpace(req.DatabaseName) == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if strings.TrimSpace(req.DatabasePath) == "" {
			req.DatabasePath = defaultSQLitePath
		}
	default:
		return fmt.Errorf("unsupported database type")
	}
	req.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(req.UpstreamBaseURL), "/")
	if req.UpstreamBaseURL == "" {
		return fmt.Errorf("upstream base url is required")
	}
	if req.Port <= 0 || req.Port > 65535 {
		return fmt.Errorf("invalid port: %d", req.Port)
	}
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Port        int         `yaml:"port"`
	DatabaseDSN string      `yaml:"database-dsn"`
	JWT         jwtCfg      `yaml:"jwt"`
	Upstream    upstreamCfg `yaml:"upstream"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

// upstreamCfg holds upstream settings for the generated config file.
type upstreamCfg struct {
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key,omitempty"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() (string, error) {
	return security.GenerateRandomString(32)
}

// WriteConfigFile writes the initial config file to disk.
func WriteConfigFile(configPath string, dsn string, req InitRequest) error {
	secret, errSecret := generateJWTSecret()
	if errSecret != nil {
		return fmt.Errorf("generate jwt secret: %w", errSecret)
	}
	cfg := configFile{
		Port:        req.Port,
		DatabaseDSN: dsn,
		JWT: jwtCfg{
			Secret: secret,
			Expiry: "720h",
		},
		Upstream: upstreamCfg{
			BaseURL: req.UpstreamBaseURL,
			APIKey:  strings.TrimSpace(req.UpstreamAPIKey),
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}

// Initialize validates req, prepares the database and writes a config file at configPath.
func Initialize(configPath string, req InitRequest) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if errValidate := validateInitRequest(&req); errValidate != nil {
		return errValidate
	}
	dsn, errBuild := BuildDSN(req)
	if errBuild != nil {
		return errBuild
	}
	if errTest := TestDatabaseConnection(dsn); errTest != nil {
		return fmt.Errorf("database connection failed: %w", errTest)
	}
	if errMigrate := migrateDSN(dsn); errMigrate != nil {
		return errMigrate
	}
	if errWrite := WriteConfigFile(configPath, dsn, req); errWrite != nil {
		return errWrite
	}
	log.Infof("wrote config file %s", configPath)
	return nil
}

func migrateDSN(dsn string) error {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("open database: %w", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("migrate database: %w", errMigrate)
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}
	return nil
}
