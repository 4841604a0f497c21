package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/arraniry/storepay/internal/logger"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProduction
	defaultTripayBaseURL = "https://tripay.co.id/api-sandbox"
	defaultPollInterval  = 5
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the storepay service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret key
	// Admin tokens are signed with symmetric encryption, so this key is used for that purpose
	SecretKey string

	// Bcrypt hash of the admin password, generate one with cmd/genhash
	AdminPasswordHash string

	// Tripay merchant credentials
	TripayAPIKey       string
	TripayPrivateKey   string
	TripayMerchantCode string
	TripayBaseURL      string

	// Where the gateway redirects the customer after payment
	ReturnURL string

	// Background reconciliation interval in minutes
	PollIntervalMinutes int

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:            defaultLoggingLevel,
		ListenAddr:          defaultListenAddr,
		Environment:         defaultEnvironment,
		TripayBaseURL:       defaultTripayBaseURL,
		PollIntervalMinutes: defaultPollInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		c.LoadEnv(func(key string) string {
			return envMap[key]
		})
		return nil
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) {
		return func(value string) {
			if value != "" {
				*o = value
			}
		}
	}
	setInt := func(o *int) func(value string) {
		return func(value string) {
			if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
				*o = parsed
			}
		}
	}

	envMap := map[string]func(string){
		"RUN_ADDRESS":           setString(&c.ListenAddr),
		"DATABASE_URI":          setString(&c.DatabaseDSN),
		"SECRET_KEY":            setString(&c.SecretKey),
		"ADMIN_PASSWORD_HASH":   setString(&c.AdminPasswordHash),
		"LOG_LEVEL":             setString(&c.LogLevel),
		"ENVIRONMENT":           setString(&c.Environment),
		"TRIPAY_API_KEY":        setString(&c.TripayAPIKey),
		"TRIPAY_PRIVATE_KEY":    setString(&c.TripayPrivateKey),
		"TRIPAY_MERCHANT_CODE":  setString(&c.TripayMerchantCode),
		"TRIPAY_BASE_URL":       setString(&c.TripayBaseURL),
		"RETURN_URL":            setString(&c.ReturnURL),
		"POLL_INTERVAL_MINUTES": setInt(&c.PollIntervalMinutes),
	}

	for key, parseFn := range envMap {
		parseFn(getenv(key))
	}
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("storepay", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVar(&c.AdminPasswordHash, "admin-password-hash", c.AdminPasswordHash, "Bcrypt hash of the admin password")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVar(&c.TripayBaseURL, "tripay-url", c.TripayBaseURL, "Tripay API base URL")
	fs.IntVar(&c.PollIntervalMinutes, "poll-interval", c.PollIntervalMinutes, "Pending payment poll interval, minutes")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}
