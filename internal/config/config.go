package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Chain    ChainConfig
	Twitter  TwitterConfig
	App      AppConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port        string
	FrontendURL string
}

// ChainConfig holds EVM chain settings
type ChainConfig struct {
	RPCURL            string
	ChainID           int64
	PrivateKey        string
	BTCFactoryAddress string
	CreationFeeWei    string
}

// TwitterConfig holds Twitter/X.com OAuth settings
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	AdminWallets []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	chainID, err := strconv.ParseInt(getEnv("CHAIN_ID", "84532"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CHAIN_ID: %w", err)
	}

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "opinion_market"),
		},
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		},
		Chain: ChainConfig{
			RPCURL:            getEnv("BASE_SEPOLIA_RPC_URL", "https://sepolia.base.org"),
			ChainID:           chainID,
			PrivateKey:        getEnv("PRIVATE_KEY", ""),
			BTCFactoryAddress: getEnv("BTC_FACTORY_ADDRESS", ""),
			CreationFeeWei:    getEnv("MARKET_CREATION_FEE_WEI", "100000000000000"),
		},
		Twitter: TwitterConfig{
			ClientID:     getEnv("TWITTER_CLIENT_ID", ""),
			ClientSecret: getEnv("TWITTER_CLIENT_SECRET", ""),
			CallbackURL:  getEnv("TWITTER_CALLBACK_URL", "http://localhost:8080/creators/auth/twitter/callback"),
		},
		App: AppConfig{
			AdminWallets: parseAdminWallets(getEnv("ADMIN_WALLETS", "0x54c99ac433af5f16cf1b2b82d93d1542eaa1fcba")),
		},
	}

	// Validate required fields
	if config.Chain.PrivateKey == "" {
		return nil, fmt.Errorf("PRIVATE_KEY is required")
	}

	return config, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// parseAdminWallets splits the comma-separated allow-list and lower-cases
// every entry so lookups are case-insensitive.
func parseAdminWallets(raw string) []string {
	var wallets []string
	for _, w := range strings.Split(raw, ",") {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			wallets = append(wallets, w)
		}
	}
	return wallets
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
