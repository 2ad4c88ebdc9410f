package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/zaebee/aura/internal/logger"
)

// EnvPrefix is prepended to every recognized environment variable.
const EnvPrefix = "AURA_"

// Database holds primary-store settings.
type Database struct {
	URL             string // SQLite path or DSN
	VectorDimension int    // embedding width for stored items
}

// LLM selects and tunes the reasoning strategy.
type LLM struct {
	Model               string  // "rule", "dspy", or a provider-qualified model id
	Temperature         float64 // sampling temperature (0..1)
	CompiledProgramPath string  // compiled reasoner artifact (selftuned)
	APIKey              string
	BaseURL             string // OpenAI-compatible endpoint
	EmbeddingModel      string
}

// Crypto configures the payment-lock feature.
type Crypto struct {
	Enabled             bool
	Provider            string // "solana"
	Currency            string // "SOL" or "USDC"
	SolanaPrivateKey    string
	SolanaRPCURL        string
	SolanaNetwork       string
	SolanaUSDCMint      string
	DealTTLSeconds      int
	SecretEncryptionKey string // base64 32-byte Fernet key
	SolUSDRate          float64
}

// Logic holds the membrane guardrail knobs.
type Logic struct {
	MinMargin          float64
	MaxDiscountPercent float64
	AllowedAddons      []string
	TriggerPrice       float64
}

// Server binds the two processes and their observability endpoints.
type Server struct {
	Port              int    // core RPC port
	GatewayPort       int    // public HTTP port
	CoreAddr          string // gateway -> core base URL
	GRPCMaxWorkers    int    // concurrent RPC budget
	OtelServiceName   string
	OtelExporterAddr  string
	PrometheusURL     string
	NATSURL           string
	HealthTimeoutSecs int
}

// Security holds the inbound signature settings.
type Security struct {
	TimestampToleranceSeconds int
}

// Config is the full application configuration, wired once at startup and
// passed explicitly; no package-level settings singleton.
type Config struct {
	Database Database
	LLM      LLM
	Crypto   Crypto
	Logic    Logic
	Server   Server
	Security Security
}

// Load reads a .env file if present, then the process environment, and
// returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("CONFIG", "No .env file found, using system environment")
	}

	cfg := &Config{
		Database: Database{
			URL:             envStr("DATABASE_URL", "aura.db"),
			VectorDimension: envInt("DATABASE_VECTOR_DIMENSION", 1024),
		},
		LLM: LLM{
			Model:               envStr("LLM_MODEL", "rule"),
			Temperature:         envFloat("LLM_TEMPERATURE", 0.7),
			CompiledProgramPath: envStr("LLM_COMPILED_PROGRAM_PATH", "aura_brain.json"),
			APIKey:              envStr("LLM_API_KEY", ""),
			BaseURL:             envStr("LLM_BASE_URL", "https://api.openai.com/v1"),
			EmbeddingModel:      envStr("LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Crypto: Crypto{
			Enabled:             envBool("CRYPTO_ENABLED", false),
			Provider:            envStr("CRYPTO_PROVIDER", "solana"),
			Currency:            envStr("CRYPTO_CURRENCY", "SOL"),
			SolanaPrivateKey:    envStr("CRYPTO_SOLANA_PRIVATE_KEY", ""),
			SolanaRPCURL:        envStr("CRYPTO_SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			SolanaNetwork:       envStr("CRYPTO_SOLANA_NETWORK", "mainnet-beta"),
			SolanaUSDCMint:      envStr("CRYPTO_SOLANA_USDC_MINT", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
			DealTTLSeconds:      envInt("CRYPTO_DEAL_TTL_SECONDS", 3600),
			SecretEncryptionKey: envStr("CRYPTO_SECRET_ENCRYPTION_KEY", ""),
			SolUSDRate:          envFloat("CRYPTO_SOL_USD_RATE", 100.0),
		},
		Logic: Logic{
			MinMargin:          envFloat("LOGIC_MIN_MARGIN", 0.10),
			MaxDiscountPercent: envFloat("LOGIC_MAX_DISCOUNT_PERCENT", 0.30),
			AllowedAddons:      envList("LOGIC_ALLOWED_ADDONS", []string{"breakfast", "late checkout", "parking"}),
			TriggerPrice:       envFloat("LOGIC_TRIGGER_PRICE", 1000.0),
		},
		Server: Server{
			Port:              envInt("SERVER_PORT", 50051),
			GatewayPort:       envInt("SERVER_GATEWAY_PORT", 8000),
			CoreAddr:          envStr("SERVER_CORE_ADDR", "http://localhost:50051"),
			GRPCMaxWorkers:    envInt("SERVER_GRPC_MAX_WORKERS", 10),
			OtelServiceName:   envStr("SERVER_OTEL_SERVICE_NAME", "aura-core"),
			OtelExporterAddr:  envStr("SERVER_OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			PrometheusURL:     envStr("SERVER_PROMETHEUS_URL", "http://localhost:9090"),
			NATSURL:           envStr("SERVER_NATS_URL", ""),
			HealthTimeoutSecs: envInt("SERVER_HEALTH_TIMEOUT_SECONDS", 2),
		},
		Security: Security{
			TimestampToleranceSeconds: envInt("SECURITY_TIMESTAMP_TOLERANCE_SECONDS", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Crypto.Enabled {
		var missing []string
		if c.Crypto.SolanaPrivateKey == "" {
			missing = append(missing, EnvPrefix+"CRYPTO_SOLANA_PRIVATE_KEY")
		}
		if c.Crypto.SecretEncryptionKey == "" {
			missing = append(missing, EnvPrefix+"CRYPTO_SECRET_ENCRYPTION_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("crypto enabled but missing required variables: %s", strings.Join(missing, ", "))
		}
	}
	if c.Logic.MinMargin < 0 || c.Logic.MinMargin >= 1 {
		logger.Warn("CONFIG", fmt.Sprintf("min_margin %.2f out of [0,1), falling back to 0.10", c.Logic.MinMargin))
		c.Logic.MinMargin = 0.10
	}
	if c.Logic.MaxDiscountPercent < 0 || c.Logic.MaxDiscountPercent >= 1 {
		c.Logic.MaxDiscountPercent = 0.30
	}
	if c.Crypto.DealTTLSeconds <= 0 {
		c.Crypto.DealTTLSeconds = 3600
	}
	if c.Server.GRPCMaxWorkers <= 0 {
		c.Server.GRPCMaxWorkers = 10
	}
	if c.Security.TimestampToleranceSeconds <= 0 {
		c.Security.TimestampToleranceSeconds = 60
	}
	return nil
}

// Mask returns a value safe for startup logs: secrets keep only their last
// four characters.
func Mask(val string) string {
	if len(val) <= 4 {
		return "***"
	}
	return "***" + val[len(val)-4:]
}

func envStr(key, def string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("CONFIG", fmt.Sprintf("%s%s=%q is not an integer, using %d", EnvPrefix, key, v, def))
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("CONFIG", fmt.Sprintf("%s%s=%q is not a number, using %g", EnvPrefix, key, v, def))
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(EnvPrefix + key))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envList(key string, def []string) []string {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
