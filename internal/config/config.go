package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses duration values
)

// GatewaySettings holds one payment gateway's merchant credentials.  Two
// gateways are configured: one hosting the credit checkout, one serving the
// classic QR/link purchase flow.
type GatewaySettings struct {
	BaseURL    string // gateway base URL
	MerchantID string // merchant identity field ("pid")
	Secret     string // shared signing secret
	NotifyURL  string // absolute notification callback URL
	ReturnURL  string // post-payment browser redirect
}

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Engine behavior toggles are read here once and
// injected into the engine as an explicit struct, never consulted from the
// environment at call sites.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to sign admin JWTs

	AccessTTLMin int // admin access token time-to-live in minutes
	BcryptCost   int // bcrypt cost for admin password hashing

	CreditGateway   GatewaySettings // gateway for credit orders
	PurchaseGateway GatewaySettings // gateway for purchase orders

	EnableActiveQuery     bool          // permit pull-based order reconciliation
	EnableServerRefund    bool          // permit gateway-side refunds
	QueryMinInterval      time.Duration // per-order active-query cooldown
	CommonPool            string        // shared fallback channel name
	FallbackWindowEndHour int           // yesterday-pool fallback cutoff hour (UTC)
	DailyOrderCap         int           // orders per UTC day; 0 disables
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		AccessTTLMin: mustInt("ACCESS_TOKEN_TTL_MIN"),
		BcryptCost:   mustInt("BCRYPT_COST"),

		CreditGateway: GatewaySettings{
			BaseURL:    must("CREDIT_GATEWAY_URL"),
			MerchantID: must("CREDIT_GATEWAY_PID"),
			Secret:     must("CREDIT_GATEWAY_KEY"),
			NotifyURL:  must("CREDIT_GATEWAY_NOTIFY_URL"),
			ReturnURL:  os.Getenv("CREDIT_GATEWAY_RETURN_URL"),
		},
		PurchaseGateway: GatewaySettings{
			BaseURL:    must("PURCHASE_GATEWAY_URL"),
			MerchantID: must("PURCHASE_GATEWAY_PID"),
			Secret:     must("PURCHASE_GATEWAY_KEY"),
			NotifyURL:  must("PURCHASE_GATEWAY_NOTIFY_URL"),
			ReturnURL:  os.Getenv("PURCHASE_GATEWAY_RETURN_URL"),
		},

		EnableActiveQuery:     envBool("ENABLE_ACTIVE_QUERY", true),
		EnableServerRefund:    envBool("ENABLE_SERVER_REFUND", false),
		QueryMinInterval:      envDur("QUERY_MIN_INTERVAL", 30*time.Second),
		CommonPool:            envStr("COMMON_POOL", "common"),
		FallbackWindowEndHour: envInt("FALLBACK_WINDOW_END_HOUR", 4),
		DailyOrderCap:         envInt("DAILY_ORDER_CAP", 0),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// Optional-variable helpers with defaults.
func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
