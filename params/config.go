package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type API struct {
	Addr           string
	AllowedOrigins []string
	VerifyOrders   bool // require EIP-712 trader signatures on POST /orders
}

type Settlement struct {
	RPCURL  string // default endpoint handed to Submit
	Method  string
	Timeout time.Duration
	ChainID *big.Int
	// RetryInterval paces redelivery of journaled failures. Zero disables it.
	RetryInterval time.Duration
	// OperatorKey signs settlement reports when set. Hex, no 0x needed.
	OperatorKey  string
	KafkaBrokers []string
	KafkaTopic   string
}

type Gossip struct {
	Listen    string // empty disables gossip
	Bootstrap []string
}

type Node struct {
	DataDir  string // empty keeps the journal in memory
	LogFile  string
	LogLevel string
	Markets  []common.Address
}

type Config struct {
	API        API
	Settlement Settlement
	Gossip     Gossip
	Node       Node
}

func Default() Config {
	return Config{
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Settlement: Settlement{
			RPCURL:     "http://localhost:3000",
			Method:     "exchange_settle",
			Timeout:    5 * time.Second,
			ChainID:    big.NewInt(1337),
			KafkaTopic: "clob.settlement",

			RetryInterval: 30 * time.Second,
		},
		Node: Node{
			DataDir:  "data/journal",
			LogFile:  "data/node.log",
			LogLevel: "info",
			Markets:  []common.Address{{}},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
// Malformed values are reported rather than replaced by defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := splitList(os.Getenv("API_ALLOWED_ORIGINS")); len(v) > 0 {
		cfg.API.AllowedOrigins = v
	}
	if v := os.Getenv("API_VERIFY_ORDERS"); v != "" {
		cfg.API.VerifyOrders = v == "true"
	}

	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Node.DataDir = v
	}
	if v := splitList(os.Getenv("MARKETS")); len(v) > 0 {
		markets := make([]common.Address, 0, len(v))
		var bad []string
		for _, s := range v {
			if !common.IsHexAddress(s) {
				bad = append(bad, s)
				continue
			}
			markets = append(markets, common.HexToAddress(s))
		}
		if len(bad) > 0 {
			return cfg, fmt.Errorf("invalid MARKETS entries: %s", strings.Join(bad, ", "))
		}
		cfg.Node.Markets = markets
	}

	cfg.Settlement.RPCURL = getEnv("SETTLEMENT_RPC_URL", cfg.Settlement.RPCURL)
	cfg.Settlement.Method = getEnv("SETTLEMENT_RPC_METHOD", cfg.Settlement.Method)
	var err error
	if cfg.Settlement.Timeout, err = getMillis("SETTLEMENT_TIMEOUT_MS", cfg.Settlement.Timeout); err != nil {
		return cfg, err
	}
	if v := os.Getenv("SETTLEMENT_CHAIN_ID"); v != "" {
		id, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return cfg, fmt.Errorf("invalid SETTLEMENT_CHAIN_ID %q", v)
		}
		cfg.Settlement.ChainID = id
	}
	if cfg.Settlement.RetryInterval, err = getMillis("SETTLEMENT_RETRY_MS", cfg.Settlement.RetryInterval); err != nil {
		return cfg, err
	}
	cfg.Settlement.OperatorKey = getEnv("OPERATOR_KEY", cfg.Settlement.OperatorKey)
	if v := splitList(os.Getenv("KAFKA_BROKERS")); len(v) > 0 {
		cfg.Settlement.KafkaBrokers = v
	}
	cfg.Settlement.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Settlement.KafkaTopic)

	cfg.Gossip.Listen = getEnv("GOSSIP_LISTEN", cfg.Gossip.Listen)
	if v := splitList(os.Getenv("GOSSIP_BOOTSTRAP")); len(v) > 0 {
		cfg.Gossip.Bootstrap = v
	}

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getMillis reads a non-negative millisecond count.
func getMillis(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return def, fmt.Errorf("invalid %s %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
