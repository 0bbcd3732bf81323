package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	DBPath  string // Pebble database directory
	LogFile string // structured log output ("" = console only)
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Protocol struct {
	// ModuleAddress identifies the limit-order handler module inside
	// commitment keys. Orders placed under different module addresses
	// never collide.
	ModuleAddress common.Address

	// VaultAddress is the protocol custody account escrow is held under.
	VaultAddress common.Address

	// ExecFeeBps caps the execution fee an agent may claim from proceeds,
	// in basis points. 0 disables the cap.
	ExecFeeBps int64
}

type Config struct {
	Node     Node
	API      API
	Protocol Protocol
}

func Default() Config {
	return Config{
		Node: Node{
			DBPath:  "data/orders",
			LogFile: "data/node.log",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Protocol: Protocol{
			ModuleAddress: common.HexToAddress("0x037fc8e71445910e1E0bBb2a0896d5e9A7485318"),
			VaultAddress:  common.HexToAddress("0x36049D479A97CdE1fC6E2a5D2caE30B666Ebf92B"),
			ExecFeeBps:    0,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("MODULE_ADDRESS"); common.IsHexAddress(v) {
		cfg.Protocol.ModuleAddress = common.HexToAddress(v)
	}
	if v := os.Getenv("VAULT_ADDRESS"); common.IsHexAddress(v) {
		cfg.Protocol.VaultAddress = common.HexToAddress(v)
	}
	if v := os.Getenv("EXEC_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil && bps >= 0 {
			cfg.Protocol.ExecFeeBps = bps
		}
	}

	return cfg
}
