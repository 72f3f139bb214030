// Package config loads the challengeserver's environment.
package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/synnergy-labs/challenge-gate/pkg/utils"
)

// ServerConfig is the challengeserver's environment.
type ServerConfig struct {
	Port         string
	VerifySecret string
	KVURL        string
	RiskDebug    bool
	ManifestPath string
	WASMPath     string
	ASNTablePath string
}

// AppConfig holds the configuration loaded via Load.
var AppConfig ServerConfig

// Load reads challengeserver/.env (if present) then the process
// environment, validating the required CHALLENGE_VERIFY_SECRET.
func Load() error {
	_ = godotenv.Load("challengeserver/.env")
	viper.AutomaticEnv()

	port := utils.EnvOrDefault("CHALLENGE_PORT", "8082")
	secret := os.Getenv("CHALLENGE_VERIFY_SECRET")
	if len(secret) < 32 {
		return utils.Wrap(errMinSecretLength, "config")
	}

	AppConfig = ServerConfig{
		Port:         port,
		VerifySecret: secret,
		KVURL:        utils.EnvOrDefault("KV_URL", "redis://localhost:6379"),
		RiskDebug:    os.Getenv("RISK_DEBUG") == "1",
		ManifestPath: utils.EnvOrDefault("CHALLENGE_MANIFEST_PATH", "bytecodes.json"),
		WASMPath:     utils.EnvOrDefault("CHALLENGE_WASM_PATH", "challenge.wasm"),
		ASNTablePath: utils.EnvOrDefault("CHALLENGE_ASN_TABLE_PATH", "asn_scores.yaml"),
	}
	return nil
}

var errMinSecretLength = errors.New("CHALLENGE_VERIFY_SECRET must be set and at least 32 characters")
