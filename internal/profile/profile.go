package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Version is the current release of the dealsense server.
const Version = "0.1.0"

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where dealsense stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// RegistryURL is the seller discovery registry endpoint.
	RegistryURL string

	// Decision engine configuration.
	DecisionAPIKey  string // DEALSENSE_DECISION_API_KEY
	DecisionBaseURL string // DEALSENSE_DECISION_BASE_URL (default: https://api.openai.com/v1)
	DecisionModel   string // DEALSENSE_DECISION_MODEL (default: gpt-4o-mini)

	// Negotiation tuning.
	MaxRounds     int           // DEALSENSE_MAX_ROUNDS (default: 5)
	RoundDelay    time.Duration // DEALSENSE_ROUND_DELAY (default: 2s)
	MaxConcurrent int64         // DEALSENSE_MAX_CONCURRENT (default: 8)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsDecisionEnabled returns true if the reasoning backend is configured.
// Without it the orchestrator still runs, degrading to safe-default decisions.
func (p *Profile) IsDecisionEnabled() bool {
	return p.DecisionAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from DEALSENSE_* environment variables.
func (p *Profile) FromEnv() {
	getIntEnv := func(key string, defaultValue int) int {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				return n
			}
		}
		return defaultValue
	}
	getDurationEnv := func(key string, defaultValue time.Duration) time.Duration {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				return d
			}
		}
		return defaultValue
	}

	p.RegistryURL = getEnvOrDefault("DEALSENSE_REGISTRY_URL", "http://localhost:8765")
	p.DecisionAPIKey = os.Getenv("DEALSENSE_DECISION_API_KEY")
	p.DecisionBaseURL = getEnvOrDefault("DEALSENSE_DECISION_BASE_URL", "https://api.openai.com/v1")
	p.DecisionModel = getEnvOrDefault("DEALSENSE_DECISION_MODEL", "gpt-4o-mini")
	p.MaxRounds = getIntEnv("DEALSENSE_MAX_ROUNDS", 5)
	p.RoundDelay = getDurationEnv("DEALSENSE_ROUND_DELAY", 2*time.Second)
	p.MaxConcurrent = int64(getIntEnv("DEALSENSE_MAX_CONCURRENT", 8))
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		p.Driver = "sqlite"
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("dealsense_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("DSN is required for the postgres driver")
	}

	if p.MaxRounds <= 0 {
		p.MaxRounds = 5
	}
	if p.RoundDelay < 0 {
		p.RoundDelay = 0
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 8
	}

	return nil
}
