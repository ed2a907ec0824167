package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/SorrisoLab/SmileFlow/internal/api"
	"github.com/SorrisoLab/SmileFlow/internal/evolution"
	"github.com/SorrisoLab/SmileFlow/internal/media"
	"github.com/SorrisoLab/SmileFlow/internal/simulation"
	"github.com/SorrisoLab/SmileFlow/internal/store"
	"github.com/SorrisoLab/SmileFlow/internal/tenant"
	"github.com/SorrisoLab/SmileFlow/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SmileFlow state data
	DefaultStateDir = "/var/lib/smileflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "smileflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	evoOpts := buildEvolutionOptions(flags)
	simOpts := buildSimulationOptions(flags)
	s3Opts := buildMediaOptions(config)
	tenantOpts := buildTenantOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping SmileFlow with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "evolution", len(evoOpts), "simulation", len(simOpts), "media", len(s3Opts), "api", len(apiOpts))
	if err := api.Run(storeOpts, evoOpts, simOpts, s3Opts, tenantOpts, apiOpts); err != nil {
		slog.Error("SmileFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SmileFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	StateDir          string
	APIAddr           string
	EvolutionURL      string
	EvolutionKey      string
	EvolutionInstance string
	SimulationURL     string
	SimulationKey     string
	DefaultClinicID   string
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKey       string
	S3SecretKey       string
	S3PathStyle       bool
	S3PublicURL       string
}

// Flags holds command line flag values
type Flags struct {
	stateDir          *string
	dbDSN             *string
	apiAddr           *string
	evolutionURL      *string
	evolutionKey      *string
	evolutionInstance *string
	simulationURL     *string
	simulationKey     *string
	defaultClinicID   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StateDir:          os.Getenv("SMILEFLOW_STATE_DIR"),
		APIAddr:           os.Getenv("API_ADDR"),
		EvolutionURL:      os.Getenv("EVOLUTION_API_URL"),
		EvolutionKey:      os.Getenv("EVOLUTION_API_KEY"),
		EvolutionInstance: os.Getenv("EVOLUTION_INSTANCE_NAME"),
		SimulationURL:     os.Getenv("SIMULATION_API_URL"),
		SimulationKey:     os.Getenv("SIMULATION_API_KEY"),
		DefaultClinicID:   os.Getenv("DEFAULT_CLINIC_ID"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Region:          os.Getenv("S3_REGION"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3PathStyle:       util.ParseBoolEnv("S3_PATH_STYLE", false),
		S3PublicURL:       os.Getenv("S3_PUBLIC_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SMILEFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"SMILEFLOW_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"EVOLUTION_API_URL_SET", config.EvolutionURL != "",
		"EVOLUTION_API_KEY_SET", config.EvolutionKey != "",
		"EVOLUTION_INSTANCE_NAME", config.EvolutionInstance,
		"SIMULATION_API_URL_SET", config.SimulationURL != "",
		"S3_BUCKET_SET", config.S3Bucket != "",
		"DEFAULT_CLINIC_ID_SET", config.DefaultClinicID != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:          flag.String("state-dir", config.StateDir, "state directory for SmileFlow data (overrides $SMILEFLOW_STATE_DIR)"),
		dbDSN:             flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:           flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		evolutionURL:      flag.String("evolution-url", config.EvolutionURL, "Evolution API base URL (overrides $EVOLUTION_API_URL)"),
		evolutionKey:      flag.String("evolution-key", config.EvolutionKey, "Evolution API key (overrides $EVOLUTION_API_KEY)"),
		evolutionInstance: flag.String("evolution-instance", config.EvolutionInstance, "Evolution instance name (overrides $EVOLUTION_INSTANCE_NAME)"),
		simulationURL:     flag.String("simulation-url", config.SimulationURL, "simulation service base URL (overrides $SIMULATION_API_URL)"),
		simulationKey:     flag.String("simulation-key", config.SimulationKey, "simulation service API key (overrides $SIMULATION_API_KEY)"),
		defaultClinicID:   flag.String("default-clinic", config.DefaultClinicID, "clinic id for unmapped gateway instances (overrides $DEFAULT_CLINIC_ID)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"evolutionURL_set", *flags.evolutionURL != "",
		"evolutionInstance", *flags.evolutionInstance,
		"simulationURL_set", *flags.simulationURL != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildEvolutionOptions constructs gateway client configuration options
func buildEvolutionOptions(flags Flags) []evolution.Option {
	var evoOpts []evolution.Option
	if *flags.evolutionURL != "" {
		evoOpts = append(evoOpts, evolution.WithBaseURL(*flags.evolutionURL))
	}
	if *flags.evolutionKey != "" {
		evoOpts = append(evoOpts, evolution.WithAPIKey(*flags.evolutionKey))
	}
	if *flags.evolutionInstance != "" {
		evoOpts = append(evoOpts, evolution.WithInstance(*flags.evolutionInstance))
	}
	return evoOpts
}

// buildSimulationOptions constructs simulation client configuration options
func buildSimulationOptions(flags Flags) []simulation.Option {
	var simOpts []simulation.Option
	if *flags.simulationURL != "" {
		simOpts = append(simOpts, simulation.WithBaseURL(*flags.simulationURL))
	}
	if *flags.simulationKey != "" {
		simOpts = append(simOpts, simulation.WithAPIKey(*flags.simulationKey))
	}
	return simOpts
}

// buildMediaOptions constructs S3 storage configuration options
func buildMediaOptions(config Config) []media.S3Option {
	var s3Opts []media.S3Option
	if config.S3Bucket != "" {
		s3Opts = append(s3Opts, media.WithS3Bucket(config.S3Bucket))
	}
	if config.S3Region != "" {
		s3Opts = append(s3Opts, media.WithS3Region(config.S3Region))
	}
	if config.S3Endpoint != "" {
		s3Opts = append(s3Opts, media.WithS3Endpoint(config.S3Endpoint))
	}
	if config.S3AccessKey != "" || config.S3SecretKey != "" {
		s3Opts = append(s3Opts, media.WithS3Credentials(config.S3AccessKey, config.S3SecretKey))
	}
	if config.S3PathStyle {
		s3Opts = append(s3Opts, media.WithS3PathStyle(true))
	}
	if config.S3PublicURL != "" {
		s3Opts = append(s3Opts, media.WithS3PublicURL(config.S3PublicURL))
	}
	return s3Opts
}

// buildTenantOptions constructs clinic resolver configuration options
func buildTenantOptions(flags Flags) []tenant.Option {
	var tenantOpts []tenant.Option
	if *flags.defaultClinicID != "" {
		tenantOpts = append(tenantOpts, tenant.WithDefaultClinicID(*flags.defaultClinicID))
	}
	return tenantOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
