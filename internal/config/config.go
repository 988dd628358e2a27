package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/manthysbr/deep-research/internal/core/domain"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DEEPRESEARCH_"

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then .env files in the working directory, then environment overrides.
// Encrypted secrets are decrypted last.
func Load(path string) (*domain.AppConfig, error) {
	return LoadFrom(path, ".")
}

// LoadFrom is Load with an explicit directory for the .env files.
func LoadFrom(path, envDir string) (*domain.AppConfig, error) {
	cfg := domain.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := loadDotEnv(envDir); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := decryptSecrets(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decryptSecrets replaces "enc:" values. The key is only touched when one exists.
func decryptSecrets(cfg *domain.AppConfig) error {
	secrets := map[string]*string{
		"llm.api_key":          &cfg.LLM.APIKey,
		"search.brave_api_key": &cfg.Search.BraveAPIKey,
	}
	var sk *SecretKey
	for name, value := range secrets {
		if !IsEncrypted(*value) {
			continue
		}
		if sk == nil {
			var err error
			if sk, err = NewSecretKey(); err != nil {
				return err
			}
		}
		plain, err := sk.Decrypt(*value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*value = plain
	}
	return nil
}

// loadDotEnv loads .env (never overriding the real environment) and then
// .env.<APP_ENV>, which does override.
func loadDotEnv(dir string) error {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		return nil
	}
	envFile := filepath.Join(dir, ".env."+appEnv)
	if err := godotenv.Overload(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

func applyEnv(cfg *domain.AppConfig) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
			*dst = v
		}
	}
	str("ADDR", &cfg.Server.Addr)
	str("LLM_MODE", &cfg.LLM.Mode)
	str("LLM_LOCAL_URL", &cfg.LLM.LocalURL)
	str("LLM_REMOTE_URL", &cfg.LLM.RemoteURL)
	str("LLM_MODEL", &cfg.LLM.DefaultModel)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLM.APIKey = v
	}
	str("API_KEY", &cfg.LLM.APIKey)
	if v := strings.TrimSpace(os.Getenv("BRAVE_SEARCH_API_KEY")); v != "" {
		cfg.Search.BraveAPIKey = v
	}

	if v := strings.TrimSpace(os.Getenv(envPrefix + "ALLOWED_ORIGINS")); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	var errs []error
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(envPrefix + name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	if v := strings.TrimSpace(os.Getenv(envPrefix + "SEARCH_ENABLED")); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEARCH_ENABLED: %w", envPrefix, err))
		} else {
			cfg.Search.Enabled = on
		}
	}

	maxJobs := int(cfg.Jobs.MaxConcurrent)
	num("MAX_CONCURRENT_JOBS", &maxJobs)
	cfg.Jobs.MaxConcurrent = int64(maxJobs)
	num("QUEUE_DEPTH", &cfg.Jobs.QueueDepth)
	num("MAX_CONCURRENT_RESEARCHERS", &cfg.Supervisor.MaxConcurrentResearchers)
	dur("JOB_TIMEOUT", &cfg.Jobs.Timeout)
	dur("JOB_RETENTION", &cfg.Jobs.Retention)
	dur("SYNC_WAIT", &cfg.Server.SyncWait)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the services cannot run with.
func Validate(cfg *domain.AppConfig) error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Mode)) {
	case "", "local":
	case "remote":
		if strings.TrimSpace(cfg.LLM.RemoteURL) == "" {
			errs = append(errs, errors.New("llm.remote_url is required when mode=remote"))
		}
		if strings.TrimSpace(cfg.LLM.APIKey) == "" {
			errs = append(errs, errors.New("llm.api_key is required when mode=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.mode must be local or remote, got %q", cfg.LLM.Mode))
	}
	if cfg.Jobs.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("jobs.max_concurrent must be positive"))
	}
	if cfg.Jobs.QueueDepth <= 0 {
		errs = append(errs, errors.New("jobs.queue_depth must be positive"))
	}
	if cfg.Supervisor.MaxConcurrentResearchers <= 0 {
		errs = append(errs, errors.New("supervisor.max_concurrent_researchers must be positive"))
	}
	if cfg.Sessions.InboundCapacity <= 0 || cfg.Sessions.OutboundCapacity <= 0 {
		errs = append(errs, errors.New("sessions mailbox capacities must be positive"))
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format))
	}
	return errors.Join(errs...)
}
