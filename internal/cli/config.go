package cli

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/internal/deploy"
	"github.com/Orcapt/orca-cli/internal/platform"
	"github.com/Orcapt/orca-cli/internal/registry"
)

const (
	defaultAPIURL           = "https://api.orcapt.com"
	defaultAPITimeout       = 30 * time.Second
	defaultDockerBinary     = "docker"
	defaultLoginAttempts    = 3
	defaultLoginTimeout     = 60 * time.Second
	defaultPushStallTimeout = 10 * time.Minute
)

// Version is reported in the User-Agent of API requests. Set by main.
var Version = "dev"

// CLIConfig holds settings read once from the environment at startup.
type CLIConfig struct {
	APIURL                string
	APITimeout            time.Duration
	DockerBinary          string
	LoginAttempts         int
	LoginTimeout          time.Duration
	PushStallTimeout      time.Duration
	DefaultMemoryMB       int
	DefaultTimeoutSeconds int
	CredentialsFile       string
}

// LoadCLIConfig reads ORCA_* environment variables. Unset or invalid values
// fall back to defaults.
func LoadCLIConfig() CLIConfig {
	return CLIConfig{
		APIURL:                strings.TrimSuffix(envString("ORCA_API_URL", defaultAPIURL), "/"),
		APITimeout:            envDuration("ORCA_API_TIMEOUT", defaultAPITimeout),
		DockerBinary:          envString("ORCA_DOCKER_BIN", defaultDockerBinary),
		LoginAttempts:         envPositiveInt("ORCA_LOGIN_ATTEMPTS", defaultLoginAttempts),
		LoginTimeout:          envDuration("ORCA_LOGIN_TIMEOUT", defaultLoginTimeout),
		PushStallTimeout:      envDuration("ORCA_PUSH_STALL_TIMEOUT", defaultPushStallTimeout),
		DefaultMemoryMB:       envPositiveInt("ORCA_DEFAULT_MEMORY_MB", deploy.DefaultMemoryMB),
		DefaultTimeoutSeconds: envPositiveInt("ORCA_DEFAULT_TIMEOUT_SECONDS", deploy.DefaultTimeoutSeconds),
		CredentialsFile:       envString("ORCA_CREDENTIALS_FILE", credentials.DefaultPath()),
	}
}

// PlatformConfig returns the API client settings.
func (c CLIConfig) PlatformConfig() platform.Config {
	return platform.Config{
		BaseURL:   c.APIURL,
		Timeout:   c.APITimeout,
		UserAgent: "orca-cli/" + Version,
	}
}

// RegistryOptions returns the docker settings for publishing.
func (c CLIConfig) RegistryOptions() registry.Options {
	opts := registry.DefaultOptions()
	opts.Binary = c.DockerBinary
	opts.LoginAttempts = c.LoginAttempts
	opts.LoginTimeout = c.LoginTimeout
	opts.StallTimeout = c.PushStallTimeout
	return opts
}

// DeployOptions returns the deployment defaults.
func (c CLIConfig) DeployOptions() deploy.Options {
	return deploy.Options{
		DeployPath:            platform.PathDeploy,
		ConfirmPath:           platform.PathDeployConfirm,
		DefaultMemoryMB:       c.DefaultMemoryMB,
		DefaultTimeoutSeconds: c.DefaultTimeoutSeconds,
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envPositiveInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
