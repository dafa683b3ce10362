package deploy

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Orcapt/orca-cli/pkg/errx"
)

// Defaults applied to unset resource limits.
const (
	DefaultMemoryMB       = 512
	DefaultTimeoutSeconds = 60
)

// Config describes one function deployment.
type Config struct {
	FunctionName   string
	Image          string
	MemoryMB       int
	TimeoutSeconds int
	Environment    map[string]string
}

// Validate checks the fields that must be present before anything is
// contacted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.FunctionName) == "" {
		return errx.NewFromSentinel(ErrFunctionNameRequired, "function name is required")
	}
	if strings.TrimSpace(c.Image) == "" {
		return errx.NewFromSentinel(ErrImageRequired, "--image is required")
	}
	if c.MemoryMB < 0 {
		return errx.NewFromSentinel(ErrInvalidLimits, fmt.Sprintf("memory must be positive, got %d", c.MemoryMB))
	}
	if c.TimeoutSeconds < 0 {
		return errx.NewFromSentinel(ErrInvalidLimits, fmt.Sprintf("timeout must be positive, got %d", c.TimeoutSeconds))
	}
	return nil
}

func (c Config) withDefaults(memoryMB, timeoutSeconds int) Config {
	if c.MemoryMB == 0 {
		c.MemoryMB = memoryMB
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = timeoutSeconds
	}
	if c.Environment == nil {
		c.Environment = map[string]string{}
	}
	return c
}

// LoadEnvironment merges variables from envFile with inline KEY=VALUE
// entries. Inline entries win on collision. envFile may be empty.
func LoadEnvironment(envFile string, inline []string) (map[string]string, error) {
	env := make(map[string]string)
	if envFile != "" {
		// #nosec G304 -- path supplied by the user on the command line.
		f, err := os.Open(envFile)
		if err != nil {
			return nil, errx.WrapSentinelWithContext(ErrEnvFile, err,
				fmt.Sprintf("failed to open env file: %v", err),
				map[string]any{"env_file": envFile})
		}
		defer f.Close()
		parsed, err := godotenv.Parse(f)
		if err != nil {
			return nil, errx.WrapSentinelWithContext(ErrEnvFile, err,
				fmt.Sprintf("failed to parse env file %s: %v", envFile, err),
				map[string]any{"env_file": envFile})
		}
		for k, v := range parsed {
			env[k] = v
		}
	}
	for _, entry := range inline {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errx.NewFromSentinel(ErrInvalidEnv,
				fmt.Sprintf("invalid environment entry %q, expected KEY=VALUE", entry))
		}
		env[key] = value
	}
	return env, nil
}
