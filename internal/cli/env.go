package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvLoader loads .env files with a predictable override order.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
	}
}

// Load resolves and loads environment variables. CURATION_ENV_FILE wins over
// the flag; a missing file is reported but callers treat that as a warning.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	if custom := strings.TrimSpace(os.Getenv("CURATION_ENV_FILE")); custom != "" {
		if err := godotenv.Overload(custom); err == nil {
			return custom, nil
		}
		log.Printf("Warning: failed to load CURATION_ENV_FILE=%s", custom)
	}

	requested := strings.TrimSpace(derefString(l.value))
	if requested == "" {
		requested = l.defaultPath
	}
	if _, err := os.Stat(requested); err != nil {
		if requested == l.defaultPath {
			// No .env next to the binary is the normal case.
			return "", nil
		}
		return "", fmt.Errorf("env file %s: %w", requested, err)
	}

	if err := godotenv.Overload(requested); err != nil {
		base := filepath.Base(requested)
		if base != "" && base != requested {
			if fallbackErr := godotenv.Overload(base); fallbackErr == nil {
				return base, nil
			}
		}
		return "", fmt.Errorf("failed to load env file from %s: %w", requested, err)
	}
	return requested, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
