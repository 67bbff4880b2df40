package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvAPIKey     = "ROBLOX_API_KEY"
	EnvUniverseID = "ROBLOX_UNIVERSE_ID"
	EnvPlaceID    = "ROBLOX_PLACE_ID"
)

var ErrMissingEnv = errors.New("missing environment variable")

// Credentials identify the caller and the target place. Read once at startup and passed explicitly.
type Credentials struct {
	APIKey     string `validate:"required"`
	UniverseID string `validate:"required,numeric"`
	PlaceID    string `validate:"required,numeric"`
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv reads KEY=VALUE pairs from a dotenv file. A missing file yields an empty map.
func LoadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		path = ".env"
	}
	envs, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("cannot parse env file %q: %w", path, err)
	}
	return envs, nil
}

// Lookup resolves keys from the process environment first, then from fallback.
func Lookup(fallback map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fallback[key]
		return v, ok
	}
}

// LoadCredentials reads the API key, universe id and place id. Every missing variable is named in the error.
func LoadCredentials(lookup LookupFunc) (Credentials, error) {
	var missing []string
	get := func(key string) string {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}
	creds := Credentials{
		APIKey:     get(EnvAPIKey),
		UniverseID: get(EnvUniverseID),
		PlaceID:    get(EnvPlaceID),
	}
	if len(missing) > 0 {
		return Credentials{}, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	if err := Validate(creds); err != nil {
		return Credentials{}, fmt.Errorf("invalid credentials: %w", err)
	}
	return creds, nil
}
