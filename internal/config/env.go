package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvEndpoint = "NCTALK_ENDPOINT"
	EnvUser     = "NCTALK_USER"
	EnvPassword = "NCTALK_PASSWORD"
	EnvLogLevel = "NCTALK_LOG_LEVEL"
)

var envKeys = []string{EnvEndpoint, EnvUser, EnvPassword, EnvLogLevel}

// Env holds overrides collected from dotenv files and the process
// environment. The process environment wins.
type Env map[string]string

// LoadEnv reads the given dotenv files, skipping missing ones, then layers
// the process environment on top.
func LoadEnv(files ...string) (Env, error) {
	env := Env{}
	for _, file := range files {
		values, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("read env file %s: %w", file, err)
		}
		for _, key := range envKeys {
			if v, ok := values[key]; ok {
				env[key] = v
			}
		}
	}
	for _, key := range envKeys {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	return env, nil
}

func (e Env) value(key string) string {
	return strings.TrimSpace(e[key])
}

// Apply overrides the server and logging settings present in e.
func (c *AppConfig) Apply(e Env) {
	if v := e.value(EnvEndpoint); v != "" {
		c.Server.Endpoint = strings.TrimRight(v, "/")
	}
	if v := e.value(EnvUser); v != "" {
		c.Server.User = v
	}
	if v := e.value(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Credentials are what the client needs to open a session.
type Credentials struct {
	Endpoint string
	User     string
	Password string
}

// Complete reports whether a session can be attempted without prompting.
func (c Credentials) Complete() bool {
	return c.Endpoint != "" && c.User != "" && c.Password != ""
}

func (c AppConfig) Credentials(e Env) Credentials {
	return Credentials{
		Endpoint: c.Server.Endpoint,
		User:     c.Server.User,
		Password: e[EnvPassword],
	}
}
