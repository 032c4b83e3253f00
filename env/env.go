// Package env glues cobra flags, the process environment and .env files
// to the logger and telemetry setup of the CLI.
package env

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/roommate-match/go-client/logger"
	cstr "github.com/roommate-match/go-client/string"
	"github.com/roommate-match/go-client/telemetry"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []EnvLine{}, nil
		}
		return nil, errors.Wrapf(err, "error reading %s", filename)
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=value line, removing surrounding quotes and
// an optional export prefix.
func ProcessEnvLine(env string) EnvLine {
	env = strings.TrimPrefix(env, "export ")
	tok := strings.SplitN(env, "=", 2)
	if len(tok) < 2 {
		return EnvLine{Key: strings.TrimSpace(env)}
	}
	return EnvLine{Key: strings.TrimSpace(tok[0]), Val: dequote(strings.TrimSpace(tok[1]))}
}

// ParseEnvBuffer parses KEY=value lines. ${KEY} references resolve against
// earlier lines first, then the process environment.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	values := make(map[string]string)
	lookup := func(key string) (string, bool) {
		if v, ok := values[key]; ok {
			return v, true
		}
		return os.LookupEnv(key)
	}
	for i, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		val, err := cstr.Interpolate(env.Val, lookup)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", i+1)
		}
		env.Val = val
		values[env.Key] = val
		envs = append(envs, env)
	}
	return envs, nil
}

// LoadEnvFile exports the lines of filename that are not already set in the
// process environment and returns how many were exported.
func LoadEnvFile(filename string) (int, error) {
	envs, err := ParseEnvFile(filename)
	if err != nil {
		return 0, err
	}
	var count int
	for _, e := range envs {
		if _, ok := os.LookupEnv(e.Key); ok {
			continue
		}
		if err := os.Setenv(e.Key, e.Val); err != nil {
			return count, errors.Wrapf(err, "error setting %s", e.Key)
		}
		count++
	}
	return count, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel reads --log-level, then ROOMMATE_LOG_LEVEL, then def.
func LogLevel(cmd *cobra.Command, def string) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, def), logger.LevelInfo)
}

// NewLogger returns a console or JSON logger as selected by --log-format or
// ROOMMATE_LOG_FORMAT, at the level selected by LogLevel.
func NewLogger(cmd *cobra.Command, defaultLevel string, defaultFormat string) logger.Logger {
	level := LogLevel(cmd, defaultLevel)
	if FlagOrEnv(cmd, "log-format", "ROOMMATE_LOG_FORMAT", defaultFormat) == "json" {
		return logger.NewJSONLogger(level)
	}
	return logger.NewConsoleLogger(level)
}

// NewTelemetry returns the logger to use and a shutdown function. The cobra
// flags it expects are:
//
// --no-telemetry (boolean): if set, telemetry is disabled and the local logger is returned
//
// --otlp-url (string): the url of the otlp collector
//
// --otlp-token (string): the bearer token for the otlp collector
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string, local logger.Logger, defaultURL string, defaultToken string) (logger.Logger, telemetry.ShutdownFunc, error) {
	if disabled, err := cmd.Flags().GetBool("no-telemetry"); err == nil && disabled {
		return local, func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", "ROOMMATE_OTLP_URL", defaultURL)
	if otlpURL == "" {
		return nil, nil, errors.New("otlp-url or ROOMMATE_OTLP_URL are required and --no-telemetry was not set")
	}
	token := FlagOrEnv(cmd, "otlp-token", "ROOMMATE_OTLP_TOKEN", defaultToken)
	log, shutdown, err := telemetry.New(ctx, otlpURL, token, serviceName)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating telemetry")
	}
	return log.Stack(local), shutdown, nil
}
