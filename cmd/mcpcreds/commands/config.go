package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/mcpcreds/internal/app"
)

// envPrefix marks configuration variables. A double underscore descends into a
// section: MCPCREDS_TRUST__INHERITANCE=ancestor sets trust.inheritance.
const envPrefix = "MCPCREDS_"

// flagKeys maps every configuration flag to its koanf key. Flags missing here,
// such as --show-secrets, only steer a single command.
var flagKeys = map[string]string{
	"log-level":    "log_level",
	"log-format":   "log_format",
	"log-exporter": "log_exporter",

	"storage--service":      "storage.service",
	"storage--file":         "storage.file",
	"storage--force-file":   "storage.force_file",
	"storage--json-refresh": "storage.json_refresh",

	"trust--enabled":        "trust.enabled",
	"trust--file":           "trust.file",
	"trust--inheritance":    "trust.inheritance",
	"trust--relaunch-delay": "trust.relaunch_delay",

	"companion--host":   "companion.host",
	"companion--port":   "companion.port",
	"shutdown--timeout": "shutdown.timeout",
}

// loadConfig layers the sources in increasing precedence: the TOML file at
// configPath, MCPCREDS_ environment variables, then flags set on cmd. Unset
// fields receive defaults and the result is validated.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: envKey,
		EnvironFunc:   environFunc,
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(extractAndTransformFlags(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	cfg := &app.Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey turns MCPCREDS_STORAGE__FORCE_FILE into storage.force_file.
func envKey(key, value string) (string, any) {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ToLower(strings.ReplaceAll(key, "__", ".")), value
}

// extractAndTransformFlags collects the configuration flags explicitly set on cmd
// or its parents, keyed for koanf. Defaults are left out so they cannot shadow
// the file or the environment.
func extractAndTransformFlags(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		key, ok := flagKeys[name]
		if !ok || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[key] = value
		}
	}
	return values
}
