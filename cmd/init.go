package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
)

const envPrefix = "LIFELOG_"

// flags whose value lives under a config section
var flagKeys = map[string]string{
	"interval":    "pipeline.interval",
	"parallelism": "pipeline.parallelism",
	"listen":      "server.listen",
	"log-level":   "log.level",
	"pretty":      "log.pretty",
	"log-file":    "log.file",
}

func newFlagSet(output io.Writer) *flag.FlagSet {
	f := flag.NewFlagSet("lifelog", flag.ContinueOnError)
	f.SetOutput(output)

	f.StringSlice("config", []string{"lifelog.yaml"}, "path to one or more config files (will be merged in order)")
	f.StringSlice("source", nil, "run only the named sources")
	f.Bool("once", false, "run every source a single time then exit")
	f.Duration("interval", defaultInterval, "time between runs when not running --once")
	f.Int("parallelism", 1, "sinks written to at the same time")
	f.Bool("dry-run", false, "emit records but never save checkpoints")
	f.String("listen", "", "address of the status server, e.g. :8080 (disabled when empty)")
	f.String("log-level", "info", "log level")
	f.Bool("pretty", false, "human readable log output")
	f.String("log-file", "", "also write logs to this file")
	f.Bool("version", false, "show current version of the build")
	return f
}

// loadConfig layers config files, then LIFELOG_ environment variables,
// then explicitly set flags. Double underscores in variable names separate
// sections: LIFELOG_CHECKPOINT__BACKEND=badger sets checkpoint.backend.
func loadConfig(ko *koanf.Koanf, f *flag.FlagSet, args []string) error {
	if err := f.Parse(args); err != nil {
		return err
	}
	if v, _ := f.GetBool("version"); v {
		return nil
	}

	configs, _ := f.GetStringSlice("config")
	for _, path := range configs {
		parser, err := parserFor(path)
		if err != nil {
			return err
		}
		if err := ko.Load(file.Provider(path), parser); err != nil {
			return fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	if err := ko.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}

	if err := ko.Load(posflag.ProviderWithFlag(f, ".", ko, flagKey(f)), nil); err != nil {
		return fmt.Errorf("error reading flag config: %w", err)
	}
	return nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s", path)
	}
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

func flagKey(fs *flag.FlagSet) func(*flag.Flag) (string, interface{}) {
	return func(f *flag.Flag) (string, interface{}) {
		key := f.Name
		if mapped, ok := flagKeys[key]; ok {
			key = mapped
		}
		return key, posflag.FlagVal(fs, f)
	}
}
