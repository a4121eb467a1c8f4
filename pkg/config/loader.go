package config

import (
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures a config Loader.
type LoaderOptions struct {
	// Path to the YAML config file.
	Path string

	// Watch reloads the config on file change (fsnotify via koanf's
	// file provider) and invokes OnChange with the new config.
	Watch bool

	OnChange func(*Config) error
}

// Loader loads and optionally watches the service configuration.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	parser   *yaml.YAML
	stopChan chan struct{}
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		parser:   yaml.Parser(),
		stopChan: make(chan struct{}),
	}, nil
}

func (l *Loader) Load() (*Config, error) {
	provider := file.Provider(l.options.Path)

	if err := l.koanf.Load(provider, l.parser); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Path, err)
	}

	cfg, err := l.unmarshalAndProcess()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

func (l *Loader) unmarshalAndProcess() (*Config, error) {
	// Expand env references before unmarshalling so secrets never
	// live in the file itself.
	for _, key := range l.koanf.Keys() {
		if s, ok := l.koanf.Get(key).(string); ok {
			if expanded := expandEnvVars(s); expanded != s {
				if err := l.koanf.Set(key, expanded); err != nil {
					return nil, fmt.Errorf("failed to expand %s: %w", key, err)
				}
			}
		}
	}

	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) watch(provider *file.File) {
	err := provider.Watch(func(event interface{}, err error) {
		select {
		case <-l.stopChan:
			return
		default:
		}

		if err != nil {
			slog.Warn("config watch error", "error", err)
			return
		}

		if err := l.koanf.Load(provider, l.parser); err != nil {
			slog.Warn("failed to reload config", "error", err)
			return
		}

		newCfg, err := l.unmarshalAndProcess()
		if err != nil {
			slog.Warn("reloaded config rejected", "error", err)
			return
		}

		if l.options.OnChange != nil {
			if err := l.options.OnChange(newCfg); err != nil {
				slog.Warn("config change callback failed", "error", err)
			} else {
				slog.Info("configuration reloaded", "path", l.options.Path)
			}
		}
	})
	if err != nil {
		slog.Warn("config watcher failed to start", "error", err)
	}
}

// Stop terminates the watch loop.
func (l *Loader) Stop() {
	close(l.stopChan)
}
