// Package config loads tasksync configuration from YAML and validates it
// against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/view"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full configuration of the tasksync CLI.
type Config struct {
	// Locale is the BCP 47 language used to collate list names.
	Locale string `yaml:"locale" json:"locale"`
	// View holds the default dashboard controls.
	View view.Params `yaml:"view" json:"view"`
	// Database is the SQLite path.
	Database string `yaml:"database" json:"database"`
	// Snapshot is the default snapshot name.
	Snapshot string `yaml:"snapshot" json:"snapshot"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	// CascadeListDelete removes a deleted list's tasks locally.
	CascadeListDelete bool `yaml:"cascade_list_delete" json:"cascade_list_delete"`
	ViewCacheSize     int  `yaml:"view_cache_size" json:"view_cache_size"`
	// ActorID is the identity mutations are issued as. Empty means none.
	ActorID string `yaml:"actor_id" json:"actor_id"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Locale:        "en",
		View:          view.DefaultParams(),
		Database:      "tasksync.db",
		Snapshot:      "main",
		LogLevel:      "info",
		ViewCacheSize: view.DefaultCacheSize,
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, model.NewValidationError("", "", "decode config: %v", err)
	}
	cfg.View = cfg.View.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	if _, err := language.Parse(c.Locale); err != nil {
		return model.NewValidationError("", "", "locale %q: %v", c.Locale, err)
	}
	return nil
}

// Language returns the collation language. Validate guarantees it parses.
func (c Config) Language() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

// SlogLevel maps LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// formatCUEError flattens CUE's error list into one validation error, one
// line per violated path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return model.NewValidationError("", "", "%v", err)
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := strings.Join(e.Path(), "."); path != "" {
			msg = path + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return &model.Error{
		Code:    model.ErrCodeValidation,
		Message: "invalid config: " + strings.Join(msgs, "; "),
		Err:     err,
	}
}
