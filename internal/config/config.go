// Package config loads the hubstore configuration file.
//
// A config file is YAML. Before decoding, the document is checked against
// the embedded CUE #Config definition, so unknown keys, wrong types and
// out-of-range values fail with the CUE error text. Decoded values are
// layered over Default().
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hubstore/internal/protocol"
)

//go:embed schema.cue
var schemaSource string

// PruneLimits is the per-class message limit for one storage unit.
type PruneLimits struct {
	Casts          uint32 `yaml:"casts"`
	Links          uint32 `yaml:"links"`
	Reactions      uint32 `yaml:"reactions"`
	UserData       uint32 `yaml:"user_data"`
	Verifications  uint32 `yaml:"verifications"`
	UsernameProofs uint32 `yaml:"username_proofs"`
}

// Config is the node configuration.
type Config struct {
	DBPath              string      `yaml:"db_path"`
	TrieDBPath          string      `yaml:"trie_db_path"`
	LogLevel            string      `yaml:"log_level"`
	MergeLocks          int         `yaml:"merge_locks"`
	CacheScanLocks      int         `yaml:"cache_scan_locks"`
	StorageCacheSize    int         `yaml:"storage_cache_size"`
	TrieUnloadThreshold int         `yaml:"trie_unload_threshold"`
	StorageUnits        uint32      `yaml:"storage_units"`
	EventEpochMs        int64       `yaml:"event_epoch_ms"`
	PruneLimits         PruneLimits `yaml:"prune_limits"`
}

// Default returns the configuration used when no file overrides a field.
func Default() Config {
	return Config{
		DBPath:              "hubstore.db",
		LogLevel:            "info",
		MergeLocks:          4,
		CacheScanLocks:      5,
		StorageCacheSize:    100_000,
		TrieUnloadThreshold: 10_000,
		StorageUnits:        1,
		EventEpochMs:        protocol.FarcasterEpoch,
		PruneLimits: PruneLimits{
			Casts:          5000,
			Links:          2500,
			Reactions:      2500,
			UserData:       50,
			Verifications:  25,
			UsernameProofs: 5,
		},
	}
}

// Load reads and validates the file at path.
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

// Parse validates a YAML document and decodes it over Default().
func Parse(data []byte) (Config, error) {
	if err := Validate(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks a YAML document against the #Config schema.
func Validate(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to info.
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

// PruneLimitFor returns the per-unit limit of a store by its class name.
func (c Config) PruneLimitFor(class string) (uint32, bool) {
	switch class {
	case "cast":
		return c.PruneLimits.Casts, true
	case "link":
		return c.PruneLimits.Links, true
	case "reaction":
		return c.PruneLimits.Reactions, true
	case "user_data":
		return c.PruneLimits.UserData, true
	case "verification":
		return c.PruneLimits.Verifications, true
	case "username_proof":
		return c.PruneLimits.UsernameProofs, true
	}
	return 0, false
}

// TriePath returns the database holding trie nodes.
func (c Config) TriePath() string {
	if c.TrieDBPath != "" {
		return c.TrieDBPath
	}
	return c.DBPath
}
