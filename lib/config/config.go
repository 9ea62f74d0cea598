// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/dedupvault/lib/chunker"
	"github.com/bureau-foundation/dedupvault/lib/chunkseal"
	"github.com/bureau-foundation/dedupvault/lib/coldindex"
	"github.com/bureau-foundation/dedupvault/lib/dedup"
	"github.com/bureau-foundation/dedupvault/lib/recipe"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// ByteSize is a size in bytes. In configuration files it is written
// either as a plain integer or with binary units ("4MiB", "16k").
type ByteSize int64

// UnmarshalYAML accepts integers and human-readable sizes.
func (s *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	if value, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*s = ByteSize(value)
		return nil
	}
	value, err := units.RAMInBytes(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = ByteSize(value)
	return nil
}

// MarshalYAML writes the size with binary units.
func (s ByteSize) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s ByteSize) String() string {
	return units.BytesSize(float64(s))
}

// Int returns the size as an int.
func (s ByteSize) Int() int { return int(s) }

// Config is the configuration shared by dedupd and the dedup client.
type Config struct {
	Environment Environment `yaml:"environment"`

	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Index    IndexConfig    `yaml:"index"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Transfer TransferConfig `yaml:"transfer"`
	Restore  RestoreConfig  `yaml:"restore"`
	Keys     KeysConfig     `yaml:"keys"`
	Log      LogConfig      `yaml:"log"`
	Client   ClientConfig   `yaml:"client"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds the fields an environment section may change.
type ConfigOverrides struct {
	Storage *StorageOverrides `yaml:"storage,omitempty"`
	Log     *LogConfig        `yaml:"log,omitempty"`
}

// StorageOverrides mirrors StorageConfig with optional fields so that
// an override can turn sync_writes off as well as on.
type StorageOverrides struct {
	Root       string `yaml:"root,omitempty"`
	SyncWrites *bool  `yaml:"sync_writes,omitempty"`
}

// ServerConfig configures where dedupd listens and how long it waits
// on clients.
type ServerConfig struct {
	// Network is "unix" or "tcp".
	Network string `yaml:"network"`

	// Address is a socket path for "unix" or host:port for "tcp".
	Address string `yaml:"address"`

	MaxPayload   ByteSize      `yaml:"max_payload"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig configures the on-disk layout.
type StorageConfig struct {
	// Root holds containers/, recipes/, state/ and the cold index.
	Root string `yaml:"root"`

	MaxContainerSize ByteSize `yaml:"max_container_size"`

	// SyncWrites fsyncs containers, recipes and index writes.
	SyncWrites bool `yaml:"sync_writes"`

	ReadParallelism int `yaml:"read_parallelism"`

	// Compression is none, lz4, zstd or auto.
	Compression string `yaml:"compression"`
}

// IndexConfig configures deduplication lookups.
type IndexConfig struct {
	// Mode is "frequency" (sketch and top-K in front of the cold
	// index) or "baseline" (cold index only).
	Mode string `yaml:"mode"`

	// Backend names the cold index store.
	Backend string `yaml:"backend"`

	SketchWidth int `yaml:"sketch_width"`
	SketchDepth int `yaml:"sketch_depth"`
	TopK        int `yaml:"top_k"`

	// RecipeForm is "address" or "fingerprint".
	RecipeForm string `yaml:"recipe_form"`

	// PersistState saves the sketch and top-K on shutdown and
	// reloads them on start.
	PersistState bool `yaml:"persist_state"`
}

// ChunkingConfig configures client-side chunking.
type ChunkingConfig struct {
	Method      string   `yaml:"method"`
	MinSize     ByteSize `yaml:"min_size"`
	AverageSize ByteSize `yaml:"average_size"`
	MaxSize     ByteSize `yaml:"max_size"`
}

// TransferConfig sets batch sizes on both ends of the wire.
type TransferConfig struct {
	ChunkBatchSize  int `yaml:"chunk_batch_size"`
	RecipeBatchSize int `yaml:"recipe_batch_size"`
}

// RestoreConfig configures container prefetching during restore.
type RestoreConfig struct {
	ContainerCapping int `yaml:"container_capping"`
	CacheContainers  int `yaml:"cache_containers"`
}

// KeysConfig locates key material. Secrets are never inline.
type KeysConfig struct {
	// MasterSecretFile holds the hex-encoded master secret.
	MasterSecretFile string `yaml:"master_secret_file"`

	// StateRecipients are age public keys; when set, persisted index
	// state is encrypted to them.
	StateRecipients []string `yaml:"state_recipients"`

	// StateIdentityFile holds the age private key that decrypts
	// persisted index state.
	StateIdentityFile string `yaml:"state_identity_file"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

// ClientConfig configures the dedup client.
type ClientConfig struct {
	ID uint32 `yaml:"id"`

	// QueueDepth bounds chunks buffered ahead of the sender.
	QueueDepth int `yaml:"queue_depth"`

	IOTimeout time.Duration `yaml:"io_timeout"`
}

// Default returns the default configuration. Paths are rooted at
// ${DEDUPVAULT_ROOT}, which defaults to ~/.local/share/dedupvault.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Network:      "unix",
			Address:      "${DEDUPVAULT_ROOT}/dedupd.sock",
			MaxPayload:   8 << 20,
			ReadTimeout:  2 * time.Minute,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Root:             "${DEDUPVAULT_ROOT}",
			MaxContainerSize: dedup.DefaultMaxContainerSize,
			ReadParallelism:  8,
			Compression:      "lz4",
		},
		Index: IndexConfig{
			Mode:         string(dedup.ModeFrequency),
			Backend:      string(coldindex.BackendSQLite),
			SketchWidth:  dedup.DefaultSketchWidth,
			SketchDepth:  dedup.DefaultSketchDepth,
			TopK:         dedup.DefaultTopK,
			RecipeForm:   "address",
			PersistState: true,
		},
		Chunking: ChunkingConfig{
			Method:      string(chunker.MethodCDC),
			MinSize:     chunker.DefaultMinSize,
			AverageSize: chunker.DefaultAverageSize,
			MaxSize:     chunker.DefaultMaxSize,
		},
		Transfer: TransferConfig{
			ChunkBatchSize:  128,
			RecipeBatchSize: recipe.DefaultBatchSize,
		},
		Restore: RestoreConfig{
			ContainerCapping: 16,
			CacheContainers:  dedup.DefaultCacheContainers,
		},
		Keys: KeysConfig{
			MasterSecretFile: "${DEDUPVAULT_ROOT}/master.key",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Client: ClientConfig{
			ID:         1,
			QueueDepth: 1024,
			IOTimeout:  2 * time.Minute,
		},
	}
}

// Load loads the file named by DEDUPVAULT_CONFIG, or returns the
// defaults (with environment overrides) when it is unset.
func Load() (*Config, error) {
	path := os.Getenv("DEDUPVAULT_CONFIG")
	if path == "" {
		cfg := Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of the defaults.
// Files ending in .json or .jsonc may carry comments and trailing
// commas.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	c.applyEnvironmentOverrides()
	if err := c.applyEnvironmentVariables(); err != nil {
		return err
	}
	c.expandVariables()
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one decoder serves both.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
// Production without an explicit section syncs every write.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			sync := true
			overrides = &ConfigOverrides{Storage: &StorageOverrides{SyncWrites: &sync}}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Storage != nil {
		if overrides.Storage.Root != "" {
			c.Storage.Root = overrides.Storage.Root
		}
		if overrides.Storage.SyncWrites != nil {
			c.Storage.SyncWrites = *overrides.Storage.SyncWrites
		}
	}
	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
	}
}

// environmentVariables lists the DEDUPVAULT_* variables that override
// file values.
var environmentVariables = []struct {
	name  string
	apply func(c *Config, value string) error
}{
	{"DEDUPVAULT_ROOT", func(c *Config, value string) error { c.Storage.Root = value; return nil }},
	{"DEDUPVAULT_ADDRESS", func(c *Config, value string) error { c.Server.Address = value; return nil }},
	{"DEDUPVAULT_NETWORK", func(c *Config, value string) error { c.Server.Network = value; return nil }},
	{"DEDUPVAULT_MASTER_SECRET_FILE", func(c *Config, value string) error { c.Keys.MasterSecretFile = value; return nil }},
	{"DEDUPVAULT_LOG_LEVEL", func(c *Config, value string) error { c.Log.Level = value; return nil }},
	{"DEDUPVAULT_INDEX_BACKEND", func(c *Config, value string) error { c.Index.Backend = value; return nil }},
	{"DEDUPVAULT_CLIENT_ID", func(c *Config, value string) error {
		id, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.Client.ID = uint32(id)
		return nil
	}},
}

func (c *Config) applyEnvironmentVariables() error {
	var errs []error
	for _, variable := range environmentVariables {
		value, ok := os.LookupEnv(variable.name)
		if !ok || value == "" {
			continue
		}
		if err := variable.apply(c, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", variable.name, err))
		}
	}
	return errors.Join(errs...)
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	vars := map[string]string{
		"HOME":            homeDir,
		"DEDUPVAULT_ROOT": filepath.Join(homeDir, ".local", "share", "dedupvault"),
	}

	c.Storage.Root = expandVars(c.Storage.Root, vars)
	vars["DEDUPVAULT_ROOT"] = c.Storage.Root

	if c.Server.Network == "unix" {
		c.Server.Address = expandVars(c.Server.Address, vars)
	}
	c.Keys.MasterSecretFile = expandVars(c.Keys.MasterSecretFile, vars)
	c.Keys.StateIdentityFile = expandVars(c.Keys.StateIdentityFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, consulting vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value := os.Getenv(name); value != "" {
			return value
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Environment {
	case Development, Staging, Production:
	default:
		add("invalid environment: %s", c.Environment)
	}

	if c.Server.Network != "unix" && c.Server.Network != "tcp" {
		add("server.network must be unix or tcp, got %q", c.Server.Network)
	}
	if c.Server.Address == "" {
		add("server.address is required")
	}
	if c.Server.MaxPayload <= 0 {
		add("server.max_payload must be positive")
	}

	if c.Storage.Root == "" {
		add("storage.root is required")
	}
	if c.Storage.MaxContainerSize < c.Chunking.MaxSize {
		add("storage.max_container_size (%s) is smaller than chunking.max_size (%s)", c.Storage.MaxContainerSize, c.Chunking.MaxSize)
	}
	if _, err := chunkseal.ParseCompression(c.Storage.Compression); err != nil {
		add("storage.compression: %v", err)
	}

	if _, err := dedup.ParseMode(c.Index.Mode); err != nil {
		add("index.mode: %v", err)
	}
	if !isBackend(c.Index.Backend) {
		add("index.backend must be one of %v, got %q", coldindex.Backends, c.Index.Backend)
	}
	if c.Index.SketchWidth <= 0 || c.Index.SketchDepth <= 0 || c.Index.TopK <= 0 {
		add("index.sketch_width, index.sketch_depth and index.top_k must be positive")
	}
	if _, err := recipe.ParseEntryKind(c.Index.RecipeForm); err != nil {
		add("index.recipe_form: %v", err)
	}

	chunking := c.ChunkerConfig()
	if err := chunking.Validate(); err != nil {
		add("chunking: %v", err)
	} else if chunking.Limit() > c.Chunking.MaxSize.Int() {
		add("chunking.average_size (%s) exceeds chunking.max_size (%s)", c.Chunking.AverageSize, c.Chunking.MaxSize)
	}
	if c.Server.MaxPayload > 0 && c.Chunking.MaxSize+4 > c.Server.MaxPayload {
		add("chunking.max_size (%s) does not fit server.max_payload (%s)", c.Chunking.MaxSize, c.Server.MaxPayload)
	}
	if c.Transfer.ChunkBatchSize <= 0 || c.Transfer.RecipeBatchSize <= 0 {
		add("transfer batch sizes must be positive")
	}
	if c.Transfer.RecipeBatchSize > recipe.MaxBatchSize {
		add("transfer.recipe_batch_size (%d) exceeds the maximum of %d", c.Transfer.RecipeBatchSize, recipe.MaxBatchSize)
	}
	if c.Restore.ContainerCapping <= 0 || c.Restore.CacheContainers <= 0 {
		add("restore.container_capping and restore.cache_containers must be positive")
	}
	if len(c.Keys.StateRecipients) > 0 && c.Keys.StateIdentityFile == "" {
		add("keys.state_identity_file is required when keys.state_recipients is set")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be json or text, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

func isBackend(name string) bool {
	for _, backend := range coldindex.Backends {
		if string(backend) == name {
			return true
		}
	}
	return false
}

// ChunkerConfig converts the chunking section.
func (c *Config) ChunkerConfig() chunker.Config {
	return chunker.Config{
		Method:      chunker.Method(c.Chunking.Method),
		MinSize:     c.Chunking.MinSize.Int(),
		AverageSize: c.Chunking.AverageSize.Int(),
		MaxSize:     c.Chunking.MaxSize.Int(),
	}
}

// EnsurePaths creates the storage root.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Storage.Root, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Storage.Root, err)
	}
	return nil
}
