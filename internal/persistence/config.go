package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/handleui/caliper/internal/policy"
)

// --- File paths ---

const (
	caliperDirName   = ".caliper"
	globalConfigFile = "caliper.json"

	// CaliperHomeEnv overrides ~/.caliper for testing.
	CaliperHomeEnv = "CALIPER_HOME"
)

// cachedCaliperDir stores the computed caliper directory to avoid
// repeated os.UserHomeDir calls.
var (
	cachedCaliperDir   string
	cachedCaliperDirMu sync.RWMutex
)

// --- Structs ---

// GlobalConfig is the user's global settings (~/.caliper/caliper.json).
// This is the raw structure that gets persisted to disk.
type GlobalConfig struct {
	TrustedOwners     []string       `json:"trusted_owners,omitempty"`
	TrustedActions    []string       `json:"trusted_actions,omitempty"`
	ForbiddenActions  []string       `json:"forbidden_actions,omitempty"`
	KnownSecrets      []string       `json:"known_secrets,omitempty"`
	RequiredPipelines []string       `json:"required_pipelines,omitempty"`
	MatrixLimit       *int           `json:"matrix_limit,omitempty"`
	FailOn            string         `json:"fail_on,omitempty"`
	Weights           *WeightsConfig `json:"weights,omitempty"`
}

// WeightsConfig is the on-disk shape of the score weights.
type WeightsConfig struct {
	Syntax      int `json:"syntax"`
	ActionRefs  int `json:"action_refs"`
	SecretRefs  int `json:"secret_refs"`
	Performance int `json:"performance"`
	Security    int `json:"security"`
}

// Config is the merged, resolved config used by the application.
// Values are resolved from: env var > global config > defaults.
type Config struct {
	TrustedOwners     []string
	TrustedActions    []string
	ForbiddenActions  []string
	Secrets           []string
	RequiredPipelines []string
	MatrixLimit       int
	FailOn            string
	Weights           policy.ScoreWeights

	// Internal reference for mutation
	global *GlobalConfig
}

// --- Defaults ---

const (
	// DefaultFailOn is the severity at or above which analyze exits
	// non-zero.
	DefaultFailOn = "high"

	minMatrixLimit = 2
	maxMatrixLimit = 1000
)

// --- Value Source Tracking ---

// ValueSource indicates where a configuration value originated.
type ValueSource int

// Value sources indicate where configuration values originated.
const (
	SourceDefault ValueSource = iota // SourceDefault indicates the value is a hardcoded default.
	SourceGlobal                     // SourceGlobal indicates the value comes from ~/.caliper/caliper.json.
	SourceEnv                        // SourceEnv indicates the value comes from an environment variable.
)

// String returns the display name for a value source.
func (s ValueSource) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceGlobal:
		return "global"
	case SourceEnv:
		return "env"
	}
	return "unknown"
}

// ConfigValue holds a resolved value with its source.
type ConfigValue[T any] struct {
	Value  T
	Source ValueSource
}

// ConfigWithSources provides resolved values with source information.
// Used by the config command to show where each value came from.
type ConfigWithSources struct {
	TrustedOwners  ConfigValue[[]string]
	TrustedActions ConfigValue[[]string]
	KnownSecrets   ConfigValue[[]string]
	MatrixLimit    ConfigValue[int]
	FailOn         ConfigValue[string]
	Weights        ConfigValue[policy.ScoreWeights]

	// Internal reference for saving
	Global *GlobalConfig
}

// --- Path helpers ---

// GetCaliperDir returns the global caliper directory path (~/.caliper).
// If CALIPER_HOME is set, uses that instead (for testing).
// Results are cached to avoid repeated os.UserHomeDir calls.
// This function is safe for concurrent use.
func GetCaliperDir() (string, error) {
	// CALIPER_HOME override always checked (allows dynamic test changes)
	if override := os.Getenv(CaliperHomeEnv); override != "" {
		return filepath.Clean(override), nil
	}

	cachedCaliperDirMu.RLock()
	cached := cachedCaliperDir
	cachedCaliperDirMu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	cachedCaliperDirMu.Lock()
	defer cachedCaliperDirMu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have set it)
	if cachedCaliperDir != "" {
		return cachedCaliperDir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	cachedCaliperDir = filepath.Join(home, caliperDirName)
	return cachedCaliperDir, nil
}

// GetConfigPath returns the path to the global config file.
func GetConfigPath() (string, error) {
	dir, err := GetCaliperDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, globalConfigFile), nil
}

// --- Loading ---

// Load loads the global config, returning the resolved Config.
func Load() (*Config, error) {
	global, err := loadGlobal()
	if err != nil {
		return nil, fmt.Errorf("global config: %w", err)
	}

	return merge(global), nil
}

// LoadWithSources loads config and tracks the source of each value.
// Used by the config command to display where values originated.
func LoadWithSources() (*ConfigWithSources, error) {
	global, err := loadGlobal()
	if err != nil {
		return nil, fmt.Errorf("global config: %w", err)
	}

	return mergeInternal(global), nil
}

// mergeInternal combines global config with defaults, tracking value
// sources. This is the single implementation behind Load and
// LoadWithSources.
func mergeInternal(global *GlobalConfig) *ConfigWithSources {
	c := &ConfigWithSources{
		TrustedOwners:  ConfigValue[[]string]{Value: policy.DefaultTrustedOwners(), Source: SourceDefault},
		TrustedActions: ConfigValue[[]string]{Value: nil, Source: SourceDefault},
		KnownSecrets:   ConfigValue[[]string]{Value: nil, Source: SourceDefault},
		MatrixLimit:    ConfigValue[int]{Value: policy.DefaultMaxMatrixProduct, Source: SourceDefault},
		FailOn:         ConfigValue[string]{Value: DefaultFailOn, Source: SourceDefault},
		Weights:        ConfigValue[policy.ScoreWeights]{Value: policy.DefaultWeights(), Source: SourceDefault},
		Global:         global,
	}

	// Apply global config
	if global != nil {
		if len(global.TrustedOwners) > 0 {
			c.TrustedOwners = ConfigValue[[]string]{Value: global.TrustedOwners, Source: SourceGlobal}
		}
		if len(global.TrustedActions) > 0 {
			c.TrustedActions = ConfigValue[[]string]{Value: global.TrustedActions, Source: SourceGlobal}
		}
		if len(global.KnownSecrets) > 0 {
			c.KnownSecrets = ConfigValue[[]string]{Value: global.KnownSecrets, Source: SourceGlobal}
		}
		if global.MatrixLimit != nil {
			c.MatrixLimit = ConfigValue[int]{Value: clampMatrixLimit(*global.MatrixLimit), Source: SourceGlobal}
		}
		if global.FailOn != "" {
			if validFailOn(global.FailOn) {
				c.FailOn = ConfigValue[string]{Value: global.FailOn, Source: SourceGlobal}
			} else {
				fmt.Fprintf(os.Stderr, "warning: ignoring invalid fail_on %q (must be high, medium or low)\n", global.FailOn)
			}
		}
		if global.Weights != nil {
			weights := policy.ScoreWeights{
				Syntax:      global.Weights.Syntax,
				ActionRefs:  global.Weights.ActionRefs,
				SecretRefs:  global.Weights.SecretRefs,
				Performance: global.Weights.Performance,
				Security:    global.Weights.Security,
			}
			if err := weights.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: ignoring configured weights: %v\n", err)
			} else {
				c.Weights = ConfigValue[policy.ScoreWeights]{Value: weights, Source: SourceGlobal}
			}
		}
	}

	// Environment overrides
	if envOwners := os.Getenv("CALIPER_TRUSTED_OWNERS"); envOwners != "" {
		c.TrustedOwners = ConfigValue[[]string]{Value: splitList(envOwners), Source: SourceEnv}
	}
	if envFailOn := os.Getenv("CALIPER_FAIL_ON"); envFailOn != "" {
		if validFailOn(envFailOn) {
			c.FailOn = ConfigValue[string]{Value: envFailOn, Source: SourceEnv}
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring invalid CALIPER_FAIL_ON %q\n", envFailOn)
		}
	}

	return c
}

// loadGlobal loads the global config from ~/.caliper/caliper.json.
func loadGlobal() (*GlobalConfig, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	// #nosec G304 - path is derived from user's home directory
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading: %w", err)
	}

	if len(data) == 0 {
		return &GlobalConfig{}, nil
	}

	var cfg GlobalConfig
	if unmarshalErr := json.Unmarshal(data, &cfg); unmarshalErr != nil {
		return nil, fmt.Errorf("parsing: %w", unmarshalErr)
	}

	return &cfg, nil
}

// merge combines global config with defaults.
func merge(global *GlobalConfig) *Config {
	src := mergeInternal(global)
	return &Config{
		TrustedOwners:     src.TrustedOwners.Value,
		TrustedActions:    src.TrustedActions.Value,
		ForbiddenActions:  globalForbidden(global),
		Secrets:           src.KnownSecrets.Value,
		RequiredPipelines: globalRequired(global),
		MatrixLimit:       src.MatrixLimit.Value,
		FailOn:            src.FailOn.Value,
		Weights:           src.Weights.Value,
		global:            global,
	}
}

func globalForbidden(global *GlobalConfig) []string {
	if global == nil {
		return nil
	}
	return global.ForbiddenActions
}

func globalRequired(global *GlobalConfig) []string {
	if global == nil {
		return nil
	}
	return global.RequiredPipelines
}

// --- Validation helpers ---

func validFailOn(value string) bool {
	switch value {
	case "high", "medium", "low":
		return true
	}
	return false
}

func clampMatrixLimit(value int) int {
	if value < minMatrixLimit {
		return minMatrixLimit
	}
	if value > maxMatrixLimit {
		return maxMatrixLimit
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// --- Saving ---

// saveGlobalConfig persists GlobalConfig to disk. The file is written to
// a temp path and renamed so a crash never leaves a half-written config.
func saveGlobalConfig(global *GlobalConfig) error {
	dir, err := GetCaliperDir()
	if err != nil {
		return err
	}

	// #nosec G301 - 0700 is intentionally restrictive
	if mkdirErr := os.MkdirAll(dir, 0o700); mkdirErr != nil {
		return fmt.Errorf("creating config directory: %w", mkdirErr)
	}

	data, marshalErr := json.MarshalIndent(global, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshaling: %w", marshalErr)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, globalConfigFile)
	tmp, err := os.CreateTemp(dir, globalConfigFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing config: %w", err)
	}

	return nil
}

// SaveGlobal persists the global config to disk.
func (c *Config) SaveGlobal() error {
	if c.global == nil {
		c.global = &GlobalConfig{}
	}
	return saveGlobalConfig(c.global)
}

// SaveGlobalFromSources saves the global config from a ConfigWithSources
// struct.
func SaveGlobalFromSources(cfg *ConfigWithSources) error {
	if cfg.Global == nil {
		cfg.Global = &GlobalConfig{}
	}
	return saveGlobalConfig(cfg.Global)
}

// --- Policy construction ---

// Policy builds the read-only analysis policy from the resolved config.
func (c *Config) Policy() *policy.Policy {
	p := &policy.Policy{
		KnownSecrets:      c.Secrets,
		Trust:             policy.NewTrustRegistry(c.TrustedOwners, c.TrustedActions),
		RequiredPipelines: c.RequiredPipelines,
		ForbiddenActions:  c.ForbiddenActions,
		MaxMatrixProduct:  c.MatrixLimit,
		Weights:           c.Weights,
	}
	return p.Normalized()
}

// KnownSecrets returns the configured secret names.
func (c *Config) KnownSecrets() ([]string, error) {
	return c.Secrets, nil
}

// Policies returns the analysis policy built from this config.
func (c *Config) Policies() (*policy.Policy, error) {
	return c.Policy(), nil
}

var _ policy.Provider = (*Config)(nil)

// --- Trust registry management ---

// ValidateTrustEntry checks that a trust entry is a plausible owner name
// or owner/repo slug. Returns an error describing why the entry is
// invalid.
func ValidateTrustEntry(entry string) error {
	if entry == "" {
		return fmt.Errorf("entry cannot be empty")
	}
	if strings.ContainsAny(entry, " \t\n") {
		return fmt.Errorf("entry contains whitespace")
	}
	if strings.Count(entry, "/") > 1 {
		return fmt.Errorf("entry must be an owner or an owner/repo slug")
	}
	if strings.HasPrefix(entry, "/") || strings.HasSuffix(entry, "/") {
		return fmt.Errorf("entry has an empty owner or repo component")
	}
	return nil
}

// AddTrusted adds an owner or owner/repo slug to the trust registry and
// saves. Adding an existing entry is a no-op.
func (c *Config) AddTrusted(entry string) error {
	if err := ValidateTrustEntry(entry); err != nil {
		return fmt.Errorf("invalid trust entry: %w", err)
	}

	if c.global == nil {
		c.global = &GlobalConfig{}
	}

	lower := strings.ToLower(entry)
	if strings.Contains(entry, "/") {
		for _, existing := range c.global.TrustedActions {
			if strings.ToLower(existing) == lower {
				return nil
			}
		}
		c.global.TrustedActions = append(c.global.TrustedActions, entry)
		c.TrustedActions = c.global.TrustedActions
	} else {
		for _, existing := range c.trustedOwnersOnDisk() {
			if strings.ToLower(existing) == lower {
				return nil
			}
		}
		c.global.TrustedOwners = append(c.trustedOwnersOnDisk(), entry)
		c.TrustedOwners = c.global.TrustedOwners
	}
	return c.SaveGlobal()
}

// RemoveTrusted removes an owner or owner/repo slug from the trust
// registry and saves. Removing a default owner materializes the remaining
// defaults into the global config so the removal persists. Removing a
// missing entry is a no-op.
func (c *Config) RemoveTrusted(entry string) error {
	if c.global == nil {
		c.global = &GlobalConfig{}
	}

	lower := strings.ToLower(entry)
	if strings.Contains(entry, "/") {
		for i, existing := range c.global.TrustedActions {
			if strings.ToLower(existing) == lower {
				c.global.TrustedActions = append(c.global.TrustedActions[:i], c.global.TrustedActions[i+1:]...)
				c.TrustedActions = c.global.TrustedActions
				return c.SaveGlobal()
			}
		}
		return nil
	}

	owners := c.trustedOwnersOnDisk()
	for i, existing := range owners {
		if strings.ToLower(existing) == lower {
			c.global.TrustedOwners = append(owners[:i], owners[i+1:]...)
			c.TrustedOwners = c.global.TrustedOwners
			return c.SaveGlobal()
		}
	}
	return nil
}

// TrustedEntries returns all configured trust entries (owners first, then
// slugs), each sorted.
func (c *Config) TrustedEntries() []string {
	owners := make([]string, len(c.TrustedOwners))
	copy(owners, c.TrustedOwners)
	sort.Strings(owners)

	slugs := make([]string, len(c.TrustedActions))
	copy(slugs, c.TrustedActions)
	sort.Strings(slugs)

	return append(owners, slugs...)
}

// trustedOwnersOnDisk returns the owners stored in the global config.
// When the global file has none, the defaults are materialized so that a
// remove of a default owner persists.
func (c *Config) trustedOwnersOnDisk() []string {
	if c.global != nil && len(c.global.TrustedOwners) > 0 {
		return c.global.TrustedOwners
	}
	return policy.DefaultTrustedOwners()
}

// GetGlobal returns the underlying GlobalConfig for direct access.
// Returns nil if no global config is loaded.
func (c *Config) GetGlobal() *GlobalConfig {
	return c.global
}

// NewConfigWithDefaults creates a new Config with default values and an
// empty GlobalConfig. Use this when you need a fresh config that doesn't
// inherit existing settings.
func NewConfigWithDefaults() *Config {
	return &Config{
		TrustedOwners: policy.DefaultTrustedOwners(),
		MatrixLimit:   policy.DefaultMaxMatrixProduct,
		FailOn:        DefaultFailOn,
		Weights:       policy.DefaultWeights(),
		global:        &GlobalConfig{},
	}
}
