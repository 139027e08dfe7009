package workflow

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"github.com/goccy/go-yaml"
)

const (
	// maxDefinitionBytes is the maximum allowed size for a pipeline
	// definition (1MB). Prevents resource exhaustion from crafted files.
	maxDefinitionBytes = 1 * 1024 * 1024
)

// document mirrors the YAML surface before normalization. Fields that can
// take several shapes stay `any` here and are resolved by normalize.
type document struct {
	Name        string             `yaml:"name,omitempty"`
	On          any                `yaml:"on,omitempty"`
	Permissions any                `yaml:"permissions,omitempty"`
	Env         map[string]any     `yaml:"env,omitempty"`
	Jobs        map[string]*jobDoc `yaml:"jobs"`
}

type jobDoc struct {
	Name            string            `yaml:"name,omitempty"`
	RunsOn          any               `yaml:"runs-on,omitempty"`
	Needs           any               `yaml:"needs,omitempty"`
	If              string            `yaml:"if,omitempty"`
	Permissions     any               `yaml:"permissions,omitempty"`
	Env             map[string]any    `yaml:"env,omitempty"`
	Strategy        *strategyDoc      `yaml:"strategy,omitempty"`
	Steps           []*stepDoc        `yaml:"steps,omitempty"`
	TimeoutMinutes  int               `yaml:"timeout-minutes,omitempty"`
	ContinueOnError bool              `yaml:"continue-on-error,omitempty"`
	Outputs         map[string]string `yaml:"outputs,omitempty"`
}

type strategyDoc struct {
	Matrix      any `yaml:"matrix,omitempty"`
	FailFast    any `yaml:"fail-fast,omitempty"`
	MaxParallel int `yaml:"max-parallel,omitempty"`
}

type stepDoc struct {
	ID              string         `yaml:"id,omitempty"`
	Name            string         `yaml:"name,omitempty"`
	Uses            string         `yaml:"uses,omitempty"`
	Run             string         `yaml:"run,omitempty"`
	Shell           string         `yaml:"shell,omitempty"`
	WorkingDir      string         `yaml:"working-directory,omitempty"`
	If              string         `yaml:"if,omitempty"`
	With            map[string]any `yaml:"with,omitempty"`
	Env             map[string]any `yaml:"env,omitempty"`
	ContinueOnError bool           `yaml:"continue-on-error,omitempty"`
	TimeoutMinutes  int            `yaml:"timeout-minutes,omitempty"`
}

// validateContent checks for malicious or malformed content before the
// YAML parser sees it. Defense-in-depth against crafted definitions.
func validateContent(data []byte) *ParseError {
	if len(data) > maxDefinitionBytes {
		return &ParseError{Message: fmt.Sprintf("definition exceeds maximum size of %d bytes", maxDefinitionBytes)}
	}

	// Null bytes indicate binary content disguised as YAML
	if bytes.Contains(data, []byte{0x00}) {
		return &ParseError{Message: "definition contains null bytes (binary content not allowed)"}
	}

	// Excessive control characters (excluding newline, carriage return,
	// tab) catch malformed files that might exploit parser edge cases.
	controlCount := 0
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			controlCount++
		}
	}
	if controlCount > 10 {
		return &ParseError{Message: fmt.Sprintf("definition contains excessive control characters (%d found)", controlCount)}
	}

	return nil
}

// yamlPositionPattern matches the [line:column] prefix goccy attaches to
// syntax and duplicate-key errors.
var yamlPositionPattern = regexp.MustCompile(`\[(\d+):(\d+)\]\s*(.+)`)

// parseErrorFrom converts a YAML decode error into a ParseError, lifting
// the source line out of the message when present.
func parseErrorFrom(err error) *ParseError {
	msg := err.Error()
	if m := yamlPositionPattern.FindStringSubmatch(msg); m != nil {
		line := 0
		_, _ = fmt.Sscanf(m[1], "%d", &line)
		return &ParseError{Line: line, Message: m[3]}
	}
	return &ParseError{Message: msg}
}

// Parse parses raw definition text into a typed Definition. It fails with
// a ParseError on malformed YAML, duplicate job IDs, or a missing jobs
// section. Dangling `needs` references are not fatal here; the graph layer
// degrades them.
func Parse(data []byte) (*Definition, *ParseError) {
	if perr := validateContent(data); perr != nil {
		return nil, perr
	}

	var doc document
	if err := yaml.UnmarshalWithOptions(data, &doc, yaml.DisallowDuplicateKey()); err != nil {
		return nil, parseErrorFrom(err)
	}

	if len(doc.Jobs) == 0 {
		return nil, &ParseError{Message: "definition has no jobs"}
	}

	return normalize(&doc)
}

// ParseFile reads and parses a single definition file. The path must be
// validated by the caller, normally via Discover.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path validated by caller via Discover
	if err != nil {
		return nil, fmt.Errorf("reading definition file: %w", err)
	}

	def, perr := Parse(data)
	if perr != nil {
		return nil, perr
	}
	return def, nil
}
