package analysis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/handleui/caliper/internal/workflow"
)

// Ecosystem describes one package ecosystem: how its dependency install
// commands look, what a cache step for it should contain, and how much
// restoring a warm cache typically saves.
type Ecosystem struct {
	Name          string
	InstallRe     *regexp.Regexp
	CachePaths    []string
	CacheKeyFiles []string
	// SavingSeconds is the typical install time recovered by a warm
	// cache, used as the finding's estimated saving.
	SavingSeconds int
}

// ecosystems maps install commands to their ecosystem. Matching is
// deliberately approximate regex over command text; unusually wrapped
// commands will slip through.
var ecosystems = []Ecosystem{
	{
		Name:          "node",
		InstallRe:     regexp.MustCompile(`(?:^|\s)(?:npm\s+(?:ci|install|i)\b|yarn(?:\s+install)?\s*$|yarn\s+install\b|pnpm\s+(?:install|i)\b|bun\s+install\b)`),
		CachePaths:    []string{"~/.npm"},
		CacheKeyFiles: []string{"package-lock.json"},
		SavingSeconds: 180,
	},
	{
		Name:          "rust",
		InstallRe:     regexp.MustCompile(`(?:^|\s)cargo\s+(?:build|fetch|install|test)\b`),
		CachePaths:    []string{"~/.cargo/registry", "target"},
		CacheKeyFiles: []string{"Cargo.lock"},
		SavingSeconds: 240,
	},
	{
		Name:          "java",
		InstallRe:     regexp.MustCompile(`(?:^|\s)(?:mvn\b|\./mvnw\b|gradle\b|\./gradlew\b)`),
		CachePaths:    []string{"~/.m2/repository", "~/.gradle/caches"},
		CacheKeyFiles: []string{"pom.xml", "build.gradle"},
		SavingSeconds: 150,
	},
	{
		Name:          "python",
		InstallRe:     regexp.MustCompile(`(?:^|\s)(?:pip3?\s+install\b|pipenv\s+install\b|poetry\s+install\b)`),
		CachePaths:    []string{"~/.cache/pip"},
		CacheKeyFiles: []string{"requirements.txt"},
		SavingSeconds: 120,
	},
	{
		Name:          "ruby",
		InstallRe:     regexp.MustCompile(`(?:^|\s)(?:bundle\s+install\b|gem\s+install\b)`),
		CachePaths:    []string{"vendor/bundle"},
		CacheKeyFiles: []string{"Gemfile.lock"},
		SavingSeconds: 100,
	},
	{
		Name:          "go",
		InstallRe:     regexp.MustCompile(`(?:^|\s)go\s+(?:mod\s+download|build|get|install)\b`),
		CachePaths:    []string{"~/go/pkg/mod", "~/.cache/go-build"},
		CacheKeyFiles: []string{"go.sum"},
		SavingSeconds: 90,
	},
}

// EcosystemByName returns the named ecosystem, or nil.
func EcosystemByName(name string) *Ecosystem {
	for i := range ecosystems {
		if ecosystems[i].Name == name {
			return &ecosystems[i]
		}
	}
	return nil
}

// Ecosystems returns the distinct ecosystems a definition installs
// dependencies for, sorted. Used for shared-variable estimation across
// coordinated pipelines.
func Ecosystems(def *workflow.Definition) []string {
	seen := make(map[string]bool)
	for _, id := range def.JobIDs() {
		for _, step := range def.Jobs[id].Steps {
			if !step.IsRun() {
				continue
			}
			if eco := detectInstall(step.Run); eco != nil {
				seen[eco.Name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detectInstall returns the ecosystem of the first dependency-install
// command found in a run script, or nil.
func detectInstall(run string) *Ecosystem {
	for _, line := range strings.Split(run, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, cmd := range splitCommands(line) {
			cmd = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd), "sudo "))
			if cmd == "" {
				continue
			}
			for i := range ecosystems {
				if ecosystems[i].InstallRe.MatchString(cmd) {
					return &ecosystems[i]
				}
			}
		}
	}
	return nil
}

// splitCommands splits a shell line on &&, ||, ; and | outside quotes,
// so chains like "npm ci && npm test" are inspected per command.
func splitCommands(line string) []string {
	var result []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)

	for i := 0; i < len(line); i++ {
		ch := line[i]

		if (ch == '"' || ch == '\'') && (i == 0 || line[i-1] != '\\') {
			if !inQuote {
				inQuote = true
				quoteChar = ch
			} else if ch == quoteChar {
				inQuote = false
			}
			current.WriteByte(ch)
			continue
		}

		if !inQuote {
			if i < len(line)-1 && ((ch == '&' && line[i+1] == '&') || (ch == '|' && line[i+1] == '|')) {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
				i++
				continue
			}
			if ch == ';' || ch == '|' {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
				continue
			}
		}

		current.WriteByte(ch)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}
