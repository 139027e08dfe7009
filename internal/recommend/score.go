package recommend

import (
	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/graph"
	"github.com/handleui/caliper/internal/policy"
	"github.com/handleui/caliper/internal/workflow"
)

const (
	cycleDeduction      = 25
	danglingDeduction   = 15
	invalidRefDeduction = 20
	unknownSecretDeduct = 15
)

// Scores are the five sub-scores and their weighted combination, each in
// [0, 100]. A definition with no findings scores 100 across the board.
type Scores struct {
	Overall     int `json:"overall"`
	Syntax      int `json:"syntax"`
	ActionRefs  int `json:"actionRefs"`
	SecretRefs  int `json:"secretRefs"`
	Performance int `json:"performance"`
	Security    int `json:"security"`
}

// Compute derives the sub-scores for an analyzed definition and folds
// them into the overall score using the policy's weights.
func Compute(def *workflow.Definition, g *graph.Graph, cycle *graph.CycleError, findings []analysis.Finding, pol *policy.Policy) Scores {
	pol = pol.Normalized()

	s := Scores{
		Syntax:      syntaxScore(g, cycle),
		ActionRefs:  actionRefScore(def),
		SecretRefs:  secretRefScore(def, pol),
		Performance: analysis.PerformanceScore(findings),
		Security:    analysis.SecurityScore(findings),
	}

	w := pol.Weights
	total := w.Total()
	if total == 0 {
		w = policy.DefaultWeights()
		total = w.Total()
	}
	s.Overall = (s.Syntax*w.Syntax +
		s.ActionRefs*w.ActionRefs +
		s.SecretRefs*w.SecretRefs +
		s.Performance*w.Performance +
		s.Security*w.Security) / total

	return s
}

// syntaxScore deducts for structural defects the parser tolerates: a
// dependency cycle and jobs with dangling needs references.
func syntaxScore(g *graph.Graph, cycle *graph.CycleError) int {
	score := 100
	if cycle != nil {
		score -= cycleDeduction
	}
	score -= danglingDeduction * len(g.Unschedulable())
	if score < 0 {
		score = 0
	}
	return score
}

func actionRefScore(def *workflow.Definition) int {
	score := 100 - invalidRefDeduction*len(analysis.InvalidActionRefs(def))
	if score < 0 {
		score = 0
	}
	return score
}

// secretRefScore checks referenced secrets against the policy's known
// names. With no known names configured there is nothing to validate
// against, so the score stays 100. GITHUB_TOKEN is implicitly defined.
func secretRefScore(def *workflow.Definition, pol *policy.Policy) int {
	if len(pol.KnownSecrets) == 0 {
		return 100
	}

	score := 100
	for _, name := range analysis.SecretRefs(def) {
		if name == "GITHUB_TOKEN" || pol.KnowsSecret(name) {
			continue
		}
		score -= unknownSecretDeduct
	}
	if score < 0 {
		score = 0
	}
	return score
}
