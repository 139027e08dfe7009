// Package output renders analysis reports and coordination plans for
// humans (styled text) and machines (indented JSON).
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/handleui/caliper/internal/analysis"
	"github.com/handleui/caliper/internal/coordinate"
	"github.com/handleui/caliper/internal/engine"
)

// dividerWidth is the standard width for section dividers
const dividerWidth = 60

var (
	boldStyle      = lipgloss.NewStyle().Bold(true)
	headStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	grayStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	greenStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	redStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	yellowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	secondaryStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// divider returns a horizontal line of the specified width
func divider(width int) string {
	return strings.Repeat("─", width)
}

// FormatReport writes a single analysis report as human-readable text:
// scores, execution plan, findings grouped by severity, and the ranked
// recommendations with their IDs.
func FormatReport(w io.Writer, report *engine.Report) {
	_, _ = fmt.Fprintln(w)

	if report.Failed() {
		label := report.Path
		if label == "" {
			label = "pipeline"
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", redStyle.Render("✖"), boldStyle.Render(label))
		_, _ = fmt.Fprintf(w, "  %s\n\n", redStyle.Render(report.Err))
		_, _ = fmt.Fprintf(w, "  %s\n", grayStyle.Render("score 0/100 (unparseable pipelines score zero)"))
		return
	}

	writeReportHeader(w, report)
	writeScores(w, report)
	writePlan(w, report)
	writeFindings(w, report.Findings)
	writeRecommendations(w, report)
}

func writeReportHeader(w io.Writer, report *engine.Report) {
	label := report.Name
	if report.Path != "" {
		label = report.Path
		if report.Name != "" {
			label += grayStyle.Render(" ("+report.Name+")")
		}
	}

	high := countBySeverity(report.Findings, analysis.SeverityHigh)
	medium := countBySeverity(report.Findings, analysis.SeverityMedium)
	low := countBySeverity(report.Findings, analysis.SeverityLow)
	total := high + medium + low

	if total == 0 {
		_, _ = fmt.Fprintf(w, "%s %s %s\n", boldStyle.Render(">"), greenStyle.Render("✓"), boldStyle.Render(label))
		_, _ = fmt.Fprintf(w, "  %s\n\n", grayStyle.Render("No findings"))
		return
	}

	_, _ = fmt.Fprintf(w, "%s %s %s %s\n",
		boldStyle.Render(">"), redStyle.Render("✖"), boldStyle.Render(label),
		grayStyle.Render(fmt.Sprintf("(%d finding%s: %d high, %d medium, %d low)", total, plural(total), high, medium, low)))
	_, _ = fmt.Fprintf(w, "  %s\n\n", grayStyle.Render("Run 'caliper apply' to fix automatically or fix manually and re-run"))
	_, _ = fmt.Fprintf(w, "%s\n\n", grayStyle.Render(divider(dividerWidth)))
}

func writeScores(w io.Writer, report *engine.Report) {
	s := report.Scores
	_, _ = fmt.Fprintf(w, "%s %s\n", headStyle.Render("Score"), scoreText(s.Overall))
	_, _ = fmt.Fprintf(w, "  %s\n\n", grayStyle.Render(fmt.Sprintf(
		"syntax %d  actions %d  secrets %d  performance %d  security %d",
		s.Syntax, s.ActionRefs, s.SecretRefs, s.Performance, s.Security)))
}

func writePlan(w io.Writer, report *engine.Report) {
	if len(report.Cycle) > 0 {
		_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Execution plan"))
		_, _ = fmt.Fprintf(w, "  %s %s\n\n",
			redStyle.Render("✖ dependency cycle:"),
			strings.Join(report.Cycle, " → ")+" → "+report.Cycle[0])
		return
	}
	if len(report.Waves) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Execution plan"))
	for i, wave := range report.Waves {
		_, _ = fmt.Fprintf(w, "  %s %s\n",
			grayStyle.Render(fmt.Sprintf("wave %d:", i+1)),
			strings.Join(wave, ", "))
	}
	if len(report.Excluded) > 0 {
		_, _ = fmt.Fprintf(w, "  %s %s\n",
			yellowStyle.Render("unschedulable:"),
			strings.Join(report.Excluded, ", "))
	}
	if len(report.Parallelizable) > 0 {
		_, _ = fmt.Fprintf(w, "  %s %s\n",
			grayStyle.Render("parallelizable:"),
			strings.Join(report.Parallelizable, ", "))
	}
	_, _ = fmt.Fprintln(w)
}

func writeFindings(w io.Writer, findings []analysis.Finding) {
	if len(findings) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Findings"))
	for _, f := range findings {
		_, _ = fmt.Fprintf(w, "  %s %s %s\n",
			severityStyle(f.Severity).Render(severitySymbol(f.Severity)),
			formatFindingLocation(f),
			f.Description+grayStyle.Render(" ["+f.Rule+"]"))
		if f.Suggestion != "" {
			_, _ = fmt.Fprintf(w, "      %s\n", grayStyle.Render(f.Suggestion))
		}
	}
	_, _ = fmt.Fprintln(w)
}

func writeRecommendations(w io.Writer, report *engine.Report) {
	if len(report.Recommendations) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Recommendations"))
	for _, rec := range report.Recommendations {
		saving := ""
		if rec.Saving > 0 {
			saving = grayStyle.Render(fmt.Sprintf(" (saves ~%ds per run)", rec.Saving))
		}
		patchNote := ""
		if len(rec.Patches) > 0 {
			patchNote = greenStyle.Render(" auto-fixable")
		}
		_, _ = fmt.Fprintf(w, "  %s %s %s%s%s\n",
			secondaryStyle.Render(rec.ID),
			priorityBadge(rec.Priority),
			rec.Title, saving, patchNote)
	}
	_, _ = fmt.Fprintln(w)
}

// FormatBatch writes a one-line summary per analyzed file, sorted by
// path, followed by aggregate counts.
func FormatBatch(w io.Writer, reports map[string]*engine.Report) {
	paths := make([]string, 0, len(reports))
	for path := range reports {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	_, _ = fmt.Fprintln(w)

	failed := 0
	findingTotal := 0
	for _, path := range paths {
		report := reports[path]
		if report.Failed() {
			failed++
			_, _ = fmt.Fprintf(w, "  %s %s  %s\n",
				redStyle.Render("✖"), boldStyle.Render(path), grayStyle.Render(report.Err))
			continue
		}

		findingTotal += len(report.Findings)
		icon := greenStyle.Render("✓")
		if len(report.Findings) > 0 {
			icon = yellowStyle.Render("●")
		}
		_, _ = fmt.Fprintf(w, "  %s %s  %s %s\n",
			icon, boldStyle.Render(path), scoreText(report.Scores.Overall),
			grayStyle.Render(fmt.Sprintf("%d finding%s", len(report.Findings), plural(len(report.Findings)))))
	}

	_, _ = fmt.Fprintln(w)
	summary := fmt.Sprintf("%d pipeline%s analyzed, %d finding%s",
		len(paths), plural(len(paths)), findingTotal, plural(findingTotal))
	if failed > 0 {
		summary += fmt.Sprintf(", %d failed to parse", failed)
	}
	_, _ = fmt.Fprintf(w, "%s %s\n", boldStyle.Render(">"), summary)
}

// FormatCoordination writes a coordination plan: execution order, the
// ordering constraints behind it, conflicts with their resolutions, and
// the shared resources.
func FormatCoordination(w io.Writer, plan *coordinate.Plan) {
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "%s %s\n\n", headStyle.Render("Execution order"), strings.Join(plan.Order, " → "))

	if len(plan.Edges) > 0 {
		_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Ordering constraints"))
		names := make([]string, 0, len(plan.Edges))
		for name := range plan.Edges {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, dep := range plan.Edges[name] {
				_, _ = fmt.Fprintf(w, "  %s %s %s\n", dep, grayStyle.Render("before"), name)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(plan.Paths) > 0 {
		_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Output files"))
		names := make([]string, 0, len(plan.Paths))
		for name := range plan.Paths {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "  %s %s %s\n", name, grayStyle.Render("→"), plan.Paths[name])
		}
		_, _ = fmt.Fprintln(w)
	}

	writeConflicts(w, plan.Conflicts)
	writeSharedResources(w, plan)

	if plan.Resolved {
		_, _ = fmt.Fprintf(w, "%s\n", greenStyle.Render("✓ Plan resolved, all conflicts handled automatically"))
	} else {
		_, _ = fmt.Fprintf(w, "%s\n", yellowStyle.Render("● Plan needs attention, some conflicts require a decision"))
	}
}

func writeConflicts(w io.Writer, conflicts []coordinate.Conflict) {
	if len(conflicts) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Conflicts"))
	for _, c := range conflicts {
		icon := yellowStyle.Render("●")
		if c.Automatic() {
			icon = greenStyle.Render("✓")
		}
		_, _ = fmt.Fprintf(w, "  %s %s conflict: %s\n", icon, c.Type, strings.Join(c.Affected, ", "))
		for _, r := range c.Resolutions {
			marker := grayStyle.Render("needs decision:")
			if r.Automatic {
				marker = grayStyle.Render("applied:")
			}
			_, _ = fmt.Fprintf(w, "      %s %s\n", marker, r.Description)
		}
	}
	_, _ = fmt.Fprintln(w)
}

func writeSharedResources(w io.Writer, plan *coordinate.Plan) {
	if len(plan.SharedSecrets) == 0 && len(plan.SharedVariables) == 0 {
		return
	}

	_, _ = fmt.Fprintf(w, "%s\n", headStyle.Render("Shared resources"))
	if len(plan.SharedSecrets) > 0 {
		_, _ = fmt.Fprintf(w, "  %s %s\n", grayStyle.Render("secrets:"), strings.Join(plan.SharedSecrets, ", "))
	}
	if len(plan.SharedVariables) > 0 {
		keys := make([]string, 0, len(plan.SharedVariables))
		for k := range plan.SharedVariables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+plan.SharedVariables[k])
		}
		_, _ = fmt.Fprintf(w, "  %s %s\n", grayStyle.Render("variables:"), strings.Join(pairs, ", "))
	}
	_, _ = fmt.Fprintln(w)
}

func formatFindingLocation(f analysis.Finding) string {
	switch {
	case f.JobID != "" && f.StepIndex >= 0:
		return boldStyle.Render(fmt.Sprintf("%s/%d:", f.JobID, f.StepIndex))
	case f.JobID != "":
		return boldStyle.Render(f.JobID + ":")
	default:
		return boldStyle.Render("pipeline:")
	}
}

func scoreText(score int) string {
	style := greenStyle
	switch {
	case score < 70:
		style = redStyle
	case score < 90:
		style = yellowStyle
	}
	return style.Render(fmt.Sprintf("%d/100", score))
}

func severityStyle(severity analysis.Severity) lipgloss.Style {
	switch severity {
	case analysis.SeverityHigh:
		return redStyle
	case analysis.SeverityMedium:
		return yellowStyle
	default:
		return secondaryStyle
	}
}

func severitySymbol(severity analysis.Severity) string {
	switch severity {
	case analysis.SeverityHigh:
		return "✖"
	case analysis.SeverityMedium:
		return "⚠"
	default:
		return "●"
	}
}

func priorityBadge(priority int) string {
	switch priority {
	case 3:
		return redStyle.Render("[high]")
	case 2:
		return yellowStyle.Render("[medium]")
	default:
		return secondaryStyle.Render("[low]")
	}
}

// plural returns "s" if count != 1
func plural(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}

// countBySeverity counts findings at a severity level.
func countBySeverity(findings []analysis.Finding, severity analysis.Severity) int {
	count := 0
	for _, f := range findings {
		if f.Severity == severity {
			count++
		}
	}
	return count
}
