package output

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/handleui/caliper/internal/coordinate"
	"github.com/handleui/caliper/internal/engine"
)

// FormatReportJSON writes a single report as indented JSON.
// Returns error if JSON marshaling or writing fails.
func FormatReportJSON(w io.Writer, report *engine.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// batchReport pairs a report with the path it was analyzed under so
// batch output stays an ordered array rather than a map with
// nondeterministic key order.
type batchReport struct {
	Path   string         `json:"path"`
	Report *engine.Report `json:"report"`
}

// FormatBatchJSON writes the reports of a batch run as a JSON array
// sorted by path.
// Returns error if JSON marshaling or writing fails.
func FormatBatchJSON(w io.Writer, reports map[string]*engine.Report) error {
	paths := make([]string, 0, len(reports))
	for path := range reports {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	ordered := make([]batchReport, 0, len(paths))
	for _, path := range paths {
		ordered = append(ordered, batchReport{Path: path, Report: reports[path]})
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ordered)
}

// FormatCoordinationJSON writes a coordination plan as indented JSON.
// Returns error if JSON marshaling or writing fails.
func FormatCoordinationJSON(w io.Writer, plan *coordinate.Plan) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(plan)
}
