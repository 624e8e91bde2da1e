// Package report renders the human-readable summary of an extraction run.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/JakeFAU/execution-probe/internal/jsonvalue"
	"github.com/JakeFAU/execution-probe/internal/probe"
)

// MaxListedFailures caps how many failed endpoints are printed.
const MaxListedFailures = 5

// Options carries what the run wrote, for the next-steps section.
type Options struct {
	RawFile        string
	StructuredFile string
}

type styles struct {
	title   lipgloss.Style
	heading lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		heading: r.NewStyle().Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	}
}

// Render writes the run summary for agg to w.
func Render(w io.Writer, agg *probe.Aggregate, opts Options) error {
	if agg == nil {
		return fmt.Errorf("aggregate is required")
	}
	st := newStyles(w)
	var b strings.Builder
	rule := strings.Repeat("=", 50)

	b.WriteString(rule + "\n")
	b.WriteString(st.title.Render("Extraction Report") + "\n")
	b.WriteString(rule + "\n")
	ids := agg.Identifiers()
	fmt.Fprintf(&b, "Execution: %s  Journey: %s  Project: %s\n", ids.ExecutionID, ids.JourneyID, ids.ProjectID)

	b.WriteString("\n" + st.ok.Render(fmt.Sprintf("Successful endpoints: %d", len(agg.SuccessfulEndpoints))) + "\n")
	for _, name := range agg.SuccessfulEndpoints {
		fmt.Fprintf(&b, "   • %s\n", name)
	}

	b.WriteString("\n" + st.fail.Render(fmt.Sprintf("Failed endpoints: %d", len(agg.FailedEndpoints))) + "\n")
	for i, f := range agg.FailedEndpoints {
		if i == MaxListedFailures {
			b.WriteString(st.muted.Render(fmt.Sprintf("   … and %d more", len(agg.FailedEndpoints)-MaxListedFailures)) + "\n")
			break
		}
		fmt.Fprintf(&b, "   • %s: %s\n", f.Name, f.Description)
	}

	if summary := dataSummary(agg); len(summary) > 0 {
		b.WriteString("\n" + st.heading.Render("Extracted Data Summary:") + "\n")
		for _, line := range summary {
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n" + st.heading.Render("Next Steps:") + "\n")
	switch {
	case agg.HasStructured():
		b.WriteString(st.ok.Render(fmt.Sprintf("1. Data extracted and structured from %s (%d checkpoints)",
			agg.StructuredSource, len(agg.StructuredData.Checkpoints))) + "\n")
		if opts.StructuredFile != "" {
			fmt.Fprintf(&b, "2. Convert the structured file: %s\n", opts.StructuredFile)
		}
	case len(agg.SuccessfulEndpoints) > 0:
		b.WriteString(st.warn.Render("1. Partial data extracted") + "\n")
		if opts.RawFile != "" {
			fmt.Fprintf(&b, "2. Review the raw data and structure it manually if needed: %s\n", opts.RawFile)
		} else {
			b.WriteString("2. Review the raw data and structure it manually if needed\n")
		}
		b.WriteString("3. Try browser extraction for complete data\n")
	default:
		b.WriteString(st.fail.Render("1. API extraction failed, authentication issue likely") + "\n")
		b.WriteString("2. Use browser extraction instead:\n")
		fmt.Fprintf(&b, "   Navigate to: %s\n", DeepLink(agg.Config.UIURL, ids))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// DeepLink returns the UI address of the execution's journey.
func DeepLink(uiURL string, ids probe.Identifiers) string {
	return fmt.Sprintf("%s/#/project/%s/execution/%s/journey/%s",
		strings.TrimRight(uiURL, "/"), ids.ProjectID, ids.ExecutionID, ids.JourneyID)
}

// dataSummary lists item counts and encoded sizes for container payloads,
// in the order the endpoints succeeded.
func dataSummary(agg *probe.Aggregate) []string {
	var lines []string
	for _, name := range agg.SuccessfulEndpoints {
		v, ok := agg.Payload(name)
		if !ok {
			continue
		}
		if k := v.Kind(); k != jsonvalue.KindArray && k != jsonvalue.KindObject {
			continue
		}
		size := v.EncodedSize()
		lines = append(lines, fmt.Sprintf("   • %s: %d items, %s", name, v.Len(), humanize.Bytes(uint64(size))))
	}
	return lines
}
