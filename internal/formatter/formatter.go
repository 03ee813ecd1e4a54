// package formatter renders plans, outcomes, snapshots, tables and job history as text, JSON, YAML, Markdown and CSV
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/dsx/internal/models"
	"github.com/desertthunder/dsx/internal/shared"
	"github.com/desertthunder/dsx/internal/tasks"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat accepts text, json, yaml/yml and markdown/md. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (text, json, yaml, markdown)", shared.ErrInvalidFlag, s)
	}
}

// Render encodes v in the requested format. Text and Markdown are supported for the types this
// package knows; anything else falls back to JSON.
func Render(v any, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return shared.MarshalJSON(view(v), true)
	case FormatYAML:
		return yaml.Marshal(view(v))
	case FormatMarkdown:
		switch t := v.(type) {
		case *tasks.Preview:
			return PreviewToMarkdown(t), nil
		case *tasks.Outcome:
			return OutcomeToMarkdown(t), nil
		}
	}

	switch t := v.(type) {
	case *tasks.Preview:
		return PreviewToText(t), nil
	case *tasks.Outcome:
		return OutcomeToText(t), nil
	case *tasks.BatchResult:
		return BatchToText(t), nil
	case *models.Snapshot:
		return SnapshotToText(t), nil
	case []*models.MigrationJob:
		return JobsToText(t), nil
	case *models.MigrationJob:
		return JobToText(t), nil
	}
	return shared.MarshalJSON(view(v), true)
}

// JobView is the serializable form of a [models.MigrationJob].
type JobView struct {
	ID             string     `json:"id" yaml:"id"`
	Sequence       int        `json:"sequence" yaml:"sequence"`
	Mode           string     `json:"mode" yaml:"mode"`
	Dataset        string     `json:"dataset" yaml:"dataset"`
	DatasetID      string     `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	SourceURL      string     `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	TargetURL      string     `json:"target_url" yaml:"target_url"`
	State          string     `json:"state" yaml:"state"`
	FailedStep     string     `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	ErrorMessage   string     `json:"error,omitempty" yaml:"error,omitempty"`
	ResourcesTotal int        `json:"resources_total" yaml:"resources_total"`
	TablesTotal    int        `json:"tables_total" yaml:"tables_total"`
	RowsLoaded     int        `json:"rows_loaded" yaml:"rows_loaded"`
	StartedAt      *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
}

// NewJobView copies the exported state of j.
func NewJobView(j *models.MigrationJob) JobView {
	return JobView{
		ID:             j.ID(),
		Sequence:       j.Sequence(),
		Mode:           string(j.Mode()),
		Dataset:        j.Dataset(),
		DatasetID:      j.DatasetID(),
		SourceURL:      j.SourceURL(),
		TargetURL:      j.TargetURL(),
		State:          string(j.State()),
		FailedStep:     j.FailedStep(),
		ErrorMessage:   j.ErrorMessage(),
		ResourcesTotal: j.ResourcesTotal(),
		TablesTotal:    j.TablesTotal(),
		RowsLoaded:     j.RowsLoaded(),
		StartedAt:      j.StartedAt(),
		CompletedAt:    j.CompletedAt(),
		CreatedAt:      j.CreatedAt(),
	}
}

// view swaps job models, which keep their fields private, for [JobView].
func view(v any) any {
	switch t := v.(type) {
	case *models.MigrationJob:
		return NewJobView(t)
	case []*models.MigrationJob:
		out := make([]JobView, len(t))
		for i, j := range t {
			out[i] = NewJobView(j)
		}
		return out
	}
	return v
}

// PreviewToText renders a dry-run plan for the terminal.
func PreviewToText(p *tasks.Preview) []byte {
	var buf bytes.Buffer
	plan := p.Plan

	fmt.Fprintf(&buf, "Dataset: %s (%s)\n", plan.DatasetName, plan.Mode())
	if p.Source != nil {
		fmt.Fprintf(&buf, "Title: %s\n", p.Source.Dataset.Title())
		fmt.Fprintf(&buf, "Organization: %s\n", p.Source.Organization.Name)
	}
	fmt.Fprintf(&buf, "\n  %-7s dataset %s", plan.Dataset, plan.DatasetName)
	if plan.TargetDatasetID != "" {
		fmt.Fprintf(&buf, " (%s)", plan.TargetDatasetID)
	}
	buf.WriteString("\n")

	if len(plan.Order) > 0 {
		buf.WriteString("\nResources:\n")
		for _, name := range plan.Order {
			fmt.Fprintf(&buf, "  %-7s %s\n", plan.Resources[name], name)
		}
	}

	if tables := tableNames(plan); len(tables) > 0 {
		buf.WriteString("\nTables:\n")
		for _, name := range tables {
			action := plan.Tables[name]
			note := ""
			if action == models.ActionUpdate {
				note = " (replace)"
			}
			fmt.Fprintf(&buf, "  %-7s %s%s\n", action, name, note)
		}
	}

	if len(plan.Changes) > 0 {
		buf.WriteString("\nMetadata changes:\n")
		for _, c := range plan.Changes {
			buf.WriteString("  " + changeLine(c) + "\n")
		}
	}

	if len(plan.Warnings) > 0 {
		buf.WriteString("\nWarnings:\n")
		for _, w := range plan.Warnings {
			fmt.Fprintf(&buf, "  ! %s\n", w)
		}
	}
	return buf.Bytes()
}

// PreviewToMarkdown renders a dry-run plan as a Markdown report.
func PreviewToMarkdown(p *tasks.Preview) []byte {
	var buf bytes.Buffer
	plan := p.Plan

	fmt.Fprintf(&buf, "# Migration plan: %s\n\n", plan.DatasetName)
	fmt.Fprintf(&buf, "**Mode**: %s\n", plan.Mode())
	if p.Source != nil {
		fmt.Fprintf(&buf, "**Title**: %s\n", p.Source.Dataset.Title())
		fmt.Fprintf(&buf, "**Organization**: %s\n", p.Source.Organization.Name)
	}
	buf.WriteString("\n## Resources\n\n| Resource | Action | Table |\n|---|---|---|\n")
	for _, name := range plan.Order {
		fmt.Fprintf(&buf, "| %s | %s | %s |\n", mdEscape(name), plan.Resources[name], plan.Tables[name])
	}

	if len(plan.Changes) > 0 {
		buf.WriteString("\n## Metadata changes\n\n")
		for _, c := range plan.Changes {
			fmt.Fprintf(&buf, "- `%s`\n", changeLine(c))
		}
	}
	if len(plan.Warnings) > 0 {
		buf.WriteString("\n## Warnings\n\n")
		for _, w := range plan.Warnings {
			fmt.Fprintf(&buf, "- %s\n", w)
		}
	}
	return buf.Bytes()
}

// OutcomeToText summarizes a run, teardown or publish.
func OutcomeToText(o *tasks.Outcome) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Dataset: %s\n", o.Dataset)
	if o.DatasetID != "" {
		fmt.Fprintf(&buf, "Target ID: %s\n", o.DatasetID)
	}
	fmt.Fprintf(&buf, "Mode: %s\n", o.Mode)
	fmt.Fprintf(&buf, "State: %s\n", o.State)

	switch o.Mode {
	case models.ModeTeardown:
		fmt.Fprintf(&buf, "Resources deleted: %d\n", o.ResourcesDeleted)
	case models.ModeRun:
		fmt.Fprintf(&buf, "Resources written: %d\n", o.ResourcesWritten)
		fmt.Fprintf(&buf, "Tables loaded: %d (%d rows in %d batches)\n", o.TablesLoaded, o.RowsLoaded, o.Batches)
		fmt.Fprintf(&buf, "Visibility: %s\n", shared.VisibilityString(!o.Published))
	case models.ModePublish:
		fmt.Fprintf(&buf, "Visibility: %s\n", shared.VisibilityString(!o.Published))
	}
	if !o.FinishedAt.IsZero() {
		fmt.Fprintf(&buf, "Duration: %s\n", o.Duration().Round(time.Millisecond))
	}
	if o.Failure != nil {
		fmt.Fprintf(&buf, "\nFailed at %s (%s %q): %v\n", o.Failure.State, o.Failure.Entity, o.Failure.Name, o.Failure.Err)
		fmt.Fprintf(&buf, "Action: %s\n", o.Failure.Action)
	}
	return buf.Bytes()
}

// OutcomeToMarkdown renders a migration report with the plan that was executed.
func OutcomeToMarkdown(o *tasks.Outcome) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Migration report: %s\n\n", o.Dataset)
	if o.Source != "" {
		fmt.Fprintf(&buf, "**Source**: %s\n", o.Source)
	}
	fmt.Fprintf(&buf, "**Target**: %s\n", o.Target)
	fmt.Fprintf(&buf, "**Mode**: %s\n", o.Mode)
	fmt.Fprintf(&buf, "**State**: %s\n", o.State)
	fmt.Fprintf(&buf, "**Visibility**: %s\n", shared.VisibilityString(!o.Published))
	if !o.StartedAt.IsZero() {
		fmt.Fprintf(&buf, "**Started**: %s\n", o.StartedAt.Format(time.RFC3339))
	}
	if !o.FinishedAt.IsZero() {
		fmt.Fprintf(&buf, "**Duration**: %s\n", o.Duration().Round(time.Millisecond))
	}

	if o.Plan != nil {
		buf.WriteString("\n## Resources\n\n| Resource | Action | Table |\n|---|---|---|\n")
		for _, name := range o.Plan.Order {
			fmt.Fprintf(&buf, "| %s | %s | %s |\n", mdEscape(name), o.Plan.Resources[name], o.Plan.Tables[name])
		}
	}

	buf.WriteString("\n## Totals\n\n")
	fmt.Fprintf(&buf, "- Resources written: %d\n", o.ResourcesWritten)
	fmt.Fprintf(&buf, "- Resources deleted: %d\n", o.ResourcesDeleted)
	fmt.Fprintf(&buf, "- Tables loaded: %d\n", o.TablesLoaded)
	fmt.Fprintf(&buf, "- Rows loaded: %d in %d batches\n", o.RowsLoaded, o.Batches)

	if o.Failure != nil {
		buf.WriteString("\n## Failure\n\n")
		fmt.Fprintf(&buf, "- **Step**: %s\n", o.Failure.Step())
		fmt.Fprintf(&buf, "- **Entity**: %s %s\n", o.Failure.Entity, mdEscape(o.Failure.Name))
		fmt.Fprintf(&buf, "- **Error**: %v\n", o.Failure.Err)
	}
	return buf.Bytes()
}

// BatchToText lists each dataset of a batch with its final state.
func BatchToText(b *tasks.BatchResult) []byte {
	var buf bytes.Buffer
	for _, item := range b.Items {
		switch {
		case item.Error != "":
			fmt.Fprintf(&buf, "✗ %s: %s\n", item.Key, item.Error)
		case item.Outcome != nil:
			fmt.Fprintf(&buf, "✓ %s: %s (%d rows)\n", item.Key, item.Outcome.State, item.Outcome.RowsLoaded)
		}
	}
	fmt.Fprintf(&buf, "\n%d succeeded, %d failed in %s\n", b.Succeeded, b.Failed, b.Elapsed.Round(time.Millisecond))
	return buf.Bytes()
}

// SnapshotToText renders a dataset as read from one catalog.
func SnapshotToText(s *models.Snapshot) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Dataset: %s\n", s.Dataset.Name)
	fmt.Fprintf(&buf, "Title: %s\n", s.Dataset.Title())
	fmt.Fprintf(&buf, "ID: %s\n", s.Dataset.ID)
	fmt.Fprintf(&buf, "Organization: %s\n", s.Organization.Name)
	fmt.Fprintf(&buf, "Visibility: %s\n", shared.VisibilityString(s.Dataset.Private))
	fmt.Fprintf(&buf, "Resources: %d (%d with tables)\n", len(s.Resources), s.TableCount())

	keys := make([]string, 0, len(s.Dataset.Metadata))
	for k := range s.Dataset.Metadata {
		if k != "title" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	if len(keys) > 0 {
		buf.WriteString("\nMetadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&buf, "  %s: %v\n", k, s.Dataset.Metadata[k])
		}
	}

	if len(s.Resources) > 0 {
		buf.WriteString("\nResources:\n")
		for _, r := range s.Resources {
			kind := "link"
			if r.IsUpload() {
				kind = "upload"
			}
			table := ""
			if r.HasTable {
				table = " [table]"
			}
			fmt.Fprintf(&buf, "  %d. %s (%s, %s)%s\n", r.Position+1, r.Name, kind, r.Format, table)
		}
	}
	return buf.Bytes()
}

// JobsToText lists job history, one line per job.
func JobsToText(jobs []*models.MigrationJob) []byte {
	var buf bytes.Buffer
	if len(jobs) == 0 {
		buf.WriteString("No jobs recorded.\n")
		return buf.Bytes()
	}
	for _, j := range jobs {
		mark := "✓"
		if j.Failed() {
			mark = "✗"
		}
		fmt.Fprintf(&buf, "#%-4d %s %-8s %-16s %-24s %s\n",
			j.Sequence(), mark, j.Mode(), j.State(), j.Dataset(), j.CreatedAt().Format("2006-01-02 15:04"))
	}
	return buf.Bytes()
}

// JobToText renders one job in full.
func JobToText(j *models.MigrationJob) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Job #%d (%s)\n", j.Sequence(), j.ID())
	fmt.Fprintf(&buf, "Mode: %s\n", j.Mode())
	fmt.Fprintf(&buf, "Dataset: %s\n", j.Dataset())
	if j.DatasetID() != "" {
		fmt.Fprintf(&buf, "Target ID: %s\n", j.DatasetID())
	}
	if j.SourceURL() != "" {
		fmt.Fprintf(&buf, "Source: %s\n", j.SourceURL())
	}
	fmt.Fprintf(&buf, "Target: %s\n", j.TargetURL())
	fmt.Fprintf(&buf, "State: %s\n", j.State())
	fmt.Fprintf(&buf, "Resources: %d, tables: %d, rows: %d\n", j.ResourcesTotal(), j.TablesTotal(), j.RowsLoaded())
	if d := j.Duration(); d > 0 {
		fmt.Fprintf(&buf, "Duration: %s\n", d.Round(time.Millisecond))
	}
	if j.Failed() {
		fmt.Fprintf(&buf, "Failed step: %s\n", j.FailedStep())
		fmt.Fprintf(&buf, "Error: %s\n", j.ErrorMessage())
	}
	return buf.Bytes()
}

// TableToCSV converts a datastore table to CSV with one column per field, in schema order.
func TableToCSV(table models.Table) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := make([]string, len(table.Fields))
	for i, f := range table.Fields {
		headers[i] = f.ID
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	record := make([]string, len(table.Fields))
	for _, row := range table.Rows {
		for i, f := range table.Fields {
			record[i] = cell(row[f.ID])
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteReport writes rendered output to path.
func WriteReport(path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("%w: empty report path", shared.ErrInvalidArgument)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func tableNames(plan *models.MigrationPlan) []string {
	var names []string
	for _, name := range plan.Order {
		if plan.Tables[name] != models.ActionSkip {
			names = append(names, name)
		}
	}
	return names
}

func changeLine(c models.FieldChange) string {
	switch c.Kind {
	case models.ChangeInsert:
		return fmt.Sprintf("+ %s: %v", c.Key, c.To)
	case models.ChangeDelete:
		return fmt.Sprintf("- %s: %v", c.Key, c.From)
	default:
		return fmt.Sprintf("~ %s: %v → %v", c.Key, c.From, c.To)
	}
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
