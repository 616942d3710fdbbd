// Package cli formats search hits, ingestion reports and status for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/casefind/internal/ingest"
	"github.com/hyperjump/casefind/internal/models"
	"github.com/hyperjump/casefind/internal/search"
	"github.com/hyperjump/casefind/internal/storage"
	"github.com/hyperjump/casefind/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown output format %q", models.ErrInvalidArgument, s)
}

// documentPreview is how much of a record document the text format shows.
const documentPreview = 200

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const rule = "─────────────────────────────────────────────────────────\n"

// WriteImageHits writes text-to-image results.
func WriteImageHits(w io.Writer, response *models.SearchResponse[models.ImageHit], format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d images in %dms\n\n", response.Total, response.QueryTime)
	for i, hit := range response.Results {
		fmt.Fprint(w, rule)
		fmt.Fprintf(w, "%d. %s | Distance: %.4f\n", i+1, hit.Name, hit.Distance)
		fmt.Fprintf(w, "Record: %d  Image: %d%s\n", hit.RecordID, hit.AssetID, missingMark(hit.Missing))
	}
	if len(response.Results) > 0 {
		fmt.Fprintln(w)
	}
	return nil
}

// WriteRecordHits writes results that carry record documents.
func WriteRecordHits(w io.Writer, response *models.SearchResponse[models.RecordHit], format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d records in %dms\n\n", response.Total, response.QueryTime)
	for i, hit := range response.Results {
		fmt.Fprint(w, rule)
		fmt.Fprintf(w, "%d. %s | Distance: %.4f\n", i+1, hit.Name, hit.Distance)
		if hit.HasAsset {
			fmt.Fprintf(w, "Record: %d  Image: %d%s\n", hit.RecordID, hit.AssetID, missingMark(hit.Missing))
		} else {
			fmt.Fprintf(w, "Record: %d%s\n", hit.RecordID, missingMark(hit.Missing))
		}
		if len(hit.Document) > 0 {
			fmt.Fprintf(w, "\n%s\n", utils.Truncate(string(hit.Document), documentPreview))
		}
		fmt.Fprintln(w)
	}
	return nil
}

func missingMark(missing bool) string {
	if missing {
		return "  (record not stored)"
	}
	return ""
}

type reportJSON struct {
	*ingest.Report
	DurationMS int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts"`
	Failures   []failureJSON  `json:"failures,omitempty"`
}

type failureJSON struct {
	Unit  string `json:"unit"`
	State string `json:"state"`
	Error string `json:"error"`
}

// WriteReports writes one line per stage report, plus failure details.
func WriteReports(w io.Writer, reports []*ingest.Report, format OutputFormat) error {
	if format == OutputJSON {
		out := make([]reportJSON, 0, len(reports))
		for _, rep := range reports {
			r := reportJSON{Report: rep, DurationMS: rep.Duration.Milliseconds(), Counts: make(map[string]int)}
			for s, n := range rep.Counts {
				r.Counts[s.String()] = n
			}
			for _, f := range rep.Failures {
				r.Failures = append(r.Failures, failureJSON{Unit: f.Unit, State: f.State.String(), Error: errString(f.Err)})
			}
			out = append(out, r)
		}
		return writeJSON(w, out)
	}
	for _, rep := range reports {
		fmt.Fprintf(w, "%s in %s\n", rep, rep.Duration.Round(time.Millisecond))
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Status is the snapshot printed by the status command.
type Status struct {
	DataDir     string                  `json:"data_dir"`
	Records     int                     `json:"records"`
	Assets      int                     `json:"assets"`
	Vectors     map[models.Modality]int `json:"vectors"`
	Catalogued  int64                   `json:"catalogued"`
	DiskUsage   storage.Usage           `json:"disk_usage"`
	Indexes     []search.IndexStats     `json:"indexes,omitempty"`
	RecentRuns  []storage.RunSummary    `json:"recent_runs,omitempty"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// WriteStatus writes the status snapshot.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Data directory: %s\n", st.DataDir)
	fmt.Fprintf(w, "Records:        %d (%d in catalog)\n", st.Records, st.Catalogued)
	fmt.Fprintf(w, "Images:         %d\n", st.Assets)
	for _, m := range models.Modalities {
		fmt.Fprintf(w, "Vectors (%s): %d\n", m, st.Vectors[m])
	}
	fmt.Fprintf(w, "Disk usage:     %s\n", FormatBytes(st.DiskUsage.Total()))
	for _, idx := range st.Indexes {
		if !idx.Loaded {
			fmt.Fprintf(w, "Index (%s): not loaded\n", idx.Modality)
			continue
		}
		fmt.Fprintf(w, "Index (%s): %d vectors, %d dims, built %s\n",
			idx.Modality, idx.Vectors, idx.Dimensions, idx.BuiltAt.Format(time.RFC3339))
	}
	if len(st.RecentRuns) > 0 {
		fmt.Fprintln(w, "\nRecent runs:")
		for _, run := range st.RecentRuns {
			state := "done"
			switch {
			case run.FinishedAt.IsZero():
				state = "unfinished"
			case run.Canceled:
				state = "canceled"
			}
			fmt.Fprintf(w, "  %s  %-13s %-10s new=%d skipped=%d failed=%d\n",
				run.StartedAt.Format(time.RFC3339), run.Stage, state, run.Succeeded, run.Skipped, run.Failed)
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
