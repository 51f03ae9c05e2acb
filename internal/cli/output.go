// Package cli provides output writers for the bunsho command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperjump/bunsho/internal/documents"
	"github.com/hyperjump/bunsho/internal/ingest"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("%w: output must be text or json, got %q", models.ErrInvalidInput, s)
	}
}

// previewLen bounds raw listing previews in text output.
const previewLen = 80

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteDocuments writes document summaries.
func WriteDocuments(w io.Writer, collection string, docs []models.DocumentSummary, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"collection": collection, "documents": docs})
	}
	if len(docs) == 0 {
		fmt.Fprintf(w, "No vectorized documents found in %s.\n", collection)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOC NAME\tDOC TYPE\tRECORDS")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", d.Name, d.Type, d.Records)
	}
	return tw.Flush()
}

// WriteObjects writes a raw record listing.
func WriteObjects(w io.Writer, objs []*models.StoredObject, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, objs)
	}
	for _, o := range objs {
		fmt.Fprintf(w, "%s  %s  %s\n", o.ID, o.DocName(),
			utils.Truncate(models.ContentString(o.Properties[models.PropContent]), previewLen))
	}
	return nil
}

// WriteChunks writes the chunks of one document, numbered from 1.
func WriteChunks(w io.Writer, docName string, chunks []string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"doc_name": docName, "chunks": chunks})
	}
	fmt.Fprintf(w, "Chunks of '%s'\n", docName)
	for i, c := range chunks {
		fmt.Fprintf(w, "\nChunk %d:\n%s\n", i+1, c)
	}
	return nil
}

// WriteIngestResult writes the outcome of an ingestion.
func WriteIngestResult(w io.Writer, res *ingest.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintln(w, res.Message)
	if res.Superseded > 0 {
		fmt.Fprintf(w, "Replaced %d records from an earlier run of this upload.\n", res.Superseded)
	}
	fmt.Fprintf(w, "Staged at %s\n", res.StagedPath)
	return nil
}

// WriteStats writes collection statistics.
func WriteStats(w io.Writer, stats *documents.Stats, diskBytes int64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"collection":       stats.Collection,
			"exists":           stats.Exists,
			"documents":        stats.Documents,
			"records":          stats.Records,
			"disk_usage_bytes": diskBytes,
		})
	}
	if !stats.Exists {
		fmt.Fprintf(w, "Collection %s does not exist.\n", stats.Collection)
	} else {
		fmt.Fprintf(w, "Collection: %s\nDocuments:  %d\nRecords:    %d\n", stats.Collection, stats.Documents, stats.Records)
	}
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(diskBytes))
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
