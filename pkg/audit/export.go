package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// Render serializes entries in the requested format
func Render(entries []*Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	case ExportFormatCSV:
		return exportCSV(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// exportJSON exports audit entries as a JSON array
func exportJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// exportNDJSON exports audit entries as newline-delimited JSON
func exportNDJSON(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)

	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// exportCSV exports audit entries as CSV
func exportCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"SubscriptionID",
		"TenantID",
		"Action",
		"User",
		"IPAddress",
		"Details",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		details := ""
		if len(entry.Details) > 0 {
			raw, err := json.Marshal(entry.Details)
			if err != nil {
				return nil, fmt.Errorf("failed to encode details: %w", err)
			}
			details = string(raw)
		}

		row := []string{
			entry.ID.String(),
			entry.Timestamp.UTC().Format(time.RFC3339),
			uuidString(entry.SubscriptionID),
			uuidString(entry.TenantID),
			string(entry.Action),
			entry.User,
			entry.IPAddress,
			details,
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
