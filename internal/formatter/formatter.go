// package formatter exports login attempt history to CSV and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/desertthunder/qmx/internal/models"
)

// ExportAttemptsCSV writes attempts as CSV with columns: ID, Provider, Event, MusicID, Error, StartedAt, FinishedAt
func ExportAttemptsCSV(attempts []*models.LoginAttempt) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Provider", "Event", "MusicID", "Error", "StartedAt", "FinishedAt"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, a := range attempts {
		record := []string{
			a.ID(),
			a.Provider,
			a.Event.String(),
			musicID(a.MusicID),
			a.Err,
			a.StartedAt.UTC().Format(time.RFC3339),
			finished(a.FinishedAt),
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

// ExportAttemptsText renders attempts as a numbered plain text list, newest first as given.
func ExportAttemptsText(attempts []*models.LoginAttempt) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Login attempts: %d\n\n", len(attempts)))

	for i, a := range attempts {
		line := fmt.Sprintf("%d. [%s] %s %s", i+1, a.StartedAt.UTC().Format(time.DateTime), a.Provider, a.Event)
		if a.MusicID != 0 {
			line += fmt.Sprintf(" (musicid %d)", a.MusicID)
		}
		if a.Err != "" {
			line += ": " + a.Err
		}
		buf.WriteString(line + "\n")
	}

	return buf.Bytes(), nil
}

// WriteAttemptsCSV writes the CSV export to path.
func WriteAttemptsCSV(attempts []*models.LoginAttempt, path string) error {
	data, err := ExportAttemptsCSV(attempts)
	if err != nil {
		return fmt.Errorf("failed to generate CSV: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return nil
}

func musicID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func finished(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
