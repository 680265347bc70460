// internal/csvio/reader.go
package csvio

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/unclebandit/mailleopard-backend/internal/model"
)

// ReadRecipients loads recipients from a CSV file. The header row defines the
// attribute schema; every data row becomes one attribute map. Short rows pad
// the missing columns with empty values, and fully blank rows are skipped.
func ReadRecipients(path string) ([]model.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv file %s is empty", path)
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	var recipients []model.Recipient
	for _, row := range records[1:] {
		blank := true
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}

		r := make(model.Recipient, len(header))
		for i, key := range header {
			if key == "" {
				continue
			}
			if i < len(row) {
				r[key] = strings.TrimSpace(row[i])
			} else {
				r[key] = ""
			}
		}
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("csv file %s has no recipient rows", path)
	}
	return recipients, nil
}
