package simulation

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/trialforge-ai/platform/pkg/schema"
)

// ExportCSV streams the cohort with per-patient outcomes as CSV, one row per
// enrolled patient, attributes in schema order.
func ExportCSV(w io.Writer, run *Run, sch schema.Schema) error {
	names := sch.Names()
	header := append([]string{"patient_id"}, names...)
	header = append(header, "baseline", "delta", "outcome")

	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}

	outcomeByID := make(map[string]PatientOutcome, len(run.Outcomes))
	for _, outcome := range run.Outcomes {
		outcomeByID[outcome.PatientID] = outcome
	}

	for _, patient := range run.Cohort {
		row := make([]string, 0, len(header))
		row = append(row, patient.ID)
		for _, name := range names {
			if value, ok := patient.Attribute(name); ok {
				row = append(row, value.String())
			} else {
				row = append(row, "")
			}
		}
		outcome := outcomeByID[patient.ID]
		row = append(row,
			fmt.Sprintf("%.2f", outcome.Baseline),
			fmt.Sprintf("%.2f", outcome.Delta),
			string(outcome.Class),
		)
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
