package draft

import (
	"fmt"
	"strings"

	"github.com/medbridge/claimsync/internal/domain"
)

// Summarize renders a draft as the operator-facing invoice summary: header,
// one line per procedure, totals, and a nudge listing any missing required
// fields.
func Summarize(d *domain.Draft) string {
	if d == nil {
		return "No draft yet. Describe the patient, diagnosis and procedures to start one."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s (SSN: %s)\n", orMissing(d.Patient.FullName), orMissing(d.Patient.SSN))
	fmt.Fprintf(&b, "Hospital: %s\n", orMissing(d.Hospital))
	fmt.Fprintf(&b, "Date of service: %s\n", orMissing(d.DateOfService))
	fmt.Fprintf(&b, "Diagnosis: %s\n", orMissing(strings.Join(d.Diagnoses, ", ")))

	if len(d.Procedures) == 0 {
		b.WriteString("Procedures: [missing]\n")
	} else {
		b.WriteString("Procedures:\n")
		for _, p := range d.Procedures {
			fmt.Fprintf(&b, "  - %s x%d: $%.2f\n", p.Name, p.Units, p.LineTotal)
		}
	}

	fmt.Fprintf(&b, "Total billed: $%.2f", d.Totals.Total)

	if len(d.Missing) > 0 {
		fmt.Fprintf(&b, "\nMissing required: %s. Please provide the missing info.", strings.Join(d.Missing, ", "))
	}

	return b.String()
}

func orMissing(s string) string {
	if s == "" {
		return "[missing]"
	}
	return s
}
