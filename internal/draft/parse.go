package draft

import (
	"regexp"
	"strings"
	"time"

	"github.com/medbridge/claimsync/internal/domain"
	"github.com/medbridge/claimsync/internal/tariff"
)

// Parser extracts a partial draft from operator free text. It is a
// heuristic safety net for backend replies that omit structure; anything
// it cannot recognize is simply left out of the draft.
type Parser struct {
	tariff tariff.Table
}

// NewParser creates a free-text parser over the given tariff vocabulary.
func NewParser(t tariff.Table) *Parser {
	if t == nil {
		t = tariff.Synthetic
	}
	return &Parser{tariff: t}
}

var (
	ssnPattern       = regexp.MustCompile(`\b(\d{3})[-. ]?(\d{2})[-. ]?(\d{4})\b`)
	diagnosisPattern = regexp.MustCompile(`\b[A-Z]\d{2}(?:\.\d+[A-Z]?)?\b`)
	namePattern      = regexp.MustCompile(`(?i)(?:patient(?:'s)?(?: name)?(?: is|:)?|name(?: is|:))\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){1,2})`)
	datePattern      = regexp.MustCompile(`\b(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]\d{4})\b`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"02/01/2006",
	"01/02/2006",
	"02.01.2006",
}

// Parse scans text for patient details, a diagnosis code, a service date
// and known procedure names. It returns nil when nothing was recognized.
func (p *Parser) Parse(text string) *domain.Draft {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	d := &domain.Draft{}
	found := false

	if m := namePattern.FindStringSubmatch(text); m != nil {
		d.Patient.FullName = m[1]
		found = true
	}
	if m := ssnPattern.FindStringSubmatch(text); m != nil {
		d.Patient.SSN = NormalizeSSN(m[0])
		found = true
	}
	if m := diagnosisPattern.FindString(text); m != "" {
		d.Diagnoses = []string{m}
		found = true
	}
	if m := datePattern.FindString(text); m != "" {
		if normalized := NormalizeDate(m); normalized != "" {
			d.DateOfService = normalized
			found = true
		}
	}

	lower := strings.ToLower(text)
	for _, name := range p.tariff.Names() {
		if strings.Contains(lower, strings.ToLower(name)) {
			d.Procedures = append(d.Procedures, domain.Procedure{
				Name:      name,
				Units:     1,
				UnitPrice: p.tariff[name],
			})
			found = true
		}
	}

	if !found {
		return nil
	}
	d.Recompute(0)
	return d
}

// NormalizeSSN strips everything but digits.
func NormalizeSSN(ssn string) string {
	var b strings.Builder
	for _, r := range ssn {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeDate converts a recognized date string to YYYY-MM-DD, or ""
// when no known layout matches.
func NormalizeDate(text string) string {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
