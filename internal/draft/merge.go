// Package draft combines partial invoice drafts and renders them for the
// operator. Backend extraction and local parsing are redundant safety nets:
// the merge prefers authoritative server data without discarding a field
// only the local side recovered.
package draft

import "github.com/medbridge/claimsync/internal/domain"

// Merge combines a server-supplied partial draft s with a locally-parsed
// partial draft l into one draft. Either side may be nil. Precedence is
// field-level: scalars take s when non-empty, lists take s's list only when
// non-empty (lists are never concatenated across sources), the patient
// record merges field by field, and the missing list is the set union of
// both sources' missing lists.
func Merge(s, l *domain.Draft) *domain.Draft {
	if s == nil && l == nil {
		return nil
	}
	if s == nil {
		out := *l
		return &out
	}
	if l == nil {
		out := *s
		return &out
	}

	out := &domain.Draft{
		Patient: domain.Patient{
			FullName: pick(s.Patient.FullName, l.Patient.FullName),
			SSN:      pick(s.Patient.SSN, l.Patient.SSN),
		},
		Hospital:      pick(s.Hospital, l.Hospital),
		DateOfService: pick(s.DateOfService, l.DateOfService),
	}

	if len(s.Diagnoses) > 0 {
		out.Diagnoses = s.Diagnoses
	} else {
		out.Diagnoses = l.Diagnoses
	}
	if len(s.Procedures) > 0 {
		out.Procedures = s.Procedures
	} else {
		out.Procedures = l.Procedures
	}

	out.Totals = mergeTotals(s.Totals, l.Totals)
	out.Missing = unionMissing(s.Missing, l.Missing)
	out.Ready = s.Ready && len(out.Missing) == 0

	return out
}

func pick(s, l string) string {
	if s != "" {
		return s
	}
	return l
}

func mergeTotals(s, l domain.Totals) domain.Totals {
	out := l
	if s.Subtotal != 0 {
		out.Subtotal = s.Subtotal
	}
	if s.Discount != 0 {
		out.Discount = s.Discount
	}
	if s.Tax != 0 {
		out.Tax = s.Tax
	}
	if s.Total != 0 {
		out.Total = s.Total
	}
	return out
}

// unionMissing keeps first-seen insertion order; the result is a set.
func unionMissing(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, lst := range [][]string{a, b} {
		for _, f := range lst {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}
