// Package tariff holds the hospital's procedure price table and fills
// unit prices into drafts whose line items arrived without one.
package tariff

import (
	"sort"
	"strings"

	"github.com/medbridge/claimsync/internal/domain"
)

// Table prices procedures by canonical name.
type Table map[string]float64

// Synthetic is the built-in tariff used when no external table is
// configured.
var Synthetic = Table{
	// Emergency & consults
	"ER visit low complexity":      250,
	"ER visit moderate complexity": 650,
	"ER visit high complexity":     1200,
	"Initial consult":              180,
	"Specialist consult":           320,
	// Imaging
	"X-ray forearm":                   300,
	"X-ray chest":                     220,
	"CT head without contrast":        950,
	"CT abdomen with contrast":        1400,
	"MRI knee without contrast":       1700,
	"MRI brain with/without contrast": 2400,
	// Labs
	"Complete blood count (CBC)":    60,
	"Comprehensive metabolic panel": 85,
	"Lipid panel":                   90,
	"HbA1c":                         55,
	// Procedures / surgery
	"Forearm fracture reduction": 2100,
	"Laceration repair simple":   400,
	"Laceration repair complex":  1150,
	"Arthroscopy knee":           5200,
	// Therapy
	"Physical therapy session":     130,
	"Occupational therapy session": 140,
}

// matchCutoff is the minimum similarity ratio for a fuzzy tariff match.
const matchCutoff = 0.6

// Names returns the canonical procedure names in sorted order.
func (t Table) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BestMatch finds the closest canonical procedure name for a free-text
// procedure description. It tries an exact case-insensitive match first,
// then falls back to similarity matching with a cutoff. The second return
// is false when nothing matched closely enough.
func (t Table) BestMatch(freeText string) (string, bool) {
	freeText = strings.TrimSpace(freeText)
	if freeText == "" {
		return "", false
	}

	lower := strings.ToLower(freeText)
	for _, name := range t.Names() {
		if strings.ToLower(name) == lower {
			return name, true
		}
	}

	best, bestRatio := "", 0.0
	for _, name := range t.Names() {
		if r := similarity(lower, strings.ToLower(name)); r > bestRatio {
			best, bestRatio = name, r
		}
	}
	if bestRatio < matchCutoff {
		return "", false
	}
	return best, true
}

// Price returns the tariff price for a canonical name.
func (t Table) Price(name string) (float64, bool) {
	p, ok := t[name]
	return p, ok
}

// Complete fills unit prices for draft procedures that arrived without one,
// matching each name against the tariff. Matched lines are renamed to the
// canonical tariff name. It returns the names that could not be priced;
// those lines are kept untouched so the operator can supply an amount.
func (t Table) Complete(d *domain.Draft) []string {
	if d == nil {
		return nil
	}
	var unpriced []string
	for i := range d.Procedures {
		p := &d.Procedures[i]
		if p.UnitPrice > 0 || p.Name == "" {
			continue
		}
		name, ok := t.BestMatch(p.Name)
		if !ok {
			unpriced = append(unpriced, p.Name)
			continue
		}
		p.Name = name
		p.UnitPrice = t[name]
	}
	return unpriced
}

// similarity is the ratio of the longest common subsequence to the combined
// length, in [0,1]. 1 means identical strings.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}
