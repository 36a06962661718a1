package tariff

import (
	"reflect"
	"testing"

	"github.com/medbridge/claimsync/internal/domain"
)

func TestBestMatch(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantHit  bool
	}{
		{name: "exact", input: "X-ray forearm", want: "X-ray forearm", wantHit: true},
		{name: "case insensitive", input: "x-RAY FOREARM", want: "X-ray forearm", wantHit: true},
		{name: "close free text", input: "xray of the forearm", want: "X-ray forearm", wantHit: true},
		{name: "er shorthand", input: "ER visit high", want: "ER visit high complexity", wantHit: true},
		{name: "no match", input: "quantum resonance scan of aura", wantHit: false},
		{name: "empty", input: "  ", wantHit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Synthetic.BestMatch(tt.input)
			if ok != tt.wantHit {
				t.Fatalf("BestMatch(%q) hit = %v, want %v (got %q)", tt.input, ok, tt.wantHit, got)
			}
			if ok && got != tt.want {
				t.Errorf("BestMatch(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	d := &domain.Draft{Procedures: []domain.Procedure{
		{Name: "x-ray forearm", Units: 1},
		{Name: "ER visit high complexity", Units: 1, UnitPrice: 999}, // already priced, untouched
		{Name: "experimental nanite infusion", Units: 1},
	}}

	unpriced := Synthetic.Complete(d)

	if d.Procedures[0].Name != "X-ray forearm" || d.Procedures[0].UnitPrice != 300 {
		t.Errorf("line 0 = %+v, want canonical name and tariff price", d.Procedures[0])
	}
	if d.Procedures[1].UnitPrice != 999 {
		t.Errorf("line 1 price = %v, priced lines must not be overwritten", d.Procedures[1].UnitPrice)
	}
	if !reflect.DeepEqual(unpriced, []string{"experimental nanite infusion"}) {
		t.Errorf("unpriced = %v", unpriced)
	}
}

func TestCompleteNilDraft(t *testing.T) {
	if got := Synthetic.Complete(nil); got != nil {
		t.Errorf("Complete(nil) = %v, want nil", got)
	}
}

func TestSimilarityBounds(t *testing.T) {
	if r := similarity("abc", "abc"); r != 1 {
		t.Errorf("identical strings ratio = %v, want 1", r)
	}
	if r := similarity("abc", ""); r != 0 {
		t.Errorf("empty side ratio = %v, want 0", r)
	}
}
