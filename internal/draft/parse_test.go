package draft

import (
	"testing"

	"github.com/medbridge/claimsync/internal/tariff"
)

func TestParseExtractsPatientDetails(t *testing.T) {
	p := NewParser(tariff.Synthetic)

	d := p.Parse("Patient is John Smith, SSN 123-45-6789, diagnosed S52.501A on 2025-03-14, took an X-ray forearm")
	if d == nil {
		t.Fatal("Parse() = nil, want a draft")
	}
	if d.Patient.FullName != "John Smith" {
		t.Errorf("full name = %q, want John Smith", d.Patient.FullName)
	}
	if d.Patient.SSN != "123456789" {
		t.Errorf("ssn = %q, want digits only", d.Patient.SSN)
	}
	if len(d.Diagnoses) != 1 || d.Diagnoses[0] != "S52.501A" {
		t.Errorf("diagnoses = %v, want [S52.501A]", d.Diagnoses)
	}
	if d.DateOfService != "2025-03-14" {
		t.Errorf("date = %q, want 2025-03-14", d.DateOfService)
	}
	if len(d.Procedures) != 1 || d.Procedures[0].Name != "X-ray forearm" {
		t.Fatalf("procedures = %v, want the tariff entry", d.Procedures)
	}
	if d.Procedures[0].UnitPrice != 300 {
		t.Errorf("unit price = %v, want the tariff price 300", d.Procedures[0].UnitPrice)
	}
}

func TestParseUnrecognizedText(t *testing.T) {
	p := NewParser(nil)

	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "whitespace", in: "   "},
		{name: "small talk", in: "thanks, that looks fine to me"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := p.Parse(tt.in); d != nil {
				t.Errorf("Parse(%q) = %+v, want nil", tt.in, d)
			}
		})
	}
}

func TestParsePartialInformation(t *testing.T) {
	p := NewParser(tariff.Synthetic)

	d := p.Parse("the patient name is Jane Doe")
	if d == nil {
		t.Fatal("Parse() = nil, want a draft")
	}
	if d.Patient.FullName != "Jane Doe" {
		t.Errorf("full name = %q, want Jane Doe", d.Patient.FullName)
	}
	if d.Ready {
		t.Error("a partial draft must not be ready")
	}
	if len(d.Missing) == 0 {
		t.Error("partial draft should list missing fields")
	}
}

func TestNormalizeSSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123-45-6789", "123456789"},
		{"123 45 6789", "123456789"},
		{"123456789", "123456789"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSSN(tt.in); got != tt.want {
			t.Errorf("NormalizeSSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-03-14", "2025-03-14"},
		{"2025/03/14", "2025-03-14"},
		{"14-03-2025", "2025-03-14"},
		{"14.03.2025", "2025-03-14"},
		{"not a date", ""},
	}
	for _, tt := range tests {
		if got := NormalizeDate(tt.in); got != tt.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
