package domain

import "math"

// Required draft fields, by the names reported in Missing.
const (
	FieldPatientName   = "patient_name"
	FieldPatientSSN    = "patient_ssn"
	FieldDiagnosis     = "diagnosis"
	FieldProcedures    = "procedures"
	FieldHospital      = "hospital"
	FieldDateOfService = "date_of_service"
)

// RequiredFields are the fields a draft must carry before it can be
// approved and submitted.
var RequiredFields = []string{
	FieldPatientName,
	FieldPatientSSN,
	FieldDiagnosis,
	FieldProcedures,
}

// Patient identifies the person the claim is billed for.
type Patient struct {
	FullName string `json:"full_name,omitempty"`
	SSN      string `json:"ssn,omitempty"`
}

// Procedure is one billable line item.
type Procedure struct {
	Name        string  `json:"name"`
	Units       int     `json:"units"`
	UnitPrice   float64 `json:"unit_price"`
	DiscountPct float64 `json:"discount_pct,omitempty"`
	LineTotal   float64 `json:"line_total"`
}

// Totals are the computed money fields of a draft.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
}

// Draft is the accumulated, partially-complete structured data describing a
// claim's billable content. Missing and Ready are derived fields: callers
// must go through Recompute rather than maintain them by hand.
type Draft struct {
	Patient       Patient     `json:"patient"`
	Hospital      string      `json:"hospital,omitempty"`
	DateOfService string      `json:"date_of_service,omitempty"`
	Diagnoses     []string    `json:"diagnoses,omitempty"`
	Procedures    []Procedure `json:"procedures,omitempty"`
	Totals        Totals      `json:"totals"`
	Ready         bool        `json:"ready_for_submission"`
	Missing       []string    `json:"missing_fields"`
}

// Recompute derives line totals, invoice totals, the missing-field list and
// the ready flag from the draft's current field set. taxRate is a fraction
// (0.1 for 10%) applied after discounts.
func (d *Draft) Recompute(taxRate float64) {
	var subtotal, discount float64
	for i := range d.Procedures {
		p := &d.Procedures[i]
		if p.Units <= 0 {
			p.Units = 1
		}
		gross := float64(p.Units) * p.UnitPrice
		off := gross * p.DiscountPct / 100
		p.LineTotal = round2(gross - off)
		subtotal += gross
		discount += off
	}
	taxable := subtotal - discount
	d.Totals = Totals{
		Subtotal: round2(subtotal),
		Discount: round2(discount),
		Tax:      round2(taxable * taxRate),
	}
	d.Totals.Total = round2(taxable + d.Totals.Tax)

	d.Missing = d.missingFields()
	d.Ready = len(d.Missing) == 0
}

func (d *Draft) missingFields() []string {
	var missing []string
	if d.Patient.FullName == "" {
		missing = append(missing, FieldPatientName)
	}
	if d.Patient.SSN == "" {
		missing = append(missing, FieldPatientSSN)
	}
	if len(d.Diagnoses) == 0 {
		missing = append(missing, FieldDiagnosis)
	}
	if len(d.Procedures) == 0 {
		missing = append(missing, FieldProcedures)
	}
	return missing
}

// Complete reports whether every required field is present. It inspects the
// field set directly so it stays correct even on drafts that were never
// recomputed.
func (d *Draft) Complete() bool {
	return len(d.missingFields()) == 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
