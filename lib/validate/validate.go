// Package validate checks extracted tables against a source's field
// mappings before anything downstream consumes them.
package validate

import (
	"fmt"
	"strings"

	"datafetch-backend/lib/sites"
	"datafetch-backend/lib/tabular"
)

// Failure collects every rule violation found in one table. Validation is
// exhaustive so operators see all defects at once instead of fixing them
// one rerun at a time.
type Failure struct {
	Source  string
	Reasons []string
}

func (f *Failure) Error() string {
	return fmt.Sprintf(
		"validation of %s failed: %s",
		f.Source, strings.Join(f.Reasons, "; "),
	)
}

// Check applies the descriptor's field rules to a table. A nil return
// means the table is acceptable.
func Check(d *sites.Descriptor, table *tabular.Table) *Failure {
	f := &Failure{Source: d.Id}

	if table.Empty() {
		f.Reasons = append(f.Reasons, "table has no rows")
		return f
	}

	for i, row := range table.Rows {
		checkRow(f, d, i, row)
	}
	checkTimeOrder(f, d, table)

	if len(f.Reasons) == 0 {
		return nil
	}
	return f
}

func checkRow(f *Failure, d *sites.Descriptor, i int, row tabular.Row) {
	for _, field := range d.Fields {
		v, present := row[field.Canonical]
		if !present {
			if field.Required {
				f.Reasons = append(f.Reasons, fmt.Sprintf(
					"row %d: required field %q is missing", i, field.Canonical,
				))
			}
			continue
		}

		switch field.Kind {
		case sites.FieldNumber:
			if v.Kind != tabular.KindNumber {
				f.Reasons = append(f.Reasons, fmt.Sprintf(
					"row %d: field %q is %s, expected number",
					i, field.Canonical, v.Kind,
				))
				continue
			}
			if field.Min != nil && v.Num < *field.Min {
				f.Reasons = append(f.Reasons, fmt.Sprintf(
					"row %d: field %q value %v is below minimum %v",
					i, field.Canonical, v.Num, *field.Min,
				))
			}
			if field.Max != nil && v.Num > *field.Max {
				f.Reasons = append(f.Reasons, fmt.Sprintf(
					"row %d: field %q value %v exceeds maximum %v",
					i, field.Canonical, v.Num, *field.Max,
				))
			}
		case sites.FieldTime:
			if v.Kind != tabular.KindTime {
				f.Reasons = append(f.Reasons, fmt.Sprintf(
					"row %d: field %q is %s, expected time",
					i, field.Canonical, v.Kind,
				))
			}
		}
	}
}

// checkTimeOrder enforces that every time field is non-decreasing down the
// table. Series data arrives sorted from every supported source, so an
// out-of-order timestamp indicates a parse or join defect.
func checkTimeOrder(f *Failure, d *sites.Descriptor, table *tabular.Table) {
	for _, field := range d.Fields {
		if field.Kind != sites.FieldTime {
			continue
		}

		hasPrev := false
		var prev tabular.Value
		for i, row := range table.Rows {
			v, present := row[field.Canonical]
			if !present || v.Kind != tabular.KindTime {
				continue
			}
			if hasPrev && v.Time.Before(prev.Time) {
				f.Reasons = append(f.Reasons, fmt.Sprintf(
					"row %d: field %q goes backwards in time (%s after %s)",
					i, field.Canonical,
					v.Format(), prev.Format(),
				))
			}
			prev = v
			hasPrev = true
		}
	}
}
