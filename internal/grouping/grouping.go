// Package grouping packs rows that share a key into multi-slot documents.
package grouping

import (
	"strings"

	"github.com/docbatch/backend/internal/models"
)

// Choice is how a group maps onto templates.
type Choice string

const (
	ChoiceSingle Choice = "single" // one row, one-slot template
	ChoiceExact  Choice = "exact"  // template with exactly as many slots as rows
	ChoiceSplit  Choice = "split"  // more rows than slots, several max-slot documents
)

// Assignment is one output document of a group.
type Assignment struct {
	Key    string
	Values []models.Record
	Slots  int // slot count of the template to use
	Choice Choice
	Part   int // 1-based
	Parts  int
}

// GroupAndAssign groups records by keyField and assigns each group to a
// template slot count. Groups appear in first-seen order and rows keep their
// input order. A group larger than maxSlots is split into parts of maxSlots
// rows; the last part leaves its unused slots empty.
func GroupAndAssign(records []models.Record, keyField string, maxSlots int) []Assignment {
	if maxSlots < 1 {
		maxSlots = 1
	}

	var order []string
	groups := make(map[string][]models.Record)
	for _, rec := range records {
		key := strings.TrimSpace(rec.String(keyField))
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}

	var out []Assignment
	for _, key := range order {
		rows := groups[key]
		switch n := len(rows); {
		case n == 1:
			out = append(out, Assignment{Key: key, Values: rows, Slots: 1, Choice: ChoiceSingle, Part: 1, Parts: 1})
		case n <= maxSlots:
			out = append(out, Assignment{Key: key, Values: rows, Slots: n, Choice: ChoiceExact, Part: 1, Parts: 1})
		default:
			parts := (n + maxSlots - 1) / maxSlots
			for p := 0; p < parts; p++ {
				end := min((p+1)*maxSlots, n)
				out = append(out, Assignment{
					Key:    key,
					Values: rows[p*maxSlots : end],
					Slots:  maxSlots,
					Choice: ChoiceSplit,
					Part:   p + 1,
					Parts:  parts,
				})
			}
		}
	}
	return out
}

// Globals returns the placeholder values shared by every slot: the upper-cased
// columns of the first row plus the part counters.
func (a Assignment) Globals() map[string]string {
	g := map[string]string{}
	if len(a.Values) > 0 {
		for _, f := range a.Values[0].Fields() {
			key := strings.ToUpper(f.Name)
			if _, dup := g[key]; !dup {
				g[key] = models.FormatValue(f.Value)
			}
		}
	}
	g["NUMERO_CARTA"] = itoa(a.Part)
	g["TOTAL_CARTAS"] = itoa(a.Parts)
	return g
}

// SlotValues returns, per placeholder, the value of the mapped column for each
// row in order.
func (a Assignment) SlotValues(fields map[string]string) map[string][]string {
	out := make(map[string][]string, len(fields))
	for placeholder, column := range fields {
		values := make([]string, len(a.Values))
		for i, rec := range a.Values {
			values[i] = rec.String(column)
		}
		out[placeholder] = values
	}
	return out
}

func itoa(n int) string {
	return models.FormatValue(n)
}
