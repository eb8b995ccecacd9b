package grouping

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbatch/backend/internal/models"
)

func rows(seq ...string) []models.Record {
	cols := []string{"Cliente", "Número", "ICCID"}
	var out []models.Record
	for i, key := range seq {
		out = append(out, models.NewRecord(cols, []any{key, fmt.Sprintf("9100%02d", i), fmt.Sprintf("8935%02d", i)}))
	}
	return out
}

func TestGroupAndAssign(t *testing.T) {
	recs := rows(
		"João", "João", "João",
		"Maria", "Maria", "Maria", "Maria", "Maria", "Maria", "Maria",
		"Pedro",
		"Ana", "Ana",
	)

	got := GroupAndAssign(recs, "Cliente", 6)
	require.Len(t, got, 5)

	tests := []struct {
		key    string
		n      int
		slots  int
		choice Choice
		part   int
		parts  int
	}{
		{"João", 3, 3, ChoiceExact, 1, 1},
		{"Maria", 6, 6, ChoiceSplit, 1, 2},
		{"Maria", 1, 6, ChoiceSplit, 2, 2},
		{"Pedro", 1, 1, ChoiceSingle, 1, 1},
		{"Ana", 2, 2, ChoiceExact, 1, 1},
	}
	for i, tt := range tests {
		a := got[i]
		assert.Equal(t, tt.key, a.Key, "assignment %d", i)
		assert.Len(t, a.Values, tt.n, "assignment %d", i)
		assert.Equal(t, tt.slots, a.Slots, "assignment %d", i)
		assert.Equal(t, tt.choice, a.Choice, "assignment %d", i)
		assert.Equal(t, tt.part, a.Part, "assignment %d", i)
		assert.Equal(t, tt.parts, a.Parts, "assignment %d", i)
	}

	// row order within a group is preserved across parts
	assert.Equal(t, "910003", got[1].Values[0].String("Número"))
	assert.Equal(t, "910009", got[2].Values[0].String("Número"))
}

func TestGroupAndAssign_Properties(t *testing.T) {
	keys := []string{"a", "b", "c", "d"}
	for maxSlots := 1; maxSlots <= 7; maxSlots++ {
		for n := 0; n <= 30; n++ {
			var seq []string
			for i := 0; i < n; i++ {
				seq = append(seq, keys[(i*i+i/3)%len(keys)])
			}
			recs := rows(seq...)
			got := GroupAndAssign(recs, "Cliente", maxSlots)

			total := 0
			for _, a := range got {
				total += len(a.Values)
				assert.LessOrEqual(t, len(a.Values), a.Slots)
				assert.LessOrEqual(t, a.Slots, maxSlots)
				assert.NotEmpty(t, a.Values)
			}
			assert.Equal(t, n, total, "every row assigned exactly once (max=%d n=%d)", maxSlots, n)
			assert.Equal(t, got, GroupAndAssign(recs, "Cliente", maxSlots), "deterministic")
		}
	}
}

func TestAssignment_Fillers(t *testing.T) {
	got := GroupAndAssign(rows("ACME", "ACME"), "Cliente", 6)
	require.Len(t, got, 1)

	g := got[0].Globals()
	assert.Equal(t, "ACME", g["CLIENTE"])
	assert.Equal(t, "1", g["NUMERO_CARTA"])
	assert.Equal(t, "1", g["TOTAL_CARTAS"])

	slots := got[0].SlotValues(DefaultTemplateSet().SlotFields)
	assert.Equal(t, []string{"910000", "910001"}, slots["NUMERO"])
	assert.Equal(t, []string{"893500", "893501"}, slots["ICCID"])
}

func TestParseTemplateSet(t *testing.T) {
	set, err := ParseTemplateSet(strings.NewReader(`
key_field: Conta
max_slots: 4
slot_fields:
  TELEFONE: Telefone
templates:
  1: carta_simples.docx
filename: "{key}-{n}de{total}"
`))
	require.NoError(t, err)

	assert.Equal(t, "Conta", set.KeyField)
	assert.Equal(t, 4, set.MaxSlots)
	assert.Equal(t, map[string]string{"TELEFONE": "Telefone"}, set.SlotFields)
	assert.Equal(t, "carta_simples.docx", set.TemplateFor(1))
	assert.Equal(t, "", set.TemplateFor(3), "explicit templates disable the default pattern")

	name := set.OutputName(Assignment{Key: "A/B", Part: 2, Parts: 3})
	assert.Equal(t, "A_B-2de3", name)
}

func TestParseTemplateSet_Defaults(t *testing.T) {
	set, err := ParseTemplateSet(strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, "carta_3_numeros.svg", set.TemplateFor(3))
	assert.Equal(t, "ACME_carta_1", set.OutputName(Assignment{Key: "ACME", Part: 1, Parts: 1}))

	_, err = ParseTemplateSet(strings.NewReader("max_slots: -2"))
	assert.Error(t, err)
}
