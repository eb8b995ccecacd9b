package render

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/docbatch/backend/internal/models"
)

var placeholderRe = regexp.MustCompile(`\[([^\[\]\r\n]+)\]`)

// Filler replaces [KEY] placeholders in text. Fillers may carry state across
// calls within one document; Reset rewinds that state before a new attempt.
type Filler interface {
	Fill(text string) string
	Reset()
}

// HasPlaceholder reports whether text contains a [KEY] token.
func HasPlaceholder(text string) bool {
	return placeholderRe.MatchString(text)
}

// Placeholders returns the distinct keys referenced by text, in order.
func Placeholders(text string) []string {
	var keys []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// RecordFiller replaces every [COLUMN] with the record's value for that
// column, column names upper-cased. Unknown placeholders are left as is.
type RecordFiller struct {
	values map[string]string
}

// NewRecordFiller builds a filler for one record.
func NewRecordFiller(rec models.Record) *RecordFiller {
	values := make(map[string]string, rec.Len())
	for _, f := range rec.Fields() {
		key := strings.ToUpper(f.Name)
		if _, dup := values[key]; dup {
			continue
		}
		values[key] = models.FormatValue(f.Value)
	}
	return &RecordFiller{values: values}
}

func (f *RecordFiller) Fill(text string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := f.values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

func (f *RecordFiller) Reset() {}

// SlotFiller fills a template that has several copies of the same
// placeholder. Global keys are replaced everywhere. Slot keys take the next
// value on each occurrence in document order; occurrences past the last
// value become empty. An indexed key such as [NUMERO_2] addresses a slot
// directly and does not move the cursor.
type SlotFiller struct {
	globals map[string]string
	slots   map[string][]string
	cursor  map[string]int
}

// NewSlotFiller builds a slot filler. Keys must be upper-case.
func NewSlotFiller(globals map[string]string, slots map[string][]string) *SlotFiller {
	return &SlotFiller{
		globals: globals,
		slots:   slots,
		cursor:  make(map[string]int, len(slots)),
	}
}

func (f *SlotFiller) Fill(text string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		if values, ok := f.slots[key]; ok {
			i := f.cursor[key]
			f.cursor[key] = i + 1
			if i < len(values) {
				return values[i]
			}
			return ""
		}
		if v, ok := f.globals[key]; ok {
			return v
		}
		if v, ok := f.indexed(key); ok {
			return v
		}
		return m
	})
}

func (f *SlotFiller) indexed(key string) (string, bool) {
	sep := strings.LastIndexByte(key, '_')
	if sep <= 0 {
		return "", false
	}
	values, ok := f.slots[key[:sep]]
	if !ok {
		return "", false
	}
	n, err := strconv.Atoi(key[sep+1:])
	if err != nil || n < 1 {
		return "", false
	}
	if n > len(values) {
		return "", true
	}
	return values[n-1], true
}

func (f *SlotFiller) Reset() {
	clear(f.cursor)
}
