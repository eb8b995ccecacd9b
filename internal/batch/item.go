package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/docbatch/backend/internal/grouping"
	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/render"
	"github.com/docbatch/backend/internal/storage"
)

// Item is one document to produce.
type Item struct {
	Index    int
	Name     string // archive entry name without extension
	Template string // empty selects the built-in letter
	Record   models.Record
	Group    *grouping.Assignment
	Slots    map[string]string // placeholder -> column, grouped items only
	// Strict disables renderer fallbacks for this item.
	Strict bool
}

// Filler returns a fresh filler for the item.
func (it Item) Filler() render.Filler {
	if it.Group != nil {
		return render.NewSlotFiller(it.Group.Globals(), it.Group.SlotValues(it.Slots))
	}
	return render.NewRecordFiller(it.Record)
}

// Naming derives archive entry names from a record column.
type Naming struct {
	Field  string
	Prefix string
}

// Name returns Prefix+value of Field, or Prefix plus the zero-padded
// 1-based row number when the field is missing or empty.
func (n Naming) Name(rec models.Record, index int) string {
	v := ""
	if n.Field != "" {
		v = strings.TrimSpace(rec.String(n.Field))
	}
	if v == "" {
		v = fmt.Sprintf("%03d", index+1)
	}
	return storage.SanitizeFilename(n.Prefix + v)
}

// RecordItems builds one item per record.
func RecordItems(records []models.Record, template string, naming Naming) []Item {
	items := make([]Item, len(records))
	for i, rec := range records {
		items[i] = Item{
			Index:    i,
			Name:     naming.Name(rec, i),
			Template: template,
			Record:   rec,
		}
	}
	return items
}

// GroupItems builds one item per assignment. A non-empty template overrides
// the set's per-slot-count choice.
func GroupItems(assignments []grouping.Assignment, set *grouping.TemplateSet, template string) []Item {
	items := make([]Item, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		name := template
		if name == "" {
			name = set.TemplateFor(a.Slots)
		}
		items[i] = Item{
			Index:    i,
			Name:     set.OutputName(*a),
			Template: name,
			Group:    a,
			Slots:    set.SlotFields,
		}
	}
	return items
}

// uniqueNames appends _2, _3, ... to repeated names so no archive entry is
// overwritten.
type uniqueNames map[string]int

func (u uniqueNames) next(name string) string {
	key := strings.ToLower(name)
	n := u[key]
	u[key] = n + 1
	if n == 0 {
		return name
	}
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name, ext = name[:i], name[i:]
	}
	candidate := name + "_" + strconv.Itoa(n+1)
	// a generated name can itself collide with a later literal one
	for u[strings.ToLower(candidate+ext)] > 0 {
		n++
		candidate = name + "_" + strconv.Itoa(n+1)
	}
	u[strings.ToLower(candidate+ext)] = 1
	return candidate + ext
}
