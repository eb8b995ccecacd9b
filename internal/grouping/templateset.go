package grouping

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/docbatch/backend/internal/storage"
)

// TemplateSet describes how grouped documents are laid out: which column
// groups rows, which columns fill the repeated slots, and which template
// serves each slot count.
type TemplateSet struct {
	KeyField   string            `yaml:"key_field" json:"keyField"`
	MaxSlots   int               `yaml:"max_slots" json:"maxSlots"`
	SlotFields map[string]string `yaml:"slot_fields" json:"slotFields"` // placeholder -> column
	Templates  map[int]string    `yaml:"templates" json:"templates"`
	Pattern    string            `yaml:"template_pattern" json:"templatePattern"` // %d is the slot count
	Filename   string            `yaml:"filename" json:"filename"`                // {key}, {n}, {total}
}

// DefaultTemplateSet matches the customer letter layout: up to six phone
// numbers per letter.
func DefaultTemplateSet() *TemplateSet {
	return &TemplateSet{
		KeyField: "Cliente",
		MaxSlots: 6,
		SlotFields: map[string]string{
			"NUMERO": "Número",
			"ICCID":  "ICCID",
		},
		Pattern:  "carta_%d_numeros.svg",
		Filename: "{key}_carta_{n}",
	}
}

// LoadTemplateSet reads a template set from a YAML file. Fields missing from
// the file keep their defaults.
func LoadTemplateSet(path string) (*TemplateSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseTemplateSet(file)
}

// ParseTemplateSet reads a template set from r.
func ParseTemplateSet(r io.Reader) (*TemplateSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var set TemplateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing template set: %w", err)
	}
	set.applyDefaults()
	if set.MaxSlots < 1 {
		return nil, fmt.Errorf("max_slots must be at least 1, got %d", set.MaxSlots)
	}
	return &set, nil
}

func (s *TemplateSet) applyDefaults() {
	d := DefaultTemplateSet()
	if s.KeyField == "" {
		s.KeyField = d.KeyField
	}
	if s.MaxSlots == 0 {
		s.MaxSlots = d.MaxSlots
	}
	if len(s.SlotFields) == 0 {
		s.SlotFields = d.SlotFields
	}
	if s.Pattern == "" && len(s.Templates) == 0 {
		s.Pattern = d.Pattern
	}
	if s.Filename == "" {
		s.Filename = d.Filename
	}
}

// TemplateFor returns the template name for a slot count. An explicit entry
// wins over the pattern.
func (s *TemplateSet) TemplateFor(slots int) string {
	if name, ok := s.Templates[slots]; ok {
		return name
	}
	if s.Pattern == "" {
		return ""
	}
	return fmt.Sprintf(s.Pattern, slots)
}

// OutputName returns the archive entry name (without extension) for a.
func (s *TemplateSet) OutputName(a Assignment) string {
	pattern := s.Filename
	if pattern == "" {
		pattern = "{key}_carta_{n}"
	}
	name := strings.NewReplacer(
		"{key}", a.Key,
		"{n}", strconv.Itoa(a.Part),
		"{total}", strconv.Itoa(a.Parts),
	).Replace(pattern)
	return storage.SanitizeFilename(name)
}
