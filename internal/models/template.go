package models

import (
	"path/filepath"
	"strings"
)

// TemplateKind is the closed set of renderer variants.
type TemplateKind string

const (
	TemplateKindDOCX    TemplateKind = "docx"
	TemplateKindSVG     TemplateKind = "svg"
	TemplateKindBuiltin TemplateKind = "builtin"
)

// TemplateKindFor infers the kind from a template file name.
// Unknown extensions return false.
func TemplateKindFor(name string) (TemplateKind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".docx":
		return TemplateKindDOCX, true
	case ".svg":
		return TemplateKindSVG, true
	}
	return "", false
}
