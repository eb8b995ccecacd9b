package models

import "time"

// FileKind distinguishes uploaded datasets from templates.
type FileKind string

const (
	FileKindDataset  FileKind = "dataset"
	FileKindTemplate FileKind = "template"
)

// FileInfo represents metadata about an uploaded file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       FileKind  `json:"kind"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}
