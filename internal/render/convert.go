package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Converter turns a filled docx or svg into PDF.
type Converter interface {
	Name() string
	Convert(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// ExecConverter runs an external program in a scratch directory.
type ExecConverter struct {
	name    string
	binary  string
	tempDir string
	// args returns the command line for converting in and the path of the result.
	args func(in, dir string) ([]string, string)
}

// NewSofficeConverter converts with LibreOffice in headless mode. Each call
// gets its own profile directory so conversions can run in parallel.
func NewSofficeConverter(binary, tempDir string) *ExecConverter {
	if binary == "" {
		binary = "soffice"
	}
	return &ExecConverter{
		name:    "soffice",
		binary:  binary,
		tempDir: tempDir,
		args: func(in, dir string) ([]string, string) {
			out := strings.TrimSuffix(in, filepath.Ext(in)) + ".pdf"
			return []string{
				"-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(dir, "profile")),
				"--headless", "--convert-to", "pdf", "--outdir", dir, in,
			}, out
		},
	}
}

// NewRSVGConverter converts with rsvg-convert.
func NewRSVGConverter(binary, tempDir string) *ExecConverter {
	if binary == "" {
		binary = "rsvg-convert"
	}
	return &ExecConverter{
		name:    "rsvg",
		binary:  binary,
		tempDir: tempDir,
		args: func(in, dir string) ([]string, string) {
			out := filepath.Join(dir, "out.pdf")
			return []string{"-f", "pdf", "-o", out, in}, out
		},
	}
}

func (c *ExecConverter) Name() string { return c.name }

// Available reports whether the binary can be found.
func (c *ExecConverter) Available() bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

func (c *ExecConverter) Convert(ctx context.Context, data []byte, ext string) ([]byte, error) {
	bin, err := exec.LookPath(c.binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found", ErrBackendUnavailable, c.binary)
	}

	dir, err := os.MkdirTemp(c.tempDir, "convert-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "document"+ext)
	if err := os.WriteFile(in, data, 0644); err != nil {
		return nil, fmt.Errorf("writing converter input: %w", err)
	}

	args, out := c.args(in, dir)
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.name, err, strings.TrimSpace(stderr.String()))
	}

	pdf, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%s produced no output: %w", c.name, err)
	}
	return pdf, nil
}
