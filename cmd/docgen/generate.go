package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docbatch/backend/internal/app"
	"github.com/docbatch/backend/internal/batch"
	"github.com/docbatch/backend/internal/grouping"
	"github.com/docbatch/backend/internal/render"
)

type generateOptions struct {
	output        string
	template      string
	templatesDir  string
	grouped       bool
	strict        bool
	native        bool
	filenameField string
	group         groupFlags
}

func newGenerateCommand(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate <dataset>",
		Short: "Render every record and write the documents to a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, root, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "documents.zip", "archive to write")
	f.StringVarP(&opts.template, "template", "t", "", "template file (.docx or .svg); the built-in letter when empty")
	f.StringVar(&opts.templatesDir, "templates-dir", "", "directory with the grouped-mode templates")
	f.BoolVar(&opts.grouped, "grouped", false, "place several values per document")
	f.BoolVar(&opts.strict, "require-template", false, "fail documents instead of falling back")
	f.BoolVar(&opts.native, "native", false, "keep the template format instead of converting to PDF")
	f.StringVar(&opts.filenameField, "filename-field", "", "column used to name documents")
	opts.group.register(cmd)
	return cmd
}

func runGenerate(cmd *cobra.Command, root *rootOptions, opts *generateOptions, datasetPath string) error {
	cfg, cleanup, err := root.loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.templatesDir != "" {
		cfg.Storage.TemplatesDirectory = opts.templatesDir
	}
	if opts.native {
		cfg.Render.OutputFormat = render.FormatNative
	}
	if opts.filenameField != "" {
		cfg.Render.FilenameField = opts.filenameField
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, root.logger(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	template, err := importTemplate(a, opts.template)
	if err != nil {
		return err
	}
	if opts.strict && template == "" && !opts.grouped {
		return errors.New("--require-template needs --template")
	}

	ds, err := a.Datasets.Load(ctx, datasetPath)
	if err != nil {
		return err
	}

	var items []batch.Item
	if opts.grouped {
		set, err := opts.group.templateSet(a.TemplateSet)
		if err != nil {
			return err
		}
		items = batch.GroupItems(grouping.GroupAndAssign(ds.Records, set.KeyField, set.MaxSlots), set, template)
	} else {
		items = batch.RecordItems(ds.Records, template, a.Naming)
	}
	for i := range items {
		items[i].Strict = opts.strict
	}

	j, err := a.Coordinator.Execute(ctx, items)
	if err != nil {
		return err
	}
	if err := moveFile(j.ArchivePath, opts.output); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d documents written to %s", j.Completed, j.Total, opts.output)
	if j.Failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d failed)", j.Failed)
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

// importTemplate copies a template file into the template store and returns
// the name to resolve it by. Names that are not files are used as they are.
func importTemplate(a *app.App, template string) (string, error) {
	if template == "" {
		return "", nil
	}
	f, err := os.Open(template)
	if errors.Is(err, os.ErrNotExist) && filepath.Base(template) == template {
		return template, nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := a.Templates.Save(filepath.Base(template), f)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
