package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// optionsFile is the YAML shape accepted by `imagekit run`. It embeds the transform
// options and adds a path field so an image watermark need not be inlined as bytes.
type optionsFile struct {
	domain.TransformOptions `yaml:",inline"`
	WatermarkImage          string `yaml:"watermark_image,omitempty"`
}

func (a *app) runCommand() *cobra.Command {
	var optionsPath string
	cmd := &cobra.Command{
		Use:   "run <files...>",
		Short: "Apply transform options from a YAML file",
		Long: `Apply the transform described in a YAML options file, for example:

  kind: resize
  resize:
    width: 1200
    keep_aspect_ratio: true

An image watermark may reference a file with the top-level watermark_image key.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptionsFile(optionsPath)
			if err != nil {
				return err
			}
			return a.execute(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&optionsPath, "options", "", "path to a YAML options file")
	_ = cmd.MarkFlagRequired("options")
	return cmd
}

func loadOptionsFile(path string) (domain.TransformOptions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.TransformOptions{}, fmt.Errorf("read options: %w", err)
	}
	return parseOptions(raw, filepath.Dir(path))
}

// parseOptions decodes raw YAML strictly. Relative watermark_image paths resolve against baseDir.
func parseOptions(raw []byte, baseDir string) (domain.TransformOptions, error) {
	var file optionsFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return domain.TransformOptions{}, fmt.Errorf("%w: parse options: %v", domain.ErrInvalidOptions, err)
	}

	opts := file.TransformOptions
	if file.WatermarkImage != "" {
		if opts.Watermark == nil || opts.Watermark.Image == nil {
			return domain.TransformOptions{}, fmt.Errorf("%w: watermark_image requires a watermark.image block", domain.ErrInvalidOptions)
		}
		path := file.WatermarkImage
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return domain.TransformOptions{}, fmt.Errorf("%w: read watermark image: %v", domain.ErrResourceLoad, err)
		}
		mark := *opts.Watermark.Image
		mark.Data = data
		wm := *opts.Watermark
		wm.Image = &mark
		opts.Watermark = &wm
	}

	if err := opts.Validate(); err != nil {
		return domain.TransformOptions{}, err
	}
	return opts, nil
}
