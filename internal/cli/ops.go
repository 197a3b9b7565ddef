package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dunamismax/imagekit/internal/domain"
	"github.com/spf13/cobra"
)

func (a *app) compressCommand() *cobra.Command {
	var (
		quality int
		format  string
	)
	cmd := &cobra.Command{
		Use:   "compress <files...>",
		Short: "Shrink images with size-tiered adaptive compression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := domain.ParseOutputFormat(format)
			if err != nil {
				return err
			}
			return a.execute(cmd, args, domain.TransformOptions{
				Kind:     domain.OpCompress,
				Compress: &domain.CompressOptions{Quality: quality, Format: f},
			})
		},
	}
	cmd.Flags().IntVarP(&quality, "quality", "q", domain.DefaultQuality, "base quality 1-100")
	cmd.Flags().StringVarP(&format, "format", "f", string(domain.FormatOriginal), "output format: original, jpeg, png, webp, bmp")
	return cmd
}

func (a *app) convertCommand() *cobra.Command {
	var (
		format  string
		quality float64
	)
	cmd := &cobra.Command{
		Use:   "convert <files...>",
		Short: "Re-encode images in another format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := domain.ParseOutputFormat(format)
			if err != nil {
				return err
			}
			return a.execute(cmd, args, domain.TransformOptions{
				Kind:    domain.OpConvert,
				Convert: &domain.ConvertOptions{Format: f, Quality: &quality},
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "target format: jpeg, png, webp, bmp")
	cmd.Flags().Float64VarP(&quality, "quality", "q", domain.DefaultConvertQuality, "lossy quality 0-1")
	_ = cmd.MarkFlagRequired("format")
	return cmd
}

func (a *app) resizeCommand() *cobra.Command {
	var opts domain.ResizeOptions
	cmd := &cobra.Command{
		Use:   "resize <files...>",
		Short: "Resize by width, height or percentage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Width == 0 && opts.Height == 0 && opts.ScalePercent == 0 {
				return fmt.Errorf("%w: one of --width, --height or --scale is required", domain.ErrInvalidOptions)
			}
			resize := opts
			return a.execute(cmd, args, domain.TransformOptions{Kind: domain.OpResize, Resize: &resize})
		},
	}
	cmd.Flags().IntVar(&opts.Width, "width", 0, "target width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "target height in pixels")
	cmd.Flags().Float64Var(&opts.ScalePercent, "scale", 0, "scale percentage, takes precedence over width and height")
	cmd.Flags().BoolVar(&opts.KeepAspectRatio, "keep-aspect", true, "derive the missing side from the source aspect ratio")
	return cmd
}

func (a *app) cropCommand() *cobra.Command {
	var (
		rect   string
		aspect string
	)
	cmd := &cobra.Command{
		Use:   "crop <files...>",
		Short: "Crop to a rectangle or a centred aspect ratio",
		Long: `Crop to an explicit rectangle (--rect x,y,w,h) or to the largest centred region
with the given aspect ratio (--aspect 16:9). With neither, the centred 80% is kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := domain.CropOptions{AspectRatio: aspect}
			if rect != "" {
				r, err := parseRect(rect)
				if err != nil {
					return err
				}
				opts.Rect = &r
			}
			return a.execute(cmd, args, domain.TransformOptions{Kind: domain.OpCrop, Crop: &opts})
		},
	}
	cmd.Flags().StringVar(&rect, "rect", "", "explicit rectangle x,y,width,height")
	cmd.Flags().StringVar(&aspect, "aspect", "", "aspect ratio A:B")
	cmd.MarkFlagsMutuallyExclusive("rect", "aspect")
	return cmd
}

func (a *app) watermarkCommand() *cobra.Command {
	var (
		text      domain.TextWatermark
		imagePath string
		mark      domain.ImageWatermark
		position  string
		opacity   float64
		offsetX   int
		offsetY   int
	)
	cmd := &cobra.Command{
		Use:   "watermark <files...>",
		Short: "Stamp a text or image watermark",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := domain.WatermarkOptions{}
			switch {
			case text.Text != "" && imagePath != "":
				return fmt.Errorf("%w: use either --text or --image", domain.ErrInvalidOptions)
			case text.Text != "":
				t := text
				t.Position, t.OpacityPct, t.OffsetX, t.OffsetY = domain.Position(position), &opacity, offsetX, offsetY
				opts.Text = &t
			case imagePath != "":
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return fmt.Errorf("%w: read watermark image: %v", domain.ErrResourceLoad, err)
				}
				m := mark
				m.Data = data
				m.Position, m.OpacityPct, m.OffsetX, m.OffsetY = domain.Position(position), &opacity, offsetX, offsetY
				opts.Image = &m
			default:
				return fmt.Errorf("%w: --text or --image is required", domain.ErrInvalidOptions)
			}
			return a.execute(cmd, args, domain.TransformOptions{Kind: domain.OpWatermark, Watermark: &opts})
		},
	}
	f := cmd.Flags()
	f.StringVar(&text.Text, "text", "", "watermark text")
	f.Float64Var(&text.FontSizePx, "font-size", 24, "text size in pixels")
	f.StringVar(&text.ColorHex, "color", "#ffffff", "text colour as hex")
	f.StringVar(&imagePath, "image", "", "watermark image file")
	f.Float64Var(&mark.ScalePct, "scale", 100, "watermark image scale percentage")
	f.StringVar(&position, "position", string(domain.PositionBottomRight), "top-left, top-right, bottom-left, bottom-right or center")
	f.Float64Var(&opacity, "opacity", domain.DefaultWatermarkOpacity, "opacity percentage 0-100")
	f.IntVar(&offsetX, "offset-x", 10, "horizontal margin from the anchor edge")
	f.IntVar(&offsetY, "offset-y", 10, "vertical margin from the anchor edge")
	return cmd
}

func (a *app) rotateCommand() *cobra.Command {
	var opts domain.RotateOptions
	cmd := &cobra.Command{
		Use:   "rotate <files...>",
		Short: "Rotate by a multiple of 90 degrees and optionally flip",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rotate := opts
			return a.execute(cmd, args, domain.TransformOptions{Kind: domain.OpRotate, Rotate: &rotate})
		},
	}
	cmd.Flags().IntVarP(&opts.Degrees, "degrees", "d", 90, "clockwise rotation: 0, 90, 180 or 270")
	cmd.Flags().BoolVar(&opts.FlipHorizontal, "flip-h", false, "mirror horizontally")
	cmd.Flags().BoolVar(&opts.FlipVertical, "flip-v", false, "mirror vertically")
	return cmd
}

func parseRect(in string) (domain.Rect, error) {
	parts := strings.Split(in, ",")
	if len(parts) != 4 {
		return domain.Rect{}, fmt.Errorf("%w: --rect must be x,y,width,height", domain.ErrInvalidOptions)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return domain.Rect{}, fmt.Errorf("%w: --rect value %q is not an integer", domain.ErrInvalidOptions, p)
		}
		vals[i] = v
	}
	return domain.Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
