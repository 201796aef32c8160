package cli

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/photo-album/internal/logging"
	"github.com/menta2k/photo-album/internal/utils"
	"github.com/menta2k/photo-album/pkg/geometry"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/types"
)

type cropOptions struct {
	crop     types.CropArea
	rotation float64
	outDir   string
	format   string
	quality  int
	lossless bool
	strict   bool
	origin   string
	jobs     int
}

func (c *CLI) cropCommand() *cobra.Command {
	var opts cropOptions

	cmd := &cobra.Command{
		Use:   "crop [flags] <image|dir|url>...",
		Short: "Rotate and crop images",
		Long: `Rotate each input clockwise about its center and cut out the crop
rectangle, measured in post-rotation pixels. Directories are walked for
image files; http(s) URLs are downloaded.`,
		Example: `  photo-album crop --x 120 --y 40 --width 800 --height 450 --rotation 12 photo.jpg
  photo-album crop --width 1200 --height 675 --format webp --out crops/ album/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCrop(cmd, args, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.crop.X, "x", 0, "crop left edge (px)")
	f.IntVar(&opts.crop.Y, "y", 0, "crop top edge (px)")
	f.IntVar(&opts.crop.Width, "width", 0, "crop width (px)")
	f.IntVar(&opts.crop.Height, "height", 0, "crop height (px)")
	f.Float64Var(&opts.rotation, "rotation", 0, "clockwise rotation in degrees")
	f.StringVarP(&opts.outDir, "out", "o", "out", "output directory")
	f.StringVar(&opts.format, "format", "", "output format: jpg|png|webp (default from config)")
	f.IntVar(&opts.quality, "quality", 0, "JPEG/WebP quality 1-100 (default from config)")
	f.BoolVar(&opts.lossless, "lossless", false, "lossless WebP output")
	f.BoolVar(&opts.strict, "strict", false, "fail when the crop leaves the rotated canvas instead of clipping")
	f.StringVar(&opts.origin, "origin", "", "crop origin: bounds|canvas (default from config)")
	f.IntVarP(&opts.jobs, "jobs", "j", runtime.NumCPU(), "images processed in parallel")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}

func (c *CLI) runCrop(cmd *cobra.Command, args []string, opts cropOptions) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if opts.format != "" {
		cfg.Geometry.Format = opts.format
	}
	if opts.quality != 0 {
		cfg.Geometry.Quality = opts.quality
	}
	if opts.origin != "" {
		cfg.Geometry.Origin = opts.origin
	}
	cfg.Geometry.Lossless = cfg.Geometry.Lossless || opts.lossless
	cfg.Geometry.Strict = cfg.Geometry.Strict || opts.strict
	if err := cfg.Validate(); err != nil {
		return err
	}
	tcfg, err := cfg.TransformerConfig()
	if err != nil {
		return err
	}

	if err := geometry.ValidateCrop(opts.crop); err != nil {
		return err
	}
	if _, err := geometry.NormalizeRotation(opts.rotation); err != nil {
		return err
	}

	inputs, err := utils.ExpandInputs(args)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no images found in %v", args)
	}
	if err := utils.EnsureDir(opts.outDir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	transformer := geometry.NewWithConfig(processing.NewProcessorWithConfig(cfg.ProcessorConfig()), tcfg)
	ext := processing.Extension(tcfg.Format)
	progress := logging.NewProgress(logger)

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.jobs, 1))
	for _, in := range inputs {
		g.Go(func() error {
			out, err := transformer.Transform(gctx, in, opts.crop, opts.rotation)
			if err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			path := utils.GenerateOutputFilename(in, opts.outDir, "", "_crop", ext)
			if err := os.WriteFile(path, out.Data, 0o644); err != nil {
				return fmt.Errorf("%s: %w", in, err)
			}
			logger.Debug("wrote crop", "input", in, "output", path,
				"size", utils.FormatFileSize(int64(len(out.Data))), "dims", fmt.Sprintf("%dx%d", out.Width, out.Height))
			mu.Lock()
			done++
			fmt.Fprintln(cmd.OutOrStdout(), path)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	progress.Done(fmt.Sprintf("Cropped %d image(s)", done))
	return nil
}
