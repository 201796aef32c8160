package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/menta2k/photo-album/internal/logging"
	"github.com/menta2k/photo-album/internal/utils"
	"github.com/menta2k/photo-album/pkg/processing"
	"github.com/menta2k/photo-album/pkg/suggest"
	"github.com/menta2k/photo-album/pkg/types"
)

type suggestOptions struct {
	aspect  string
	backend string
	debug   bool
	outDir  string
}

type suggestResult struct {
	Input   string                `json:"input"`
	Width   int                   `json:"width"`
	Height  int                   `json:"height"`
	Aspect  float64               `json:"aspect"`
	Crop    types.CropArea        `json:"crop"`
	Subject *types.AnalysisResult `json:"subject,omitempty"`
	Overlay string                `json:"overlay,omitempty"`
}

func (c *CLI) suggestCommand() *cobra.Command {
	var opts suggestOptions

	cmd := &cobra.Command{
		Use:   "suggest [flags] <image|url>",
		Short: "Suggest an initial crop for an image",
		Long: `Print the suggested crop rectangle as JSON. The salient backend centers
the crop on the busiest region of the image; the ollama backend asks a
vision model for the main subject.`,
		Example: `  photo-album suggest --aspect 4:3 photo.jpg
  photo-album suggest --backend ollama --debug --out debug/ https://example.com/cat.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSuggest(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.aspect, "aspect", "", "crop aspect ratio, e.g. 16:9, 4/3 or 1.5 (default from config)")
	f.StringVar(&opts.backend, "backend", "", "none|salient|ollama (default from config)")
	f.BoolVar(&opts.debug, "debug", false, "write a PNG overlay of the subject box and the crop")
	f.StringVarP(&opts.outDir, "out", "o", "out", "directory for the debug overlay")
	return cmd
}

func (c *CLI) runSuggest(cmd *cobra.Command, input string, opts suggestOptions) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if opts.aspect != "" {
		cfg.Suggest.Aspect = opts.aspect
	}
	if opts.backend != "" {
		cfg.Suggest.Backend = opts.backend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	aspect, err := suggest.ParseAspect(cfg.Suggest.Aspect)
	if err != nil {
		return err
	}

	proc := processing.NewProcessorWithConfig(cfg.ProcessorConfig())
	suggester, model, err := newSuggester(ctx, cfg, cfg.Suggest.Backend, proc, logger)
	if err != nil {
		return err
	}

	img, err := proc.LoadImageSmart(ctx, input)
	if err != nil {
		return err
	}
	b := img.Bounds()
	res := suggestResult{Input: input, Width: b.Dx(), Height: b.Dy(), Aspect: aspect}

	// The model is asked directly so its detection can be reported.
	found := false
	if model != nil {
		crop, subject, err := model.SuggestWithResult(ctx, img, aspect)
		res.Subject = subject
		if err == nil {
			res.Crop, found = crop, true
		} else {
			logger.Warn("vision model suggestion failed, falling back", "err", err)
			suggester = suggest.Chain{suggest.NewSalient(), suggest.Centered{}}
		}
	}
	if !found {
		if res.Crop, err = suggester.Suggest(ctx, img, aspect); err != nil {
			return err
		}
	}
	logger.Debug("suggested crop", "backend", cfg.Suggest.Backend, "crop", res.Crop)

	if opts.debug {
		var box types.Box
		if res.Subject != nil {
			box = res.Subject.Primary.Box
		}
		overlay := proc.CreateDebugOverlay(img, box, res.Crop)
		if err := utils.EnsureDir(opts.outDir); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		path := utils.GenerateOutputFilename(input, opts.outDir, "", "_suggest", "png")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := proc.Encode(f, overlay, processing.EncodeOptions{Format: processing.FormatPNG}); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		res.Overlay = path
		logger.Info("wrote debug overlay", "path", path)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
