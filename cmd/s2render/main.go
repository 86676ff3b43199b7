package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/geoviz/s2-visualizer/internal/app"
	"github.com/geoviz/s2-visualizer/internal/core/apperr"
	"github.com/geoviz/s2-visualizer/internal/core/config"
	"github.com/geoviz/s2-visualizer/internal/core/router"
	"github.com/geoviz/s2-visualizer/internal/logger"
)

type renderFlags struct {
	west, south, east, north string
	start, end               string
	imageType                string
	archive                  string
	out                      string
	envFile                  string
	quiet                    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f renderFlags
	cmd := &cobra.Command{
		Use:   "s2render",
		Short: "Render one Sentinel-2 product to PNG",
		Long: `Download a Sentinel-2 L2A scene for a bounding box and date range,
derive rgb, cir, ndvi or ndwi at the first acquisition and write a PNG.

An existing file passed with --archive is read instead of downloading and
is left in place.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.west, "west", "", "western longitude")
	fl.StringVar(&f.south, "south", "", "southern latitude")
	fl.StringVar(&f.east, "east", "", "eastern longitude")
	fl.StringVar(&f.north, "north", "", "northern latitude")
	fl.StringVar(&f.start, "start", "", "start date (YYYY-MM-DD)")
	fl.StringVar(&f.end, "end", "", "end date (YYYY-MM-DD)")
	fl.StringVarP(&f.imageType, "type", "t", "rgb", "product: rgb, cir, ndvi or ndwi")
	fl.StringVar(&f.archive, "archive", "", "netCDF archive path; reused and kept when it exists")
	fl.StringVarP(&f.out, "out", "o", "", "output directory (default OUTPUT_DIR)")
	fl.StringVar(&f.envFile, "env", ".env", "dotenv file")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "no download progress")
	for _, name := range []string{"west", "south", "east", "north", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (f renderFlags) values() (url.Values, error) {
	v := url.Values{}
	v.Set("west", f.west)
	v.Set("south", f.south)
	v.Set("east", f.east)
	v.Set("north", f.north)
	v.Set("start_date", f.start)
	v.Set("end_date", f.end)
	v.Set("image_type", f.imageType)

	// the map view fields only matter to the web page; center on the bbox
	var c [4]float64
	for i, s := range []string{f.west, f.south, f.east, f.north} {
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, apperr.Validation([]string{"west", "south", "east", "north"}[i], err)
		}
		c[i] = n
	}
	v.Set("center_lng", strconv.FormatFloat((c[0]+c[2])/2, 'f', -1, 64))
	v.Set("center_lat", strconv.FormatFloat((c[1]+c[3])/2, 'f', -1, 64))
	v.Set("zoom_level", "12")
	return v, nil
}

func runRender(ctx context.Context, stdout, stderr io.Writer, f renderFlags) error {
	_ = godotenv.Load(f.envFile)
	cfg := config.FromEnv()
	if f.out != "" {
		cfg.OutputDir = f.out
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Component: "s2render",
	}, stderr)
	log := logger.NewSlog(&zl)

	v, err := f.values()
	if err != nil {
		return err
	}
	params, err := router.ParseValues(v)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return apperr.Filesystem(fmt.Errorf("create output dir: %w", err))
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithoutEvents()}
	if f.archive != "" {
		opts = append(opts, app.WithArchivePath(f.archive))
	}
	if !f.quiet {
		opts = append(opts, app.WithProgress(func() io.Writer {
			return progressbar.DefaultBytes(-1, "downloading archive")
		}))
	}

	a, err := app.Build(ctx, cfg, log, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	res, err := a.Pipeline.Process(ctx, params)
	if err != nil {
		log.Error("render failed", "kind", apperr.KindOf(err).String(), "err", err)
		return err
	}
	_, _ = fmt.Fprintf(stdout, "%s\t%s\tt0=%s\n", res.ImageType, res.ImagePath, res.T0Date)
	return nil
}
