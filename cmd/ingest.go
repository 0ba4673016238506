package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <folder-path>",
	Short: "Import a folder of photos",
	Long: `Store and catalog every image in a folder and queue its analysis.

By default, only files directly in the folder are imported (non-recursive).
Use -r to search recursively in subdirectories. Analysis runs in the workers,
so TASK_BACKEND must be redis.

Example:
  pixpursuit ingest --user alice /path/to/photos
  pixpursuit ingest --user alice --album 3f0c... --size 1920x1080 -r /path/to/photos`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	ingestCmd.Flags().String("user", "", "Username recorded as the uploader")
	ingestCmd.Flags().String("album", "", "Target album id (root when empty)")
	ingestCmd.Flags().String("size", "", "Resize images to fit WxH before storing")
}

var ingestExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tiff": true,
	".tif":  true,
}

// collectImages lists image files in dir, sorted by path.
func collectImages(dir string, recursive bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ingestExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func runIngest(cmd *cobra.Command, args []string) error {
	user := mustGetString(cmd, "user")
	if user == "" {
		return errors.New("--user is required")
	}
	var size *imaging.Size
	if raw := mustGetString(cmd, "size"); raw != "" {
		s, err := imaging.ParseSize(raw)
		if err != nil {
			return err
		}
		size = s
	}
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if cfg.Tasks.Backend != "redis" {
		return errors.New("ingest queues analysis for the workers and needs TASK_BACKEND=redis")
	}

	paths, err := collectImages(args[0], mustGetBool(cmd, "recursive"))
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	if len(paths) == 0 {
		fmt.Println("No images found")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	pipeline := a.pipeline(cfg)
	album := mustGetString(cmd, "album")

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	var imported int
	var failures []string
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			_ = bar.Add(1)
			continue
		}
		ids, err := pipeline.IngestBatch(ctx, []ingest.Source{{Name: filepath.Base(path), Data: data}}, user, album, size)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
		imported += len(ids)
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	fmt.Println()

	fmt.Printf("Imported %d of %d images\n", imported, len(paths))
	for _, f := range failures {
		fmt.Printf("  failed: %s\n", f)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d images failed", len(failures))
	}
	return ctx.Err()
}
