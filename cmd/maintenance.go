package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/faces"
	"github.com/kozaktomas/pixpursuit/internal/tagger"
	"github.com/spf13/cobra"
)

var predictAllCmd = &cobra.Command{
	Use:   "predict-all",
	Short: "Recompute auto tags for every image",
	Long: `Run the tag predictor over every analysed image and store the result as
auto tags, the same work the periodic predict_all task does.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return tagger.NewService(a.catalog, a.backend, cfg.Tagger).UpdateAllAutoTags(ctx)
		})
	},
}

var groupFacesCmd = &cobra.Command{
	Use:   "group-faces",
	Short: "Cluster face embeddings into people",
	Long: `Cluster every face embedding and relabel faces that no user has named,
the same work the periodic group_faces task does.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return faces.NewManager(a.catalog, a.backend).GroupFaces(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(predictAllCmd)
	rootCmd.AddCommand(groupFacesCmd)
}

// withApp runs fn against a connected app and reports how long it took.
func withApp(fn func(ctx context.Context, a *app) error) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	if err := fn(ctx, a); err != nil {
		return err
	}
	fmt.Printf("Done in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
