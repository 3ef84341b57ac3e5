// Package dataset holds the Roboflow dataset commands.
package dataset

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/gridlens/gridlens/internal/app"
	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/roboflow"
)

// Command returns the dataset command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Push corrections to the Roboflow dataset and retrain",
	}
	cmd.AddCommand(uploadCorrectionsCommand(settings), trainCommand(settings))
	return cmd
}

func uploadCorrectionsCommand(settings *conf.Settings) *cobra.Command {
	var split string
	cmd := &cobra.Command{
		Use:   "upload-corrections",
		Short: "Upload every image with user-added or edited annotations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Services.Roboflow.UploadUserCorrections(cmd.Context(), split)
			if err != nil {
				return err
			}
			logger.Global().Module("cli").Info("user corrections uploaded",
				logger.Int("total", summary.Total),
				logger.Int("success", summary.Success),
				logger.Int("failure", summary.Failure))
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Failure > 0 {
				return errors.Newf("%d of %d uploads failed", summary.Failure, summary.Total).
					Component("cli").
					Category(errors.CategoryIntegration).
					Build()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&split, "split", "train", "Dataset split: train, valid or test")
	return cmd
}

func trainCommand(settings *conf.Settings) *cobra.Command {
	var (
		version  string
		generate bool
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Start a Roboflow training run",
		Long: `Start training on the configured project and wait for Roboflow to accept it.

With --generate a new dataset version is created first and the configured
model type is trained on it, the same steps a queued training job runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if generate && version != "" {
				return errors.Newf("--generate and --version are mutually exclusive").
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			a, err := app.Build(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			var result *roboflow.TrainResult
			if generate {
				v, err := a.Dataset.GenerateVersion(cmd.Context())
				if err != nil {
					return err
				}
				result, err = a.Dataset.TrainVersion(cmd.Context(), v)
				if err != nil {
					return err
				}
			} else {
				result, err = a.Services.Roboflow.Train(cmd.Context(), version)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Existing dataset version to train")
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a new dataset version and train it")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
