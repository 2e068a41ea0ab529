package artifetch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/opnlabs/artifetch/pkg/descriptor"
	"github.com/opnlabs/artifetch/pkg/logging"
	"github.com/opnlabs/artifetch/pkg/manifest"
	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/resolver"
	"github.com/opnlabs/artifetch/pkg/utils"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolves the descriptor into a manifest without downloading anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if descriptorPath == "" {
			return &models.ConfigurationError{Field: "DescriptorPath", Msg: "resolve needs a descriptor"}
		}
		out := manifestPath
		if out == "" {
			out = utils.ChangeExt(descriptorPath, manifest.Extension)
		}
		return resolveManifest(ctx, descriptorPath, out, logging.NewConsoleSink("resolve", os.Stdout))
	},
}

// resolveManifest writes the manifest for the descriptor at in to out. The
// manifest is only written when every template resolved.
func resolveManifest(ctx context.Context, in, out string, sink logging.Sink) error {
	d, err := descriptor.Load(in)
	if err != nil {
		return err
	}

	jobs, err := resolver.New(nil, sink).Concurrently(runConcurrently).Resolve(ctx, d.Templates)
	if err != nil {
		return fmt.Errorf("%s was not written: %w", out, err)
	}
	if err := manifest.Save(out, jobs); err != nil {
		return err
	}
	log.Info("manifest written", "path", out, "jobs", len(jobs))
	return nil
}
