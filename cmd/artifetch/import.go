package artifetch

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gosimple/slug"
	"github.com/spf13/cobra"

	"github.com/opnlabs/artifetch/pkg/buildserver"
	"github.com/opnlabs/artifetch/pkg/descriptor"
	"github.com/opnlabs/artifetch/pkg/models"
	"github.com/opnlabs/artifetch/pkg/utils"
)

var (
	importServerURL string
	importConfigID  string
	importName      string
	importUsername  string
	importPassword  string
	importOutput    string
	importForce     bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Creates a descriptor from the artifact dependencies of a TeamCity build configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		server := importServer()
		out := importOutput
		if out == "" {
			out = slug.Make(importConfigID) + descriptor.Extension
		}
		if utils.FileExists(out) && !importForce {
			return fmt.Errorf("%s already exists, pass --force to overwrite it", out)
		}

		d, err := importDescriptor(cmd.Context(), server, importConfigID, buildserver.New)
		if err != nil {
			return err
		}
		if err := descriptor.Save(out, d); err != nil {
			return err
		}
		log.Info("descriptor written", "path", out, "artifacts", len(d.Templates))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importServerURL, "server-url", "", "Root URL of the TeamCity server.")
	importCmd.Flags().StringVar(&importConfigID, "config", "", "Build configuration whose artifact dependencies are imported.")
	importCmd.Flags().StringVar(&importName, "name", "", "Display name of the server in the descriptor. Defaults to the server URL.")
	importCmd.Flags().StringVarP(&importUsername, "username", "u", "", "TeamCity user. Guest access is used when empty.")
	importCmd.Flags().StringVarP(&importPassword, "password", "p", "", "TeamCity password or token. May reference an environment variable such as ${TC_PASSWORD}.")
	importCmd.Flags().StringVarP(&importOutput, "output", "o", "", "Descriptor to write. Defaults to <config>.dep.")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Overwrite an existing descriptor.")
	_ = importCmd.MarkFlagRequired("server-url")
	_ = importCmd.MarkFlagRequired("config")
}

func importServer() models.Server {
	name := importName
	if name == "" {
		name = importServerURL
	}
	s := models.Server{
		ID:   slug.Make(name),
		Name: name,
		URL:  importServerURL,
		Type: models.ServerTypeTeamCity,
	}
	if importUsername != "" {
		s.Credentials = &models.Credentials{Username: importUsername, Password: importPassword}
	}
	return s
}

// importDescriptor builds a descriptor holding one artifact per dependency
// configured on configID.
func importDescriptor(ctx context.Context, server models.Server, configID string, factory buildserver.Factory) (models.Descriptor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := factory(server)
	if err != nil {
		return models.Descriptor{}, err
	}
	deps, err := client.ListArtifactDependencies(ctx, configID)
	if err != nil {
		return models.Descriptor{}, fmt.Errorf("could not read artifact dependencies of %s: %w", configID, err)
	}

	d := models.Descriptor{Servers: []models.Server{server}}
	for _, p := range deps {
		d.Templates = append(d.Templates, buildserver.Template(server, p))
	}
	return d, nil
}
