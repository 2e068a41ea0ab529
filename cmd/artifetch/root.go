package artifetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opnlabs/artifetch/pkg/logging"
	"github.com/opnlabs/artifetch/pkg/orchestrator"
)

var (
	descriptorPath  string
	manifestPath    string
	useDescriptor   bool
	workingDir      string
	runConcurrently bool
	keepManifest    bool
	maxParallel     int
	verbose         bool
)

// envFlags maps persistent flags to the environment variables that provide
// their defaults. Flags given on the command line win.
var envFlags = map[string]string{
	"descriptor":     "ARTIFETCH_DESCRIPTOR",
	"manifest":       "ARTIFETCH_MANIFEST",
	"use-descriptor": "ARTIFETCH_USE_DESCRIPTOR",
	"working-dir":    "ARTIFETCH_WORKDIR",
	"concurrent":     "ARTIFETCH_CONCURRENT",
	"keep-manifest":  "ARTIFETCH_KEEP_MANIFEST",
	"max-parallel":   "ARTIFETCH_MAX_PARALLEL",
}

var errRunFailed = errors.New("run finished with failures")

var rootCmd = &cobra.Command{
	Use:   "artifetch",
	Short: "Artifetch fetches build artifacts from build servers",
	Long: `Artifetch resolves the artifacts listed in a dependency descriptor ( *.dep )
against their build servers, records the result in a manifest ( *.files ) and downloads
and extracts everything into the working directory. Downloads run before extractions;
within each wave jobs can run concurrently.`,
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		return applyEnv(cmd)
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := orchestrator.Run(ctx, config(cmd), orchestrator.Env{Log: runSink(os.Stdout)})
		if err != nil {
			return err
		}
		log.Debug("run finished", "id", res.RunID, "regenerated", res.Regenerated, "events", len(res.Events))
		if !res.Success {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&descriptorPath, "descriptor", "d", "", "Path to the dependency descriptor.")
	flags.StringVarP(&manifestPath, "manifest", "m", "", "Path to the manifest. Defaults to the descriptor path with a .files extension.")
	flags.BoolVar(&useDescriptor, "use-descriptor", false, "Resolve from the descriptor. Defaults to true when a descriptor is given.")
	flags.StringVarP(&workingDir, "working-dir", "w", ".", "Directory artifacts are downloaded and extracted into.")
	flags.BoolVarP(&runConcurrently, "concurrent", "c", true, "Run the jobs of a wave concurrently. Use --concurrent=false to run them one by one.")
	flags.BoolVarP(&keepManifest, "keep-manifest", "k", false, "Keep the manifest after a run and reuse it while the descriptor is unchanged.")
	flags.IntVar(&maxParallel, "max-parallel", 0, "Upper bound on concurrently running jobs. 0 means unbounded.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print debug diagnostics.")

	rootCmd.AddCommand(versionCmd, resolveCmd, importCmd, watchCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// runSink returns the console sink of a run, announcing the version first.
func runSink(w io.Writer) logging.Sink {
	sink := logging.NewConsoleSink("artifetch", w)
	sink.LogMessage("Artifetch %s (commit %s, built %s)", version, commit, builddate)
	return sink
}

func applyEnv(cmd *cobra.Command) error {
	for name, env := range envFlags {
		f := cmd.Flags().Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		v, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		if err := cmd.Flags().Set(name, v); err != nil {
			return fmt.Errorf("invalid value for %s environment variable: %q: %w", env, v, err)
		}
		log.Debug("flag set from environment", "flag", name, "env", env)
	}
	return nil
}

func config(cmd *cobra.Command) orchestrator.Config {
	use := useDescriptor
	if !cmd.Flags().Changed("use-descriptor") {
		use = useDescriptor || descriptorPath != ""
	}
	cfg := orchestrator.Config{
		DescriptorPath:  descriptorPath,
		ManifestPath:    manifestPath,
		UseDescriptor:   use,
		WorkingDir:      workingDir,
		RunConcurrently: runConcurrently,
		KeepManifest:    keepManifest,
		MaxParallel:     maxParallel,
	}
	log.Debug("configuration", "descriptor", cfg.DescriptorPath, "manifest", cfg.ManifestPath,
		"useDescriptor", cfg.UseDescriptor, "workingDir", cfg.WorkingDir, "concurrent", cfg.RunConcurrently)
	return cfg
}
