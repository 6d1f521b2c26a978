package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cinacgt/pkg/annotation"
	"cinacgt/pkg/config"
	"cinacgt/pkg/dataset"
	"cinacgt/pkg/logging"
	"cinacgt/pkg/persistence"
)

// app holds the state shared by every subcommand of one invocation
type app struct {
	configPath string
	manifest   string
	dbPath     string
	logLevel   string
	jsonLogs   bool
	verbose    bool

	cfg    *config.Config
	logger *slog.Logger
	stderr io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{stderr: os.Stderr}

	var (
		rootCmd = &cobra.Command{
			Use:   "cinacgt",
			Short: "Curate ground truth for calcium imaging transients",
			Long: "cinacgt loads a calcium imaging dataset, replays curation commands on its onset\n" +
				"and peak rasters, and reports candidates, source profiles and correlations.",
			SilenceUsage:      true,
			PersistentPreRunE: a.setup,
		}

		detectCmd = &cobra.Command{
			Use:   "detect",
			Short: "List onset and peak candidates of a cell",
			RunE:  a.runDetect,
		}
		profileCmd = &cobra.Command{
			Use:   "profile",
			Short: "Compute the source profile of a cell",
			RunE:  a.runProfile,
		}
		corrCmd = &cobra.Command{
			Use:   "corr",
			Short: "Correlate one transient with the source profile of its cell",
			RunE:  a.runCorr,
		}
		overlayCmd = &cobra.Command{
			Use:   "overlay",
			Short: "Flag cross-talk and neuropil on the active periods of a cell",
			RunE:  a.runOverlay,
		}
		plotCmd = &cobra.Command{
			Use:   "plot",
			Short: "Write the trace of a cell with its annotations as a PNG",
			RunE:  a.runPlot,
		}
		validateCmd = &cobra.Command{
			Use:   "validate",
			Short: "Check the rasters of the dataset or of a saved snapshot",
			RunE:  a.runValidate,
		}
		replayCmd = &cobra.Command{
			Use:   "replay <script>",
			Short: "Replay a JSON5 command script on the dataset",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runReplay,
		}
		snapshotsCmd = &cobra.Command{
			Use:   "snapshots",
			Short: "Manage saved sessions",
		}
		snapshotsListCmd = &cobra.Command{
			Use:   "list",
			Short: "List saved sessions, newest first",
			Args:  cobra.NoArgs,
			RunE:  a.runSnapshotsList,
		}
		snapshotsDeleteCmd = &cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a saved session",
			Args:  cobra.ExactArgs(1),
			RunE:  a.runSnapshotsDelete,
		}
		configCmd = &cobra.Command{
			Use:   "config",
			Short: "Manage the configuration file",
		}
		configInitCmd = &cobra.Command{
			Use:   "init",
			Short: "Write the default configuration",
			Args:  cobra.NoArgs,
			RunE:  a.runConfigInit,
		}
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "config.yaml", "Path to configuration file")
	pf.StringVarP(&a.manifest, "dataset", "d", "dataset.json5", "Path to the dataset manifest")
	pf.StringVar(&a.dbPath, "db", "", "SQLite file for saved sessions (overrides storage.databasePath)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.BoolVar(&a.jsonLogs, "json-logs", false, "Write logs as JSON")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	detectCmd.Flags().Int("cell", 0, "Cell index")
	detectCmd.Flags().Int("from", 0, "First frame of the searched range")
	detectCmd.Flags().Int("to", 0, "End of the searched range (exclusive); 0 searches the whole trace")

	profileCmd.Flags().Int("cell", 0, "Cell index")
	profileCmd.Flags().String("png", "", "Write the profile heat map to this PNG file")
	profileCmd.Flags().Int("size", 400, "Width and height of the PNG in pixels")

	corrCmd.Flags().Int("cell", 0, "Cell index")
	corrCmd.Flags().Int("onset", 0, "Onset frame of the transient")
	corrCmd.Flags().Int("peak", 0, "Peak frame of the transient")
	corrCmd.Flags().Bool("force", false, "Recompute instead of reading the cache")

	overlayCmd.Flags().Int("cell", 0, "Cell index")

	plotCmd.Flags().Int("cell", 0, "Cell index")
	plotCmd.Flags().StringP("output", "o", "trace.png", "PNG file to write")
	plotCmd.Flags().Bool("raw", false, "Plot the raw trace instead of the z-scored smooth one")
	plotCmd.Flags().Int("width", 1200, "Width in pixels")
	plotCmd.Flags().Int("height", 400, "Height in pixels")

	validateCmd.Flags().String("snapshot", "", "Validate a saved session instead of the dataset rasters")

	replayCmd.Flags().Bool("save", false, "Save the resulting session")
	replayCmd.Flags().String("name", "", "Name of the saved session")
	replayCmd.Flags().Bool("metrics", false, "Print the command metrics after the replay")

	rootCmd.AddCommand(detectCmd, profileCmd, corrCmd, overlayCmd, plotCmd, validateCmd, replayCmd)
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsDeleteCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	return rootCmd
}

// setup loads the configuration and builds the logger before any subcommand runs
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Output.LogLevel = a.logLevel
	}
	if a.jsonLogs {
		cfg.Output.JSONLogs = true
	}
	if a.verbose {
		cfg.Output.Verbose = true
	}
	if a.dbPath != "" {
		cfg.Storage.DatabasePath = a.dbPath
	}

	level := logging.ParseLevel(cfg.Output.LogLevel)
	if cfg.Output.Verbose {
		level = logging.LevelDebug
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		JSON:    cfg.Output.JSONLogs,
		Service: "cinacgt",
		Output:  a.stderr,
	})
	a.logger.Debug("configuration loaded", "path", a.configPath, "command", cmd.Name())
	return nil
}

// loadDataset reads the manifest given with --dataset
func (a *app) loadDataset() (*dataset.Dataset, error) {
	d, err := dataset.Load(a.manifest, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	return d, nil
}

// openSession loads the dataset and opens a session over it
func (a *app) openSession() (*dataset.Dataset, *annotation.Session, error) {
	d, err := a.loadDataset()
	if err != nil {
		return nil, nil, err
	}
	s, err := d.NewSession(a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return d, s, nil
}

func (a *app) openStore() (*persistence.Store, error) {
	store, err := persistence.Open(a.cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return store, nil
}

// cellFlag reads --cell and checks it against the dataset
func cellFlag(cmd *cobra.Command, d *dataset.Dataset) (int, error) {
	cell, err := cmd.Flags().GetInt("cell")
	if err != nil {
		return 0, err
	}
	if cell < 0 || cell >= d.Cells() {
		return 0, fmt.Errorf("cell %d out of range [0, %d)", cell, d.Cells())
	}
	return cell, nil
}
