package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cinacgt/pkg/config"
	"cinacgt/pkg/metrics"
	"cinacgt/pkg/persistence"
	"cinacgt/pkg/script"
)

func (a *app) runReplay(cmd *cobra.Command, args []string) error {
	sc, err := script.Load(args[0])
	if err != nil {
		return err
	}
	d, s, err := a.openSession()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	start := time.Now()
	results, runErr := sc.Run(s)
	for _, r := range results {
		fmt.Fprintln(out, r)
	}
	if runErr != nil {
		return runErr
	}

	pending := s.PendingAll()
	var onsets, peaks int
	for _, p := range pending {
		onsets += p.Onsets
		peaks += p.Peaks
	}
	fmt.Fprintf(out, "Replayed %d commands in %s, %d undo steps, %d pending onsets, %d pending peaks\n",
		len(results), time.Since(start).Round(time.Millisecond), s.History().Len(), onsets, peaks)
	if v := s.Validate(); len(v) > 0 {
		fmt.Fprintf(out, "Warning: %d ordering violations\n", len(v))
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = d.Name
		}
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		snap := &persistence.Snapshot{
			ID:        s.ID,
			Name:      name,
			Cells:     d.Cells(),
			Frames:    d.Frames(),
			Layers:    s.Snapshot(),
			CellTypes: s.CellTypes(),
		}
		if err := store.Save(context.Background(), snap); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		s.MarkSaved()
		fmt.Fprintf(out, "Session saved as %s in %s\n", snap.ID, store.Path())
	}

	if show, _ := cmd.Flags().GetBool("metrics"); show {
		summary, err := metrics.Summary()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(summary))
		for name := range summary {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "%s %g\n", name, summary[name])
		}
	}
	return nil
}

func (a *app) runSnapshotsList(cmd *cobra.Command, _ []string) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(context.Background())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No saved sessions")
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(out, "%s  %-20s %4d cells %6d frames  %s\n",
			s.ID, s.Name, s.Cells, s.Frames, s.SavedAt.Local().Format(time.DateTime))
	}
	return nil
}

func (a *app) runSnapshotsDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid snapshot id %q: %w", args[0], err)
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	return nil
}

func (a *app) runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(a.configPath); err == nil {
		return fmt.Errorf("%s already exists", a.configPath)
	}
	if err := config.CreateDefaultConfigFile(a.configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", a.configPath)
	return nil
}
