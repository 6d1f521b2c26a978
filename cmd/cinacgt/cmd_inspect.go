package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cinacgt/internal/models"
	"cinacgt/pkg/plotting"
	"cinacgt/pkg/raster"
)

func (a *app) runDetect(cmd *cobra.Command, _ []string) error {
	d, s, err := a.openSession()
	if err != nil {
		return err
	}
	cell, err := cellFlag(cmd, d)
	if err != nil {
		return err
	}
	from, _ := cmd.Flags().GetInt("from")
	to, _ := cmd.Flags().GetInt("to")

	var rng *models.Range
	if to > from {
		rng = &models.Range{From: from, To: to}
	}
	found, err := s.DetectCandidates(cell, rng)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cell %d: %d onsets, %d peaks\n", cell, len(found.Onsets), len(found.Peaks))
	fmt.Fprintf(out, "onsets: %v\n", found.Onsets)
	fmt.Fprintf(out, "peaks:  %v\n", found.Peaks)
	return nil
}

func (a *app) runProfile(cmd *cobra.Command, _ []string) error {
	d, s, err := a.openSession()
	if err != nil {
		return err
	}
	cell, err := cellFlag(cmd, d)
	if err != nil {
		return err
	}
	sp, err := s.SourceProfile(cell)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	b := sp.Bounds
	fmt.Fprintf(out, "Cell %d: source profile over x [%d, %d] y [%d, %d] from %d transients\n",
		cell, b.MinX, b.MaxX, b.MinY, b.MaxY, len(sp.Windows))
	for _, w := range sp.Windows {
		fmt.Fprintf(out, "  onset %d peak %d\n", w.Onset, w.Peak)
	}

	filename, _ := cmd.Flags().GetString("png")
	if filename == "" {
		return nil
	}
	size, _ := cmd.Flags().GetInt("size")
	p, err := plotting.Profile(&sp.Image, fmt.Sprintf("cell %d source profile", cell))
	if err != nil {
		return err
	}
	if err := plotting.SavePNG(p, filename, float64(size), float64(size)); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	fmt.Fprintf(out, "Profile written to %s\n", filename)
	return nil
}

func (a *app) runCorr(cmd *cobra.Command, _ []string) error {
	d, s, err := a.openSession()
	if err != nil {
		return err
	}
	cell, err := cellFlag(cmd, d)
	if err != nil {
		return err
	}
	onset, _ := cmd.Flags().GetInt("onset")
	peak, _ := cmd.Flags().GetInt("peak")
	force, _ := cmd.Flags().GetBool("force")

	corr, err := s.Correlation(cell, models.Window{Cell: cell, Onset: onset, Peak: peak}, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cell %d onset %d peak %d: correlation %s\n", cell, onset, peak, corr)
	return nil
}

func (a *app) runOverlay(cmd *cobra.Command, _ []string) error {
	d, s, err := a.openSession()
	if err != nil {
		return err
	}
	cell, err := cellFlag(cmd, d)
	if err != nil {
		return err
	}
	flags, err := s.Overlay(cell)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cell %d: %d active periods\n", cell, len(flags))
	for _, f := range flags {
		line := fmt.Sprintf("  onset %d peak %d: own %s", f.Window.Onset, f.Window.Peak, f.Own)
		if f.CrossTalk {
			line += fmt.Sprintf(", cross-talk from %v", f.Sources)
		}
		if f.Neuropil {
			line += ", neuropil"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func (a *app) runPlot(cmd *cobra.Command, _ []string) error {
	d, s, err := a.openSession()
	if err != nil {
		return err
	}
	cell, err := cellFlag(cmd, d)
	if err != nil {
		return err
	}
	filename, _ := cmd.Flags().GetString("output")
	raw, _ := cmd.Flags().GetBool("raw")
	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")

	values := d.Raw(cell)
	if !raw {
		values = d.Smooth(cell)
	}
	st := s.Store()
	ev := plotting.Events{
		Onsets:   st.All(raster.Onsets, cell),
		Peaks:    st.All(raster.Peaks, cell),
		Doubtful: st.All(raster.Doubtful, cell),
	}
	p, err := plotting.Trace(values, ev, plotting.TraceOptions{
		Title:  fmt.Sprintf("%s cell %d", d.Name, cell),
		ZScore: !raw,
	})
	if err != nil {
		return err
	}
	if err := plotting.SavePNG(p, filename, float64(width), float64(height)); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Trace written to %s\n", filename)
	return nil
}

func (a *app) runValidate(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("snapshot")

	var violations []raster.Violation
	if id == "" {
		_, s, err := a.openSession()
		if err != nil {
			return err
		}
		violations = s.Validate()
	} else {
		snapID, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("invalid snapshot id %q: %w", id, err)
		}
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		snap, err := store.Load(context.Background(), snapID)
		if err != nil {
			return err
		}
		rs := raster.NewStore(snap.Cells, snap.Frames)
		if err := rs.Load(snap.Layers); err != nil {
			return err
		}
		violations = rs.Validate()
	}

	out := cmd.OutOrStdout()
	if len(violations) == 0 {
		fmt.Fprintln(out, "No violations")
		return nil
	}
	for _, v := range violations {
		fmt.Fprintln(out, v)
	}
	return fmt.Errorf("%d violations", len(violations))
}
