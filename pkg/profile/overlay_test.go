package profile

import (
	"reflect"
	"testing"

	"cinacgt/internal/models"
)

func TestOverlayFlagsCrossTalk(t *testing.T) {
	s := newScene(t)
	if got := s.coords.Overlaps(0); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("Scene should have cell 1 overlapping cell 0, got %v", got)
	}

	cache := s.engine.Cache()
	cache.Store(models.Window{Cell: 0, Onset: 12, Peak: 14}, Correlation{Value: 0.1, Defined: true})
	cache.Store(models.Window{Cell: 1, Onset: 12, Peak: 14}, Correlation{Value: 0.9, Defined: true})
	cache.Store(models.Window{Cell: 0, Onset: 22, Peak: 24}, Correlation{Value: 0.8, Defined: true})

	flags, err := s.engine.Overlay(0, []models.Window{{Onset: 12, Peak: 14}, {Onset: 22, Peak: 24}})
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if len(flags) != 2 {
		t.Fatalf("Expected 2 flags, got %d", len(flags))
	}

	if !flags[0].CrossTalk || !reflect.DeepEqual(flags[0].Sources, []int{1}) {
		t.Errorf("Expected cross-talk from cell 1, got %+v", flags[0])
	}
	if flags[1].CrossTalk || flags[1].Flagged() {
		t.Errorf("Well-correlated transient should not be flagged, got %+v", flags[1])
	}
	if flags[0].Neuropil {
		t.Error("Cell without neuropil trace should never get the neuropil flag")
	}
}

func TestOverlayComputesOverlappingCell(t *testing.T) {
	s := newScene(t)
	cache := s.engine.Cache()
	cache.Store(models.Window{Cell: 0, Onset: 12, Peak: 14}, Correlation{Value: 0.1, Defined: true})
	// cell 1 has a value for a longer transient covering frame 12, which must not
	// stand in for the window being checked
	cache.Store(models.Window{Cell: 1, Onset: 10, Peak: 14}, Correlation{Value: 0.1, Defined: true})

	flags, err := s.engine.Overlay(0, []models.Window{{Onset: 12, Peak: 14}})
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if !flags[0].CrossTalk || !reflect.DeepEqual(flags[0].Sources, []int{1}) {
		t.Errorf("Expected cross-talk from cell 1, got %+v", flags[0])
	}

	c, ok := cache.Get(models.Window{Cell: 1, Onset: 12, Peak: 14})
	if !ok || !c.Defined || c.Value < DefaultParams().Overlay.CrossTalkOtherMin {
		t.Errorf("Expected a computed correlation for cell 1 on the window, got %v %v", c, ok)
	}
}

func TestOverlayNeuropilFlag(t *testing.T) {
	s := newScene(t)
	raw := s.traces.raw[0]

	strong := make([]float64, len(raw))
	weak := make([]float64, len(raw))
	for i, v := range raw {
		strong[i] = 0.8 * v
		weak[i] = 0.5 * v
	}

	s.traces.neuropil[0] = strong
	flags, err := s.engine.Overlay(0, []models.Window{{Onset: 12, Peak: 14}})
	if err != nil {
		t.Fatalf("Overlay failed: %v", err)
	}
	if !flags[0].Neuropil {
		t.Errorf("Expected neuropil flag for an 80%% excursion, got %+v", flags[0])
	}

	s.traces.neuropil[0] = weak
	flags, _ = s.engine.Overlay(0, []models.Window{{Onset: 12, Peak: 14}})
	if flags[0].Neuropil {
		t.Errorf("Did not expect neuropil flag for a 50%% excursion, got %+v", flags[0])
	}
}

func TestOverlayDoesNotTouchEvents(t *testing.T) {
	s := newScene(t)
	before := s.store.Snapshot()
	if _, err := s.engine.Overlay(0, s.store.ActivePeriods(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.engine.Overlay(0, []models.Window{{Onset: 2, Peak: 4}}); err != nil {
		t.Fatal(err)
	}
	after := s.store.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Error("Overlay must not change the rasters")
	}
}
