package models

import "testing"

func TestProjectStatusTerminal(t *testing.T) {
	terminal := []ProjectStatus{
		ProjectStatusCompleted,
		ProjectStatusFailed,
		ProjectStatusCancelled,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []ProjectStatus{
		ProjectStatusUploaded,
		ProjectStatusAnalyzing,
		ProjectStatusGeneratingClips,
	}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestJobStateTerminal(t *testing.T) {
	terminal := []JobState{JobStateSucceeded, JobStateFailed, JobStateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []JobState{JobStateQueued, JobStateRunning}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestDefaultLimits(t *testing.T) {
	free := DefaultLimits(PlanFree)
	if free.MaxSourceMinutesPerPeriod <= 0 {
		t.Errorf("free plan should have a finite minutes quota, got %v", free.MaxSourceMinutesPerPeriod)
	}

	ent := DefaultLimits(PlanEnterprise)
	if ent.MaxRendersPerPeriod != UnlimitedQuota || ent.MaxSourceMinutesPerPeriod != UnlimitedQuota {
		t.Errorf("enterprise plan should be unlimited, got %+v", ent)
	}
}

func TestDefaultCredits(t *testing.T) {
	if DefaultCredits(PlanFree) <= 0 {
		t.Error("free plan should start with some credits")
	}
	if DefaultCredits(PlanPro) <= DefaultCredits(PlanFree) {
		t.Error("pro plan should start with more credits than free")
	}
}
