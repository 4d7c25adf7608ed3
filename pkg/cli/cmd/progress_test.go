package cmd

import "testing"

func TestMapProgressMonotonic(t *testing.T) {
	info := mapProgress(30, "", 62)
	if info.DisplayPercent != 62 {
		t.Fatalf("expected display percent 62, got %d", info.DisplayPercent)
	}
	if info.StageIndex != 2 {
		t.Fatalf("expected stage 2 for 62%%, got %d", info.StageIndex)
	}
}

func TestMapProgressClamps(t *testing.T) {
	info := mapProgress(150, "", 0)
	if info.DisplayPercent != 100 {
		t.Fatalf("expected clamp to 100, got %d", info.DisplayPercent)
	}
	if !info.IsComplete {
		t.Fatal("expected 100% to be complete")
	}

	info = mapProgress(-10, "", 0)
	if info.DisplayPercent != 0 {
		t.Fatalf("expected clamp to 0, got %d", info.DisplayPercent)
	}
}

func TestMapProgressStageBoundaries(t *testing.T) {
	cases := []struct {
		percent int
		stage   int
	}{
		{0, 0},
		{49, 0},
		{50, 1},
		{59, 1},
		{60, 2},
		{79, 2},
		{80, 3},
		{100, 3},
	}
	for _, tc := range cases {
		if got := stageIndexFromPercent(tc.percent); got != tc.stage {
			t.Fatalf("percent %d: expected stage %d, got %d", tc.percent, tc.stage, got)
		}
	}
}

func TestMapProgressSafeToClose(t *testing.T) {
	if mapProgress(54, "", 0).SafeToClose {
		t.Fatal("54% should not be safe to close")
	}
	if !mapProgress(55, "", 0).SafeToClose {
		t.Fatal("55% should be safe to close")
	}
}

func TestStageLabelFromBackendStage(t *testing.T) {
	cases := []struct {
		stage   string
		percent int
		want    string
	}{
		{"parsing conversations", 52, "Extracting conversations..."},
		{"generating soulprint", 65, "Analyzing your personality..."},
		{"embedding chunks", 85, "Building your profile..."},
		{"anything", 100, "Complete!"},
		{"", 30, "Uploading your data..."},
		{"warming cache", 90, "Warming cache"},
	}
	for _, tc := range cases {
		if got := stageLabel(tc.stage, tc.percent); got != tc.want {
			t.Fatalf("stage %q at %d%%: expected %q, got %q", tc.stage, tc.percent, tc.want, got)
		}
	}
}

func TestStageLabelFromJobStatus(t *testing.T) {
	// Raw job statuses come straight off the status endpoint; every one
	// must render as a friendly label, never as capitalized snake_case.
	cases := []struct {
		stage   string
		percent int
		want    string
	}{
		{"pending", 5, "Preparing your import..."},
		{"uploading", 25, "Uploading your data..."},
		{"processing", 50, "Extracting conversations..."},
		{"quick_ready", 70, "Building your profile..."},
		{"failed", 70, "Import failed"},
		{"complete", 99, "Complete!"},
		{"warming_cache", 90, "Warming cache"},
	}
	for _, tc := range cases {
		if got := stageLabel(tc.stage, tc.percent); got != tc.want {
			t.Fatalf("stage %q at %d%%: expected %q, got %q", tc.stage, tc.percent, tc.want, got)
		}
	}
}

func TestStageProgressWithinStage(t *testing.T) {
	// Stage 2 spans 60-79, so 70 is roughly halfway.
	got := stageProgress(2, 70)
	if got < 50 || got > 55 {
		t.Fatalf("expected roughly half progress, got %d", got)
	}

	if stageProgress(2, 50) != 0 {
		t.Fatal("below stage floor should clamp to 0")
	}
	if stageProgress(0, 90) != 100 {
		t.Fatal("above stage ceiling should clamp to 100")
	}
	if stageProgress(7, 50) != 0 {
		t.Fatal("out-of-range stage index should report 0")
	}
}
