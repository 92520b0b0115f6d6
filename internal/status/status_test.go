package status

import (
	"testing"

	"github.com/rescale/csvup/internal/models"
)

func completedParse() models.ParsingState {
	p := models.DefaultParsingState()
	p.IsCompleted = true
	p.PercentParsed = 100
	p.Data = []models.Row{{"h1", "h2"}, {"v1", "v2"}}
	p.Headers = p.Data[0]
	return p
}

// TestProjectLabels tests the ordered label guards
func TestProjectLabels(t *testing.T) {
	parsing := models.DefaultParsingState()
	parsing.InProgress = true

	parseFailed := models.DefaultParsingState()
	parseFailed.InProgress = true
	parseFailed.IsError = true

	tests := []struct {
		name string
		in   Input
		want string
	}{
		{"idle", Input{}, "Upload"},
		{"checking wins over parsing", Input{CheckingExistence: true, Parsing: parsing}, "Checking if file exists..."},
		{"parsing", Input{Parsing: parsing}, "Parsing CSV file..."},
		{"parse error", Input{Parsing: parseFailed}, "Upload"},
		{"uploading", Input{Parsing: completedParse(), Upload: models.UploadState{InProgress: true, Percentage: 42}}, "Uploading..."},
		{"paused still uploading", Input{Upload: models.UploadState{InProgress: true, IsPaused: true, Percentage: 42}}, "Uploading..."},
		{"finalizing", Input{Upload: models.UploadState{InProgress: true, Percentage: 100}}, "Copying file to db..."},
		{"completed", Input{Upload: models.UploadState{IsCompleted: true}}, "Upload"},
		{"failed at 100", Input{Upload: models.UploadState{IsError: true, Percentage: 100}}, "Upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Project(tt.in, DefaultOptions())
			if v.Label != tt.want {
				t.Errorf("Label = %q, want %q", v.Label, tt.want)
			}
			if v.Status.String() != v.Label {
				t.Errorf("Status %v does not match label %q", v.Status, v.Label)
			}
		})
	}
}

// TestProjectEnablement tests the upload and reset enablement flags
func TestProjectEnablement(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		wantUpload bool
		wantReset  bool
	}{
		{"nothing selected", Input{}, false, false},
		{"parsed", Input{FileName: "a.csv", Parsing: completedParse()}, true, true},
		{"checking", Input{FileName: "a.csv", CheckingExistence: true, Parsing: completedParse()}, false, true},
		{"uploading", Input{FileName: "a.csv", Parsing: completedParse(), Upload: models.UploadState{InProgress: true, Percentage: 10}}, false, true},
		{"finalizing", Input{FileName: "a.csv", Parsing: completedParse(), Upload: models.UploadState{InProgress: true, Percentage: 100}}, false, false},
		{"upload failed", Input{FileName: "a.csv", Parsing: completedParse(), Upload: models.UploadState{IsError: true, Percentage: 100}}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Project(tt.in, DefaultOptions())
			if v.UploadEnabled != tt.wantUpload {
				t.Errorf("UploadEnabled = %v, want %v", v.UploadEnabled, tt.wantUpload)
			}
			if v.ResetEnabled != tt.wantReset {
				t.Errorf("ResetEnabled = %v, want %v", v.ResetEnabled, tt.wantReset)
			}
		})
	}
}

// TestProjectControls tests the progress bar visibility and control flags
func TestProjectControls(t *testing.T) {
	tests := []struct {
		name     string
		upload   models.UploadState
		wantShow bool
		want     Controls
	}{
		{"idle", models.UploadState{}, false, Controls{}},
		{"running", models.UploadState{InProgress: true, Percentage: 42}, true, Controls{Pause: true, Abort: true}},
		{"paused", models.UploadState{InProgress: true, IsPaused: true, Percentage: 42}, true, Controls{Play: true, Abort: true}},
		{"finalizing", models.UploadState{InProgress: true, Percentage: 100}, true, Controls{Finalizing: true}},
		{"failed", models.UploadState{IsError: true, Percentage: 42}, false, Controls{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Project(Input{FileName: "a.csv", Upload: tt.upload}, DefaultOptions())
			if v.ShowUploadProgress != tt.wantShow {
				t.Errorf("ShowUploadProgress = %v, want %v", v.ShowUploadProgress, tt.wantShow)
			}
			if v.UploadControls != tt.want {
				t.Errorf("UploadControls = %+v, want %+v", v.UploadControls, tt.want)
			}
		})
	}
}

// TestProjectOptions tests that display toggles hide progress and reset
func TestProjectOptions(t *testing.T) {
	parsing := models.DefaultParsingState()
	parsing.InProgress = true
	parsing.PercentParsed = 30

	in := Input{FileName: "a.csv", Parsing: parsing}
	if v := Project(in, DefaultOptions()); !v.ShowParseProgress || !v.ParseAbortEnabled || v.ParsePercent != 30 {
		t.Errorf("default view = %+v", v)
	}

	v := Project(in, Options{})
	if v.ShowParseProgress || v.ShowReset {
		t.Errorf("hidden view = %+v", v)
	}
	if !v.ResetEnabled {
		t.Error("hiding the reset control must not change its enablement")
	}

	upload := Input{Upload: models.UploadState{InProgress: true, Percentage: 10}}
	if v := Project(upload, Options{ShowUploadProgress: false}); v.ShowUploadProgress || v.UploadControls != (Controls{}) {
		t.Errorf("upload progress should be hidden: %+v", v)
	}
}

// TestFromSnapshot tests the snapshot conversion
func TestFromSnapshot(t *testing.T) {
	snap := models.Snapshot{FileName: "a.csv", CheckingExistence: true, Upload: models.UploadState{Percentage: 5}}
	in := FromSnapshot(snap)
	if in.FileName != "a.csv" || !in.CheckingExistence || in.Upload.Percentage != 5 {
		t.Errorf("FromSnapshot() = %+v", in)
	}
}
