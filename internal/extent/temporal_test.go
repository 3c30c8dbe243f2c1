package extent

import (
	"errors"
	"testing"
	"time"
)

func TestNewTemporal(t *testing.T) {
	tests := []struct {
		name      string
		startDate string
		endDate   string
		startTime string
		endTime   string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{
			name:      "dates with default times",
			startDate: "2019-06-18",
			endDate:   "2019-06-25",
			wantStart: "2019-06-18T00:00:00Z",
			wantEnd:   "2019-06-25T23:59:59Z",
		},
		{
			name:      "explicit times",
			startDate: "2019-06-18",
			endDate:   "2019-06-25",
			startTime: "03:30:00",
			endTime:   "21:00:00",
			wantStart: "2019-06-18T03:30:00Z",
			wantEnd:   "2019-06-25T21:00:00Z",
		},
		{
			name:      "single day",
			startDate: "2019-06-18",
			endDate:   "2019-06-18",
			wantStart: "2019-06-18T00:00:00Z",
			wantEnd:   "2019-06-18T23:59:59Z",
		},
		{
			name:      "start after end",
			startDate: "2019-06-25",
			endDate:   "2019-06-18",
			wantErr:   true,
		},
		{
			name:      "start after end within one day",
			startDate: "2019-06-18",
			endDate:   "2019-06-18",
			startTime: "12:00:00",
			endTime:   "06:00:00",
			wantErr:   true,
		},
		{
			name:      "malformed date",
			startDate: "06/18/2019",
			endDate:   "2019-06-25",
			wantErr:   true,
		},
		{
			name:      "malformed time",
			startDate: "2019-06-18",
			endDate:   "2019-06-25",
			startTime: "3pm",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := NewTemporal(tt.startDate, tt.endDate, tt.startTime, tt.endTime)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidExtent) {
					t.Fatalf("expected ErrInvalidExtent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := tr.Start().Format(time.RFC3339); got != tt.wantStart {
				t.Errorf("Start() = %s, want %s", got, tt.wantStart)
			}
			if got := tr.End().Format(time.RFC3339); got != tt.wantEnd {
				t.Errorf("End() = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

func TestTemporalCanonical(t *testing.T) {
	tr, err := NewTemporal("2019-06-18", "2019-06-25", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "2019-06-18T00:00:00Z,2019-06-25T23:59:59Z"
	if got := tr.Canonical(); got != want {
		t.Errorf("Canonical() = %q, want %q", got, want)
	}
}

func TestTemporalEqual(t *testing.T) {
	a, _ := NewTemporal("2019-06-18", "2019-06-25", "", "")
	b, _ := NewTemporal("2019-06-18", "2019-06-25", "00:00:00", "23:59:59")
	c, _ := NewTemporal("2019-06-18", "2019-06-24", "", "")

	if !a.Equal(b) {
		t.Error("defaulted and explicit times covering the same range should be equal")
	}
	if a.Equal(c) {
		t.Error("different ranges should not be equal")
	}
	if a.Equal(nil) {
		t.Error("non-nil extent should not equal nil")
	}
}
