package logparse

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/MrSnakeDoc/forest/internal/domain"
)

const leafID = "5f1d2c3b4a5968778695a4b3"

func TestLine_Structured(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	line := `{"uri":"/","time":"1400000000","status":"200","request_size":"12","response_size":"345","msecs":"7","log_source":"` + leafID + `"}`

	ev := Line(line, now)

	if ev.LogType() != domain.LogTypeEvent {
		t.Fatalf("log_type = %q, want %q", ev.LogType(), domain.LogTypeEvent)
	}
	for key, want := range map[string]int{"status": 200, "request_size": 12, "response_size": 345, "msecs": 7} {
		got, ok := ev[key].(int)
		if !ok || got != want {
			t.Errorf("%s = %#v, want %d", key, ev[key], want)
		}
	}
	ts, ok := ev["time"].(time.Time)
	if !ok || !ts.Equal(time.Unix(1400000000, 0)) {
		t.Errorf("time = %#v, want epoch 1400000000", ev["time"])
	}
	if ev.LogSource() != leafID {
		t.Errorf("log_source = %q", ev.LogSource())
	}
}

func TestLine_StructuredBadTime(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		line string
	}{
		{name: "missing", line: `{"status":"200"}`},
		{name: "malformed", line: `{"time":"yesterday","status":"200"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Line(tt.line, now)
			if ts, _ := ev["time"].(time.Time); !ts.Equal(now) {
				t.Errorf("time = %v, want %v", ev["time"], now)
			}
		})
	}
}

func TestLine_Unstructured(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := "Traceback (most recent call last):\n  boom"
	tbID := "0f8fad5b-d9cb-469f-a165-70867728950e"

	tests := []struct {
		name     string
		line     string
		wantType string
		wantKey  string
		wantVal  string
	}{
		{
			name:     "stdout",
			line:     "[Leaf " + leafID + "] hello world",
			wantType: domain.LogTypeStdout,
			wantKey:  "raw",
			wantVal:  " hello world",
		},
		{
			name:     "traceback",
			line:     "[Leaf " + leafID + "][Traceback " + tbID + "]" + base64.StdEncoding.EncodeToString([]byte(payload)),
			wantType: domain.LogTypeTraceback,
			wantKey:  "traceback",
			wantVal:  payload,
		},
		{
			name:     "supervisor ready notice",
			line:     "Tue Jan  2 03:04:05 2024 - [emperor] vassal " + leafID + ".ini is ready to accept requests",
			wantType: domain.LogTypeVassalReady,
			wantKey:  "vassal",
			wantVal:  leafID,
		},
		{
			name:     "supervisor removal notice",
			line:     "Tue Jan  2 03:04:05 2024 - [emperor] removed uwsgi instance " + leafID + ".ini",
			wantType: domain.LogTypeVassalRemoved,
			wantKey:  "vassal",
			wantVal:  leafID,
		},
		{
			name:    "unknown",
			line:    "*** Starting uWSGI ***",
			wantKey: "raw",
			wantVal: "*** Starting uWSGI ***",
		},
		{
			name:    "short leaf id",
			line:    "[Leaf abc] nope",
			wantKey: "raw",
			wantVal: "[Leaf abc] nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Line(tt.line, now)
			if got := ev.LogType(); got != tt.wantType {
				t.Errorf("log_type = %q, want %q", got, tt.wantType)
			}
			if got := ev.String(tt.wantKey); got != tt.wantVal {
				t.Errorf("%s = %q, want %q", tt.wantKey, got, tt.wantVal)
			}
			if tt.wantType != "" && ev.LogSource() != leafID {
				t.Errorf("log_source = %q, want %q", ev.LogSource(), leafID)
			}
			if ts, _ := ev["time"].(time.Time); !ts.Equal(now) {
				t.Errorf("time = %v, want %v", ev["time"], now)
			}
		})
	}
}

func TestLine_TracebackID(t *testing.T) {
	tbID := "0f8fad5b-d9cb-469f-a165-70867728950e"
	ev := Line("[Leaf "+leafID+"][Traceback "+tbID+"]bm90IGJhc2U2NA==", time.Now())

	if ev.String("traceback_id") != tbID {
		t.Errorf("traceback_id = %q", ev.String("traceback_id"))
	}
	if ev.String("traceback") != "not base64" {
		t.Errorf("traceback = %q", ev.String("traceback"))
	}
}

func TestEmperor(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantType   string
		wantVassal string
	}{
		{
			name:       "ready",
			line:       "Mon Jan  1 00:00:00 2024 - [emperor] vassal " + leafID + ".ini is ready to accept requests",
			wantType:   domain.LogTypeVassalReady,
			wantVassal: leafID,
		},
		{
			name:       "removed",
			line:       "Mon Jan  1 00:00:00 2024 - [emperor] removed uwsgi instance fastrouter.ini",
			wantType:   domain.LogTypeVassalRemoved,
			wantVassal: "fastrouter",
		},
		{
			name: "other",
			line: "Mon Jan  1 00:00:00 2024 - [emperor] curse vassal x.ini",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Emperor(tt.line)
			if ev.LogType() != tt.wantType {
				t.Errorf("log_type = %q, want %q", ev.LogType(), tt.wantType)
			}
			if ev.String("vassal") != tt.wantVassal {
				t.Errorf("vassal = %q, want %q", ev.String("vassal"), tt.wantVassal)
			}
		})
	}
}
