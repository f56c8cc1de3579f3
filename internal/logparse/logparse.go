// Package logparse turns raw lines emitted by leaves and by the process
// supervisor into structured records.
package logparse

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/forest/internal/domain"
)

type pattern struct {
	re      *regexp.Regexp
	logType string
	// decode post-processes named captures; a failing decoder keeps the raw capture.
	decode map[string]func(string) (string, bool)
}

var leafPatterns = []pattern{
	{
		re:      regexp.MustCompile(`(?s)^\[Leaf (?P<log_source>\w{24})\]\[Traceback (?P<traceback_id>\w{8}-\w{4}-\w{4}-\w{4}-\w{12})\](?P<traceback>.*)`),
		logType: domain.LogTypeTraceback,
		decode:  map[string]func(string) (string, bool){"traceback": decodeBase64},
	},
	{
		re:      regexp.MustCompile(`(?s)^\[Leaf (?P<log_source>\w{24})\](?P<raw>.*)`),
		logType: domain.LogTypeStdout,
	},
}

var emperorPatterns = []pattern{
	{
		re:      regexp.MustCompile(`^\w.+ - \[emperor\] vassal (?P<vassal>\w+)\.ini is ready to accept requests`),
		logType: domain.LogTypeVassalReady,
	},
	{
		re:      regexp.MustCompile(`^\w.+ - \[emperor\] removed uwsgi instance (?P<vassal>\w+)\.ini`),
		logType: domain.LogTypeVassalRemoved,
	},
}

// linePatterns is the ordered list ingestion matches unstructured lines
// against: leaf output first, then supervisor lifecycle notices.
var linePatterns = slices.Concat(leafPatterns, emperorPatterns)

// numericKeys are request log fields rendered as strings by the supervisor.
var numericKeys = []string{"msecs", "status", "request_size", "response_size"}

// Leaf classifies an unstructured leaf line. Lines matching no known shape
// come back as {"raw": line}.
func Leaf(line string) domain.Event {
	return match(leafPatterns, line)
}

// Emperor classifies a supervisor lifecycle line.
func Emperor(line string) domain.Event {
	return match(emperorPatterns, line)
}

// Line classifies one ingested line. JSON objects are request events with
// their numeric fields normalized; everything else is matched against the
// leaf and supervisor patterns. A supervisor notice is attributed to the
// vassal it names. The returned record always carries a time.
func Line(line string, now time.Time) domain.Event {
	if ev, ok := structured(line, now); ok {
		return ev
	}
	ev := match(linePatterns, line)
	if vassal := ev.String("vassal"); vassal != "" && ev.LogSource() == "" {
		ev["log_source"] = vassal
	}
	ev["time"] = now.UTC()
	return ev
}

func structured(line string, now time.Time) (domain.Event, bool) {
	if !strings.HasPrefix(line, "{") {
		return nil, false
	}
	var ev domain.Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil || ev == nil {
		return nil, false
	}

	ev["time"] = epoch(ev["time"], now)
	for _, key := range numericKeys {
		if v, ok := ev[key]; ok {
			if n, ok := toInt(v); ok {
				ev[key] = n
			}
		}
	}
	ev["log_type"] = domain.LogTypeEvent
	return ev, true
}

func match(patterns []pattern, line string) domain.Event {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ev := domain.Event{"log_type": p.logType}
		for i, name := range p.re.SubexpNames() {
			if name == "" {
				continue
			}
			val := m[i]
			if dec, ok := p.decode[name]; ok {
				if out, ok := dec(val); ok {
					val = out
				}
			}
			ev[name] = val
		}
		return ev
	}
	return domain.Event{"raw": line}
}

func decodeBase64(s string) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func epoch(v any, now time.Time) time.Time {
	if n, ok := toInt(v); ok {
		return time.Unix(int64(n), 0).UTC()
	}
	return now.UTC()
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	case float64:
		return int(x), true
	}
	return 0, false
}
