package leaf

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoSnapshot means a vassal config carries no [forest] data entry.
var ErrNoSnapshot = errors.New("no forest snapshot in config")

// ReadSnapshot extracts the snapshot embedded in a vassal config file.
func ReadSnapshot(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSnapshot(raw)
}

// ParseSnapshot scans the [forest] section for its data key.
func ParseSnapshot(raw []byte) (*Snapshot, error) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	inSection := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "["):
			inSection = line == "[forest]"
		case inSection && strings.HasPrefix(line, "data"):
			key, val, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(key) != "data" {
				continue
			}
			var s Snapshot
			if err := json.Unmarshal([]byte(strings.TrimSpace(val)), &s); err != nil {
				return nil, fmt.Errorf("decode snapshot: %w", err)
			}
			return &s, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoSnapshot
}
