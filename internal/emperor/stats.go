package emperor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/utils"
)

// Stats is the document served by the emperor stats server.
type Stats struct {
	Vassals []map[string]any `json:"vassals"`
}

// Stats connects to the stats server, reads until it closes the
// connection and decodes the whole buffer.
func (e *Emperor) Stats(ctx context.Context) (*Stats, error) {
	d := net.Dialer{Timeout: e.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", e.opts.StatsAddr)
	if err != nil {
		return nil, fmt.Errorf("dial emperor stats: %w", err)
	}
	defer utils.Close(conn)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read emperor stats: %w", err)
	}

	var st Stats
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode emperor stats: %w", err)
	}
	return &st, nil
}

// VassalStats returns the stats record of one vassal, or an empty map when
// the supervisor does not know it.
func (e *Emperor) VassalStats(ctx context.Context, id string) (map[string]any, error) {
	st, err := e.Stats(ctx)
	if err != nil {
		return nil, err
	}
	want := id + configExt
	for _, v := range st.Vassals {
		if s, _ := v["id"].(string); s == want {
			return v, nil
		}
	}
	return map[string]any{}, nil
}

// RefreshStatus marks registered vassals the supervisor reports as ready
// as Running. Vassals adopted after a restart never see a "ready" event,
// this scan catches them up.
func (e *Emperor) RefreshStatus(ctx context.Context) error {
	st, err := e.Stats(ctx)
	if err != nil {
		return err
	}
	for _, rec := range st.Vassals {
		name, _ := rec["id"].(string)
		if !strings.HasSuffix(name, configExt) {
			continue
		}
		v, ok := e.Vassal(strings.TrimSuffix(name, configExt))
		if !ok {
			continue
		}
		if ready, _ := rec["ready"].(float64); ready == 1 && v.Status() != StatusRunning {
			v.SetStatus(StatusRunning)
		}
	}
	e.log.Debug("vassal status refreshed",
		logger.Component(component), logger.Int("vassals", len(st.Vassals)))
	return nil
}

func intField(rec map[string]any, key string) (int, bool) {
	switch v := rec[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
