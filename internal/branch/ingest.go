package branch

import (
	"context"
	"strings"

	"github.com/MrSnakeDoc/forest/internal/logparse"
)

// Ingest parses raw leaf log lines, stamps them with this branch and
// hands each record to the sink chain.
func (b *Branch) Ingest(ctx context.Context, lines []string) {
	now := b.now()
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		ev := logparse.Line(line, now)
		ev["component_name"] = b.opts.Name
		ev["component_type"] = "branch"
		b.loggers.Dispatch(ctx, ev)
	}
}

// HandleLines adapts Ingest to a log stream handler.
func (b *Branch) HandleLines(lines []string) {
	b.Ingest(context.Background(), lines)
}
