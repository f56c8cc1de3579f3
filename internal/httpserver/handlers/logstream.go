package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/MrSnakeDoc/forest/internal/domain"
	"github.com/MrSnakeDoc/forest/internal/druid"
	"github.com/MrSnakeDoc/forest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/forest/internal/httpserver/mw"
	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/peer"
	"github.com/MrSnakeDoc/forest/internal/utils"
)

const (
	streamBuffer = 256
	maxHistory   = 1000
	authTimeout  = 10 * time.Second
)

// tokenMessage is the first frame a websocket client sends when it could
// not set the Token header.
type tokenMessage struct {
	Token string `json:"Token"`
}

// DruidLogStream subscribes the caller to the live events of a leaf. Plain
// GET requests receive newline delimited JSON; websocket upgrades receive
// one JSON message per event. ?history=N replays the last N stored events
// first.
//
// The route is not behind the Token middleware: websocket clients may
// authenticate with their first message instead of a header.
func DruidLogStream(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upgrade := isWebsocket(r)
		if !upgrade && !mw.ValidToken(d.Secret, r.Header.Get(peer.TokenHeader)) {
			writeResult(w, http.StatusForbidden, resultError, "Not authenticated")
			return
		}

		leaf, err := d.Druid.Leaf(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		if upgrade {
			ws := websocket.Server{Handler: func(conn *websocket.Conn) {
				serveLogSocket(d, conn, leaf.ID)
			}}
			ws.ServeHTTP(w, r)
			return
		}
		streamLogs(d, w, r, leaf.ID)
	}
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func historySize(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("history"))
	if err != nil || n < 0 {
		return 0
	}
	return min(n, maxHistory)
}

// subscribe registers a listener before the history is read so no event
// falls between the replay and the live stream.
func subscribe(ctx context.Context, d deps.Deps, leafID string, n int) (*druid.ChanListener, []domain.Event, func()) {
	l := druid.NewChanListener(streamBuffer)
	d.Druid.AddListener(leafID, l)
	cancel := func() { d.Druid.RemoveListener(leafID, l) }

	if n == 0 {
		return l, nil, cancel
	}
	history, err := d.Druid.RecentLogs(ctx, leafID, n)
	if err != nil {
		d.Logger.Warn("log history unavailable", logger.String("leaf", leafID), logger.Error(err))
	}
	return l, history, cancel
}

func streamLogs(d deps.Deps, w http.ResponseWriter, r *http.Request, leafID string) {
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeResult(w, http.StatusInternalServerError, resultError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	l, history, unsubscribe := subscribe(ctx, d, leafID, historySize(r))
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for _, ev := range history {
		if err := enc.Encode(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.C():
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func serveLogSocket(d deps.Deps, conn *websocket.Conn, leafID string) {
	defer utils.Close(conn)
	req := conn.Request()

	if !mw.ValidToken(d.Secret, req.Header.Get(peer.TokenHeader)) {
		_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
		var msg tokenMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil || !mw.ValidToken(d.Secret, msg.Token) {
			d.Logger.Debug("log socket not authenticated", logger.String("leaf", leafID), logger.String("remote_ip", req.RemoteAddr))
			return
		}
		_ = conn.SetReadDeadline(time.Time{})
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	l, history, unsubscribe := subscribe(ctx, d, leafID, historySize(req))
	defer unsubscribe()

	// Incoming frames are ignored; a read error means the peer is gone.
	go func() {
		defer cancel()
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	for _, ev := range history {
		if err := websocket.JSON.Send(conn, ev); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.C():
			if err := websocket.JSON.Send(conn, ev); err != nil {
				return
			}
		}
	}
}
