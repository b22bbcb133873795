package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/snippetvault/internal/auth"
	"github.com/sakif/snippetvault/internal/remote"
	"github.com/sakif/snippetvault/internal/service"
)

// FeedSettings are the WebSocket timings. The server pings every
// PingInterval and gives up on a peer silent for longer than PongWait.
type FeedSettings struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
}

// DefaultFeedSettings pings every 30s and drops a peer after 60s of
// silence.
func DefaultFeedSettings() FeedSettings {
	return FeedSettings{
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// FeedHandler streams the caller's change feed over a WebSocket as JSON text
// frames: {"kind":"added|modified|removed","id":"...","snippet":{...}}.
//
// The subscription starts with one added frame per existing snippet, so a
// client that reconnects rebuilds its state from the frames alone.
type FeedHandler struct {
	snippets *service.SnippetService
	upgrader websocket.Upgrader
	settings FeedSettings
	logger   *slog.Logger
}

// NewFeedHandler returns a FeedHandler subscribing through snippets.
func NewFeedHandler(snippets *service.SnippetService, settings FeedSettings, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{
		snippets: snippets,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		settings: settings,
		logger:   logger,
	}
}

// HandleFeed upgrades the request and runs until either side goes away.
//
// HTTP: GET /api/snippets/feed (WebSocket)
//
// GOROUTINES ON ONE CONNECTION:
// gorilla/websocket allows one concurrent reader and one concurrent writer.
//   - the change feed calls send from the broker's delivery goroutine
//   - this goroutine writes pings
//   - a reader goroutine handles pongs and notices the peer closing
//
// The two writers share writeMu. WriteControl is documented as safe to call
// concurrently, but it is kept under the lock too so a ping can never land in
// the middle of a frame. Any failure cancels ctx, which ends all three.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		h.logger.Warn("feed upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	// the hijacked connection is ours now; the request context no longer
	// tracks it
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var writeMu sync.Mutex
	send := func(ev remote.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if ctx.Err() != nil {
			return
		}
		ws.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
		if err := ws.WriteJSON(ev); err != nil {
			// a write deadline cannot be recovered from
			h.logger.Info("feed write failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			cancel()
		}
	}

	unsub, err := h.snippets.Subscribe(ctx, userID, send)
	if err != nil {
		h.logger.Error("feed subscribe failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(h.settings.WriteTimeout))
		writeMu.Unlock()
		return
	}
	defer unsub()

	h.logger.Info("feed connected", slog.String("user_id", userID))

	// The client never sends data; reading drives pong handling and notices
	// a close or a dead peer.
	go func() {
		defer cancel()
		ws.SetReadDeadline(time.Now().Add(h.settings.PongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(h.settings.PongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("feed disconnected", slog.String("user_id", userID))
			return
		case <-ticker.C:
			writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.settings.WriteTimeout))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
