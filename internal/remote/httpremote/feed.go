package httpremote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/snippetvault/internal/apperror"
	"github.com/sakif/snippetvault/internal/remote"
)

const feedPath = "/api/snippets/feed"

// Subscribe opens the WebSocket change feed of userID. The first connection
// is made before Subscribe returns, so a bad token fails here with an
// unauthorized error. After that, dropped connections are redialed with
// backoff until the subscription is released.
//
// A reconnect replays the user's snippets as added events. Deletes that
// happened while disconnected are recovered by listing the snippets once
// the new connection is up: every id announced before the drop that is no
// longer listed is reported as removed.
func (c *Client) Subscribe(ctx context.Context, userID string, onChange remote.ChangeFunc) (remote.Unsubscribe, error) {
	if userID == "" {
		return nil, apperror.AuthRequired()
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &feed{
		client:   c,
		userID:   userID,
		onChange: onChange,
		known:    make(map[string]struct{}),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.run(subCtx, ws)
	}()

	return remote.OnceUnsubscribe(func() {
		cancel()
		<-done
	}), nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	c.authorize(header)

	ws, resp, err := c.dialer.DialContext(ctx, c.endpoint("ws", feedPath), header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("httpremote: dialing feed: %w", err)
	}
	return ws, nil
}

// feed is the state of one subscription. Only the run goroutine touches it.
type feed struct {
	client   *Client
	userID   string
	onChange remote.ChangeFunc
	known    map[string]struct{} // ids currently announced to onChange
}

// run reads ws until it drops, then redials and repeats until ctx ends.
//
// BACKOFF:
// The delay starts at ReconnectMin and doubles after every failed dial, up
// to ReconnectMax. It resets once a connection has been made, so a server
// restart costs one short pause, not the maximum.
func (f *feed) run(ctx context.Context, ws *websocket.Conn) {
	logger := f.client.logger.With(slog.String("user_id", f.userID))
	settings := f.client.settings

	for {
		err := f.read(ctx, ws)
		if ctx.Err() != nil {
			return
		}
		logger.Info("feed connection lost", slog.String("error", err.Error()))

		// === REDIAL ===
		backoff := settings.ReconnectMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, settings.ReconnectMax)

			ws, err = f.client.dial(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn("feed reconnect failed", slog.String("error", err.Error()))
		}

		// === CATCH UP ===
		// the new connection replays adds; resync finds the deletes
		logger.Info("feed reconnected")
		f.resync(ctx, logger)
	}
}

// read delivers frames from ws until it fails or ctx ends.
func (f *feed) read(ctx context.Context, ws *websocket.Conn) error {
	defer ws.Close()
	// closing the socket is the only way to interrupt ReadMessage
	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	// The server pings every PingInterval. Each ping pushes the read deadline
	// forward, so a server that goes silent is noticed after ReadTimeout.
	settings := f.client.settings
	ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(settings.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

// handle decodes one frame and tracks which ids onChange currently knows.
func (f *feed) handle(data []byte) {
	ev, err := remote.DecodeEvent(data)
	if err != nil {
		f.client.logger.Warn("dropping malformed feed frame", slog.String("error", err.Error()))
		return
	}
	if ev.Kind != remote.Removed && ev.UserID() != f.userID {
		f.client.logger.Warn("dropping event for another user",
			slog.String("id", ev.ID),
			slog.String("owner", ev.UserID()),
		)
		return
	}

	if ev.Kind == remote.Removed {
		delete(f.known, ev.ID)
	} else {
		f.known[ev.ID] = struct{}{}
	}
	f.onChange(ev)
}

// resync reports as removed every known id the server no longer lists.
func (f *feed) resync(ctx context.Context, logger *slog.Logger) {
	if len(f.known) == 0 {
		return
	}
	list, err := f.client.List(ctx)
	if err != nil {
		logger.Warn("feed resync failed", slog.String("error", err.Error()))
		return
	}
	present := make(map[string]struct{}, len(list))
	for _, s := range list {
		present[s.ID] = struct{}{}
	}
	for id := range f.known {
		if _, ok := present[id]; !ok {
			delete(f.known, id)
			f.onChange(remote.RemovedEvent(id))
		}
	}
}
