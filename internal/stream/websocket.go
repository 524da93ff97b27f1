package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait bounds a single frame write
	wsWriteWait = 10 * time.Second
	// wsPongWait is how long the peer may stay silent before the connection is dropped
	wsPongWait = 60 * time.Second
	// wsPingPeriod must stay below wsPongWait
	wsPingPeriod = (wsPongWait * 9) / 10
	// wsMaxMessageSize matches the HTTP update body limit
	wsMaxMessageSize = 64 << 10
)

// MessageHandler handles one inbound text frame.
// A returned reply, if any, is written back to the same connection.
type MessageHandler func(ctx context.Context, msg []byte) (reply []byte)

// ServeWebSocket pumps outbox events to conn and feeds inbound text frames to handle
// until ctx is done, the peer goes away or the outbox closes. conn is closed on return.
func ServeWebSocket(ctx context.Context, conn *websocket.Conn, outbox *Outbox, handle MessageHandler) error {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan []byte, 1)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readPump(ctx, conn, handle, replies)
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-outbox.Events():
			if err := writeFrame(conn, websocket.TextMessage, ev.Data); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		case reply := <-replies:
			if err := writeFrame(conn, websocket.TextMessage, reply); err != nil {
				return fmt.Errorf("failed to write reply: %w", err)
			}
		case <-ticker.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("failed to write ping: %w", err)
			}
		case err := <-readErr:
			if isPeerClose(err) {
				return nil
			}
			return err
		case <-outbox.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "client too slow")
			_ = writeFrame(conn, websocket.CloseMessage, closeMsg)
			return outbox.Err()
		case <-ctx.Done():
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = writeFrame(conn, websocket.CloseMessage, closeMsg)
			return nil
		}
	}
}

func readPump(ctx context.Context, conn *websocket.Conn, handle MessageHandler, replies chan<- []byte) error {
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if msgType != websocket.TextMessage {
			slog.Debug("Ignoring non-text websocket frame", "type", msgType)
			continue
		}

		reply := handle(ctx, msg)
		if reply == nil {
			continue
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return nil
		}
	}
}

func writeFrame(conn *websocket.Conn, msgType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(msgType, data)
}

func isPeerClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return false
}

// NewUpgrader returns the upgrader used for client windows.
// checkOrigin may be nil to accept any origin.
func NewUpgrader(checkOrigin func(origin string) bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin == nil {
				return true
			}
			return checkOrigin(r.Header.Get("Origin"))
		},
	}
}
