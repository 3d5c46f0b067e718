package aggregator

import (
	"context"
	"errors"
	"io"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// serveEvents pumps store events to a WebSocket client until either side goes
// away. Incoming frames are drained concurrently so close handshakes and pings
// are processed; anything other than a close is ignored. Encoding failures
// skip the event and keep the connection; transport failures terminate it.
// When the event channel closes, the server initiates a clean close.
func serveEvents[T any](ctx context.Context, conn *websocket.Conn, events <-chan T, logger *zap.Logger) error {
	recvErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				recvErr <- err
				return
			}
		}
	}()

	for {
		select {
		case err := <-recvErr:
			if isClientGone(err) {
				logger.Info("client closed websocket")
				return nil
			}
			return err

		case ev, ok := <-events:
			if !ok {
				// Upstream is shutting down; tell the client and go.
				return conn.Close(websocket.StatusNormalClosure, "")
			}

			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error("error marshaling message to send to client", zap.Error(err))
				continue
			}

			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return err
			}

		case <-ctx.Done():
			return conn.Close(websocket.StatusGoingAway, "")
		}
	}
}

func isClientGone(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}
