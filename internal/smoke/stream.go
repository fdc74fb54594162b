package smoke

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/okian/mjolnir/internal/domain/throw"
	"github.com/okian/mjolnir/pkg/logger"
)

// streamListener records the throw ids announced on the live feed.
type streamListener struct {
	conn *websocket.Conn
	done chan struct{}

	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// listenStream connects to the live feed under baseURL.
func listenStream(ctx context.Context, baseURL string) (*streamListener, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/throws/stream"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	l := &streamListener{conn: conn, done: make(chan struct{}), seen: make(map[uuid.UUID]struct{})}
	go l.read(ctx)
	return l, nil
}

func (l *streamListener) read(ctx context.Context) {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		var r throw.Result
		if err := json.Unmarshal(data, &r); err != nil {
			logger.Get().Warn(ctx, "undecodable stream message", logger.Error(err))
			continue
		}
		l.mu.Lock()
		l.seen[r.ThrowID] = struct{}{}
		l.mu.Unlock()
	}
}

// count returns how many of ids were announced.
func (l *streamListener) count(ids []uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := l.seen[id]; ok {
			n++
		}
	}
	return n
}

// close disconnects and waits for the reader to exit.
func (l *streamListener) close() {
	_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = l.conn.Close()
	<-l.done
}
