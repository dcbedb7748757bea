package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const tailWriteTimeout = 5 * time.Second

// tailLogs streams every finished invocation of a function over a
// websocket as JSON entries until the client goes away.
func (s *Server) tailLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Get(id); err != nil {
		writeErr(w, statusFor(err), "Function not found")
		return
	}

	sub := s.tail.Subscribe(id)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Debug("log tail upgrade failed", zap.String("function_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx once they disconnect.
	ctx := conn.CloseRead(r.Context())
	s.log.Debug("log tail attached", zap.String("function_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "tail closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, tailWriteTimeout)
			err := wsjson.Write(wctx, conn, entry)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
