package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"slowmonitor/internal/models"
)

const streamWriteTimeout = 5 * time.Second

var streamUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveStream(r.Context(), conn)
}

// serveStream pushes a snapshot on connect, after every raw event and on a
// ticker until the client goes away.
func (s *Server) serveStream(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changed := make(chan struct{}, 1)
	unsubscribe, err := s.source.Watch(ctx, func(models.SlowdownEvent) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		s.logger.Warn("stream watch failed", zap.Error(err))
		return
	}
	defer unsubscribe()

	if err := s.pushSnapshot(ctx, conn); err != nil {
		return
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
		case <-changed:
		case <-done:
			return
		case <-ctx.Done():
			return
		}
		if err := s.pushSnapshot(ctx, conn); err != nil {
			return
		}
	}
}

func (s *Server) pushSnapshot(ctx context.Context, conn *websocket.Conn) error {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		s.logger.Debug("stream snapshot failed", zap.Error(err))
		return err
	}
	snap.Events = nonNil(snap.Events)
	snap.Interactions = nonNil(snap.Interactions)
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(snap)
}
