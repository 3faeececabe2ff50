package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/internal/models"
	"collabsync/internal/netmon"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedBuffer       = 16
)

var stateFeedUpgrader = websocket.Upgrader{
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

type statePayload struct {
	State models.ConnectivityState `json:"state"`
	Score int                      `json:"score"`
	Band  string                   `json:"band"`
}

// handleStateWS pushes every qualifying connectivity change to the client.
// The immediate replay on subscribe means the first frame arrives without
// waiting for a change.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := stateFeedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveStateFeed(conn)
}

func (s *Server) serveStateFeed(conn *websocket.Conn) {
	defer conn.Close()

	updates := make(chan models.ConnectivityState, feedBuffer)
	unsubscribe := s.monitor.OnStateChange(func(state models.ConnectivityState) {
		select {
		case updates <- state:
		default:
			// Slow consumer: drop rather than block the publish loop.
		}
	})
	defer unsubscribe()

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
		case state := <-updates:
			score := netmon.Score(state)
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := conn.WriteJSON(statePayload{State: state, Score: score, Band: netmon.Band(score)}); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
