package platform

import (
	"net"
	"strings"
	"time"
)

// DialWatcher derives online/offline from periodic TCP dial probes and feeds
// the result into a Hub. It is the connectivity signal source for headless
// deployments that have no platform event to listen to.
type DialWatcher struct {
	hub      *Hub
	target   string
	interval time.Duration
	timeout  time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDialWatcher configures a watcher probing target every interval.
func NewDialWatcher(hub *Hub, target string, interval, timeout time.Duration) *DialWatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &DialWatcher{
		hub:      hub,
		target:   target,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the probe loop. The first probe runs immediately so the hub
// is seeded before anyone subscribes.
func (w *DialWatcher) Start() {
	go w.run()
}

// Stop requests the probe loop to terminate and waits until it has.
func (w *DialWatcher) Stop() {
	select {
	case <-w.doneCh:
		return
	default:
	}
	close(w.stopCh)
	<-w.doneCh
}

func (w *DialWatcher) run() {
	defer close(w.doneCh)

	w.probe()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.probe()
		case <-w.stopCh:
			return
		}
	}
}

func (w *DialWatcher) probe() {
	target := strings.TrimSpace(w.target)
	if target == "" {
		target = "1.1.1.1"
	}

	address := target
	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, "53")
	}

	conn, err := net.DialTimeout("tcp", address, w.timeout)
	if err == nil {
		_ = conn.Close()
	}
	w.hub.ReportConnectivity(err == nil, nil)
}
