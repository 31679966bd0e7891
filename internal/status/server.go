// ABOUTME: HTTP and websocket status feed
// ABOUTME: Serves the latest snapshot as JSON and pushes updates to websocket clients
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Sendspin/sendspin-caster/internal/discovery"
	"github.com/Sendspin/sendspin-caster/internal/version"
)

// Config configures the status server
type Config struct {
	// Port to listen on, 0 picks a free port
	Port int
	// Name advertised over mDNS
	Name string
	// EnableMDNS advertises the endpoint on the LAN
	EnableMDNS bool
	// RunID is published in the mDNS TXT record
	RunID string
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Server publishes run snapshots
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	mdns       *discovery.Manager

	// mu guards subs; send channels are only closed under the write lock
	mu      sync.RWMutex
	latest  []byte
	subs    map[string]*subscriber
	stopped bool

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a status server
func NewServer(config Config) *Server {
	if config.Name == "" {
		config.Name = version.Product
	}
	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins on the LAN
			},
		},
		subs:   make(map[string]*subscriber),
		latest: []byte("{}"),
	}
	return s
}

// Start listens and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return errors.Wrap(err, "status listen")
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server: %v", err)
		}
	}()

	log.Printf("Status feed on http://%s/status", ln.Addr())

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.Port(),
			TXT:         []string{"run=" + s.config.RunID, "version=" + version.Version},
		})
		if err := s.mdns.Advertise(); err != nil {
			log.Warnf("mDNS advertisement failed: %v", err)
		}
	}
	return nil
}

// Port returns the bound port
func (s *Server) Port() int {
	if s.listener == nil {
		return s.config.Port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Publish replaces the latest snapshot and pushes it to every subscriber.
// A subscriber that cannot keep up misses updates.
func (s *Server) Publish(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Warnf("status: marshal snapshot: %v", err)
		return
	}

	s.mu.Lock()
	s.latest = data
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		select {
		case sub.send <- data:
		default:
			log.Debugf("status: subscriber %s is slow, skipping update", sub.id)
		}
	}
}

// Subscribers returns the number of connected websocket clients
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	data := s.latest
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("status: websocket upgrade failed: %v", err)
		return
	}

	sub := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 8),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.subs[sub.id] = sub
	sub.send <- s.latest
	s.wg.Add(1)
	s.mu.Unlock()

	log.Debugf("status: subscriber %s connected from %s", sub.id, r.RemoteAddr)

	go s.writer(sub)

	// Reader only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(sub)
}

func (s *Server) writer(sub *subscriber) {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-sub.send:
			if !ok {
				sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				sub.conn.Close()
				return
			}
			sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				sub.conn.Close()
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				sub.conn.Close()
				return
			}
		}
	}
}

func (s *Server) remove(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.id]; ok {
		delete(s.subs, sub.id)
		close(sub.send)
	}
}

// Stop shuts the feed down and disconnects subscribers
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.mdns != nil {
			s.mdns.Stop()
		}

		s.mu.Lock()
		s.stopped = true
		for id, sub := range s.subs {
			delete(s.subs, id)
			close(sub.send)
		}
		s.mu.Unlock()

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(ctx)
		}
		s.wg.Wait()
	})
}
