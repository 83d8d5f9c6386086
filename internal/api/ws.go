package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub fans cohort model change events out to the WebSocket clients watching
// each cohort. The browser uses the feed to refresh its grid after debounced
// saves, chat mutations and execution results land.
type hub struct {
	mu       sync.Mutex
	log      *logrus.Logger
	conns    map[string]map[*wsClient]bool
	attached map[string]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan cohort.Event
}

func newHub(log *logrus.Logger) *hub {
	return &hub{
		log:      log,
		conns:    make(map[string]map[*wsClient]bool),
		attached: make(map[string]bool),
	}
}

// attach subscribes the hub to a session's model exactly once.
func (h *hub) attach(sess *session.Session) {
	h.mu.Lock()
	if h.attached[sess.ID] {
		h.mu.Unlock()
		return
	}
	h.attached[sess.ID] = true
	h.mu.Unlock()

	sess.Model.Subscribe(func(ev cohort.Event) {
		h.broadcast(ev)
	})
}

func (h *hub) broadcast(ev cohort.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.conns[ev.CohortID] {
		select {
		case client.send <- ev:
		default:
			// Slow consumer: drop the connection rather than block edits.
			h.log.WithField("cohort_id", ev.CohortID).Warn("Dropping slow WebSocket client")
			close(client.send)
			delete(h.conns[ev.CohortID], client)
		}
	}
}

func (h *hub) register(cohortID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[cohortID] == nil {
		h.conns[cohortID] = make(map[*wsClient]bool)
	}
	h.conns[cohortID][client] = true
}

func (h *hub) unregister(cohortID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.conns[cohortID]; ok {
		if clients[client] {
			delete(clients, client)
			close(client.send)
		}
		if len(clients) == 0 {
			delete(h.conns, cohortID)
		}
	}
}

// handleWebSocket upgrades the connection and streams model change events
// for the cohort until the client disconnects.
func (s *Server) handleWebSocket(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.hub.attach(sess)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan cohort.Event, 16),
	}
	cohortID := c.Param("id")
	s.hub.register(cohortID, client)

	go s.writePump(cohortID, client)
	s.readPump(cohortID, client)
}

// readPump drains inbound frames to process pongs and detect disconnects.
func (s *Server) readPump(cohortID string, client *wsClient) {
	defer func() {
		s.hub.unregister(cohortID, client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("WebSocket read error")
			}
			return
		}
	}
}

// writePump sends events and keepalive pings.
func (s *Server) writePump(cohortID string, client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
