package websocket

import (
	"encoding/json"
	"log"
	"net/http"

	"faturamento/internal/model"
	"faturamento/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for dev simplicity
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one connected frontend session, identified by the username
// and department from its token.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	username   string
	department string
}

// delivery is one outbound message. An empty recipient list means
// broadcast; otherwise it goes to the named usernames plus every admin
// session.
type delivery struct {
	recipients []string
	payload    []byte
}

// Hub tracks connected clients and routes workflow notifications to them.
type Hub struct {
	clients    map[*Client]bool
	deliveries chan delivery
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		deliveries: make(chan delivery, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's dispatch loop. All client map access happens here.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("websocket: %s (%s) connected", client.username, client.department)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("websocket: %s disconnected", client.username)
			}
		case d := <-h.deliveries:
			for client := range h.clients {
				if !d.wants(client) {
					continue
				}
				select {
				case client.send <- d.payload:
				default:
					// Slow consumer: drop the session rather than the hub.
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

func (d delivery) wants(c *Client) bool {
	if len(d.recipients) == 0 {
		return true
	}
	if c.department == model.DeptAdmin {
		return true
	}
	for _, username := range d.recipients {
		if username == c.username {
			return true
		}
	}
	return false
}

// RejectionBroadcaster adapts the hub to the service notifier contract.
// The notice goes to the requester and their manager (by username) and to
// admin sessions. Dispatch is fire-and-forget; if the hub loop is not
// draining, the notice is dropped.
type RejectionBroadcaster struct {
	hub *Hub
}

func NewRejectionBroadcaster(hub *Hub) *RejectionBroadcaster {
	return &RejectionBroadcaster{hub: hub}
}

func (b *RejectionBroadcaster) NotifyRejection(notice service.RejectionNotice) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":   "request_rejected",
		"notice": notice,
	})
	if err != nil {
		log.Printf("websocket: failed to encode rejection notice: %v", err)
		return
	}
	select {
	case b.hub.deliveries <- delivery{recipients: notice.Recipients, payload: payload}:
	default:
		log.Println("websocket: rejection notice dropped, hub not consuming")
	}
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump drains the connection so pings and close frames are handled;
// clients never send application messages.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket: read error: %v", err)
			}
			break
		}
	}
}

// ServeWs authenticates the query-string token and upgrades the
// connection. Browsers cannot set headers on websocket dials, hence the
// token in the query.
func ServeWs(hub *Hub, c *gin.Context, secret []byte) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		log.Println("websocket: connection rejected, invalid token:", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	username, _ := claims["name"].(string)
	role, _ := claims["role"].(string)
	if !model.ValidDepartment(role) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("websocket: upgrade failed:", err)
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 256),
		username:   username,
		department: role,
	}
	hub.register <- client

	go client.writePump()
	go client.readPump()
}
