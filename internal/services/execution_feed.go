package services

import (
	"net/http"
	"sync"
	"time"

	"trackwise/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// FeedMessage is one frame on the execution feed.
type FeedMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type feedClient struct {
	id   string
	conn *websocket.Conn
	send chan FeedMessage
}

// ExecutionFeed broadcasts finished rule executions to connected websocket
// observers.
type ExecutionFeed struct {
	clients    map[string]*feedClient
	broadcast  chan FeedMessage
	register   chan *feedClient
	unregister chan *feedClient
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

var feedUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewExecutionFeed creates an idle feed; call Run to start it.
func NewExecutionFeed(logger *logrus.Logger) *ExecutionFeed {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionFeed{
		clients:    make(map[string]*feedClient),
		broadcast:  make(chan FeedMessage, 64),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		logger:     logger,
	}
}

// Run pumps registrations and broadcasts. Blocks; run in a goroutine.
func (f *ExecutionFeed) Run() {
	for {
		select {
		case client := <-f.register:
			f.mutex.Lock()
			f.clients[client.id] = client
			f.mutex.Unlock()
			f.logger.Debugf("execution feed: client %s connected", client.id)
		case client := <-f.unregister:
			f.mutex.Lock()
			if _, ok := f.clients[client.id]; ok {
				delete(f.clients, client.id)
				close(client.send)
			}
			f.mutex.Unlock()
			f.logger.Debugf("execution feed: client %s disconnected", client.id)
		case msg := <-f.broadcast:
			f.mutex.RLock()
			for _, client := range f.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer; drop the frame rather than block the feed.
				}
			}
			f.mutex.RUnlock()
		}
	}
}

// Publish queues an execution record for broadcast. Never blocks the
// engine.
func (f *ExecutionFeed) Publish(exec *models.Execution) {
	msg := FeedMessage{Type: "execution", Data: exec, Timestamp: time.Now().UTC()}
	select {
	case f.broadcast <- msg:
	default:
		f.logger.Warn("execution feed: broadcast buffer full, dropping frame")
	}
}

// ClientCount reports connected observers.
func (f *ExecutionFeed) ClientCount() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.clients)
}

// HandleWebSocket upgrades an HTTP request into a feed subscription.
func (f *ExecutionFeed) HandleWebSocket(c *gin.Context) {
	conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warnf("execution feed: upgrade failed: %v", err)
		return
	}

	client := &feedClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan FeedMessage, 16),
	}
	f.register <- client

	go f.writePump(client)
	go f.readPump(client)
}

func (f *ExecutionFeed) writePump(client *feedClient) {
	defer client.conn.Close()
	for msg := range client.send {
		if err := client.conn.WriteJSON(msg); err != nil {
			f.logger.Debugf("execution feed: write to %s: %v", client.id, err)
			return
		}
	}
}

// readPump discards inbound frames; it exists to detect disconnects.
func (f *ExecutionFeed) readPump(client *feedClient) {
	defer func() {
		f.unregister <- client
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
