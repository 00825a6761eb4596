// Package api hosts preview sessions over a websocket, one controller per connection.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/andresmejia3/mirage/internal/preview"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionHooks connect a controller to the connection that owns it.
type SessionHooks struct {
	Display preview.Display
	// Terminate ends this connection's session on a policy violation.
	Terminate func(err error)
	// Profile is the ?profile= query value; empty for anonymous sessions.
	Profile string
}

// SessionFactory builds a fresh controller from hooks. The returned closer,
// if any, is called when the connection ends.
type SessionFactory func(hooks SessionHooks) (*preview.Controller, io.Closer, error)

// Server upgrades /ws connections into preview sessions.
type Server struct {
	NewSession SessionFactory
	// Start is handed to SelectOutput; nil means outputs are only recorded.
	Start    preview.StartFunc
	upgrader websocket.Upgrader
}

func NewServer(factory SessionFactory, start preview.StartFunc) *Server {
	return &Server{
		NewSession: factory,
		Start:      start,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Router returns the gin engine serving /healthz and /ws.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "mirage"})
	})
	router.GET("/ws", s.HandleWebSocket)
	return router
}

// HandleWebSocket upgrades the request and runs a session until the client leaves.
func (s *Server) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to upgrade to websocket: %v\n", err)
		return
	}

	client := newClient(uuid.New().String(), conn)
	ctrl, closer, err := s.NewSession(SessionHooks{
		Display:   client.display(),
		Terminate: client.terminate,
		Profile:   c.Query("profile"),
	})
	if err != nil {
		client.writeNow(Message{Type: MessageError, SessionID: client.ID, Payload: TextPayload{Text: err.Error()}})
		conn.Close()
		return
	}
	client.ctrl = ctrl
	client.start = s.Start

	ctx, cancel := context.WithCancel(context.Background())
	fmt.Fprintf(os.Stderr, "🔌 Session %s connected\n", client.ID)
	go client.WritePump()
	client.inflight.Add(1)
	go func() {
		defer client.inflight.Done()
		client.CommandPump(ctx)
	}()
	client.ReadPump()
	cancel()
	client.wait()
	if closer != nil {
		closer.Close()
	}
	fmt.Fprintf(os.Stderr, "👋 Session %s closed\n", client.ID)
}
