package api

import (
	"log"
	"net/http"

	"kingdom-core/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// websocket streams market updates and trading events to the client.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Metrics != nil {
		s.Metrics.WSConnected()
		defer s.Metrics.WSDisconnected()
	}

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	market, unsubMarket := s.Bus.Subscribe(events.EventMarketUpdate, 100)
	defer unsubMarket()
	trading, unsubTrading := s.Bus.Subscribe(events.EventTradingEvent, 100)
	defer unsubTrading()

	for {
		select {
		case msg, ok := <-market:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: "market:update", Payload: msg}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case msg, ok := <-trading:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsFrame{Type: "trading:event", Payload: msg}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}
