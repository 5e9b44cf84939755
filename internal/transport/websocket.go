package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"spotbot-core/internal/events"
	"spotbot-core/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// outboundFrame mirrors the shapes in spec.md §6 "Outbound events".
type outboundFrame struct {
	Type    string       `json:"type"`
	Status  model.Status `json:"status,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Payload any          `json:"payload,omitempty"`
}

// inboundFrame mirrors spec.md §6 "Inbound commands".
type inboundFrame struct {
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var subscribedKinds = []events.Kind{
	events.KindStatus,
	events.KindLog,
	events.KindMarket,
	events.KindPortfolio,
	events.KindLedger,
}

func (s *Server) websocket(c *gin.Context) {
	if !AuthorizeWebSocket(c, s.JWTSecret) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("transport: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.initialStateFrame()); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var wg sync.WaitGroup
	for _, k := range subscribedKinds {
		stream, unsub := s.Bus.Subscribe(k, 64)
		wg.Add(1)
		go s.relay(ctx, cancel, &wg, conn, k, stream, unsub)
	}

	s.readCommands(ctx, conn)
	cancel()
	wg.Wait()
}

func (s *Server) initialStateFrame() outboundFrame {
	snap := s.Engine.Snapshot()
	return outboundFrame{
		Type: "initial_state",
		Payload: gin.H{
			"botStatus":   snap.Status,
			"settings":    snap.Settings,
			"logs":        snap.Logs,
			"portfolio":   snap.Portfolio,
			"usdtBalance": snap.UsdtBalance,
			"tradeLedger": snap.Ledger,
			"marketData":  snap.Coins,
		},
	}
}

// relay forwards one subscriber's stream to the socket until the
// context is cancelled, the stream closes (the bus dropped a stalled
// subscriber), or a write fails.
func (s *Server) relay(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, conn *websocket.Conn, k events.Kind, stream <-chan any, unsub func()) {
	defer wg.Done()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(buildFrame(k, msg)); err != nil {
				cancel()
				return
			}
		}
	}
}

func buildFrame(k events.Kind, msg any) outboundFrame {
	switch k {
	case events.KindStatus:
		ev, _ := msg.(events.StatusEvent)
		return outboundFrame{Type: "status", Status: ev.Status, Reason: ev.Reason}
	case events.KindLog:
		return outboundFrame{Type: "log", Payload: msg}
	case events.KindMarket:
		ev, _ := msg.(events.MarketEvent)
		return outboundFrame{Type: "market_update_full", Payload: ev.Coins}
	case events.KindPortfolio:
		ev, _ := msg.(events.PortfolioEvent)
		return outboundFrame{Type: "portfolio_update", Payload: gin.H{
			"portfolio":   ev.Items,
			"usdtBalance": ev.QuoteBalance.Free,
		}}
	case events.KindLedger:
		ev, _ := msg.(events.LedgerEvent)
		return outboundFrame{Type: "trade_ledger_update", Payload: []model.CompletedTrade{ev.Trade}}
	default:
		return outboundFrame{Type: string(k), Payload: msg}
	}
}

// readCommands blocks reading inbound frames until the connection
// closes, demultiplexing each into an engine call. Per spec.md §9, the
// transport does no domain logic beyond this dispatch.
func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn) {
	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		s.dispatchInbound(ctx, in)
	}
}

func (s *Server) dispatchInbound(ctx context.Context, in inboundFrame) {
	switch in.Type {
	case "command":
		switch in.Command {
		case "START_BOT":
			s.Engine.Start()
		case "STOP_BOT":
			s.Engine.Stop(false)
		case "KILL_SWITCH":
			s.Engine.Stop(true)
		default:
			log.Printf("transport: unknown command %q", in.Command)
		}
	case "settings":
		var settings model.Settings
		if err := json.Unmarshal(in.Payload, &settings); err != nil {
			log.Printf("transport: invalid settings payload: %v", err)
			return
		}
		if err := s.Engine.UpdateSettings(ctx, settings); err != nil {
			log.Printf("transport: update settings rejected: %v", err)
		}
	default:
		log.Printf("transport: unknown inbound message type %q", in.Type)
	}
}
