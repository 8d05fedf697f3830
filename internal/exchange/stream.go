package exchange

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventStream maintains the websocket connection that delivers order,
// fill and position push events. On connection loss it reconnects with a
// fixed delay and emits a ReconnectedEvent flagged for position sync so
// the engine reconciles local state before trusting further events.
type EventStream struct {
	mu sync.RWMutex

	url         string
	accessToken string
	wsConn      *websocket.Conn
	isRunning   bool
	stopChan    chan struct{}
	reconnects  int
	logger      zerolog.Logger

	onOrderUpdate func(OrderUpdateEvent)
	onFill        func(FillEvent)
	onPosition    func(PositionEvent)
	onQuote       func(QuoteEvent)
	onBar         func(BarEvent)
	onReconnected func(ReconnectedEvent)
}

const reconnectDelay = 3 * time.Second

// NewEventStream creates a stream for the given websocket URL.
func NewEventStream(url, accessToken string, logger zerolog.Logger) *EventStream {
	return &EventStream{
		url:         url,
		accessToken: accessToken,
		stopChan:    make(chan struct{}),
		logger:      logger.With().Str("component", "EventStream").Logger(),
	}
}

// SetOrderUpdateCallback sets the handler for order status events.
func (s *EventStream) SetOrderUpdateCallback(cb func(OrderUpdateEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOrderUpdate = cb
}

// SetFillCallback sets the handler for fill events.
func (s *EventStream) SetFillCallback(cb func(FillEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFill = cb
}

// SetPositionCallback sets the handler for net-position events.
func (s *EventStream) SetPositionCallback(cb func(PositionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPosition = cb
}

// SetQuoteCallback sets the handler for price ticks.
func (s *EventStream) SetQuoteCallback(cb func(QuoteEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuote = cb
}

// SetBarCallback sets the handler for completed bars.
func (s *EventStream) SetBarCallback(cb func(BarEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBar = cb
}

// SetReconnectedCallback sets the handler invoked after the connection
// is re-established.
func (s *EventStream) SetReconnectedCallback(cb func(ReconnectedEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnected = cb
}

// Start begins the connection loop.
func (s *EventStream) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connectLoop()
	return nil
}

// Stop closes the stream.
func (s *EventStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	close(s.stopChan)

	if s.wsConn != nil {
		s.wsConn.Close()
	}
	s.logger.Info().Msg("Event stream stopped")
}

// IsRunning reports whether the stream loop is active.
func (s *EventStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *EventStream) connectLoop() {
	firstConnect := true

	for {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		header := map[string][]string{"Authorization": {"Bearer " + s.accessToken}}
		conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("Stream connection failed")
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			select {
			case <-s.stopChan:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		s.mu.Lock()
		s.wsConn = conn
		s.mu.Unlock()

		s.logger.Info().Bool("initial", firstConnect).Msg("Event stream connected")

		// Any connection after the first one may have missed fills or
		// position flattening while down, so the engine must reconcile.
		if !firstConnect {
			s.mu.RLock()
			cb := s.onReconnected
			s.mu.RUnlock()
			if cb != nil {
				cb(ReconnectedEvent{RequiresPositionSync: true})
			}
		}
		firstConnect = false

		s.readLoop(conn)

		s.mu.RLock()
		running = s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		s.logger.Warn().Dur("retry_in", reconnectDelay).Msg("Stream connection lost")
		select {
		case <-s.stopChan:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *EventStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("Stream closed normally")
			} else {
				s.logger.Warn().Err(err).Msg("Stream read error")
			}
			return
		}
		s.handleMessage(message)
	}
}

// streamFrame is the envelope every push message arrives in.
type streamFrame struct {
	EventType string          `json:"e"`
	Data      json.RawMessage `json:"d"`
}

func (s *EventStream) handleMessage(message []byte) {
	var frame streamFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to parse stream frame")
		return
	}

	s.mu.RLock()
	onOrder, onFill, onPos := s.onOrderUpdate, s.onFill, s.onPosition
	onQuote, onBar := s.onQuote, s.onBar
	s.mu.RUnlock()

	switch frame.EventType {
	case "orderUpdate":
		var ev OrderUpdateEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse orderUpdate")
			return
		}
		if onOrder != nil {
			onOrder(ev)
		}

	case "fill":
		var ev FillEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse fill")
			return
		}
		if onFill != nil {
			onFill(ev)
		}

	case "positionUpdate":
		var ev PositionEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse positionUpdate")
			return
		}
		if onPos != nil {
			onPos(ev)
		}

	case "quote":
		var ev QuoteEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse quote")
			return
		}
		if onQuote != nil {
			onQuote(ev)
		}

	case "bar":
		var ev BarEvent
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to parse bar")
			return
		}
		if onBar != nil {
			onBar(ev)
		}

	case "heartbeat":
		// keepalive, no action

	default:
		s.logger.Debug().Str("event_type", frame.EventType).Msg("Unknown stream event")
	}
}
