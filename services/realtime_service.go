package services

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"stockwatch_backend/middleware"
	"stockwatch_backend/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Constants for service configuration
const (
	MaxWebSocketClients   = 100 // Maximum concurrent WebSocket clients
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
	DefaultPushInterval   = 5 * time.Second
)

// WatchlistStock is the snapshot of one watched stock pushed to clients
type WatchlistStock struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	LastPrice     decimal.Decimal `json:"last_price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
}

// WebSocketMessage represents a message pushed to clients
type WebSocketMessage struct {
	Type   string      `json:"type"`
	Stocks interface{} `json:"stocks,omitempty"`
	Stock  interface{} `json:"stock,omitempty"`
	Time   string      `json:"time"`
}

// clientCommand is an inbound message from a WebSocket client
type clientCommand struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// WatchClient represents one authenticated WebSocket session
type WatchClient struct {
	conn       *websocket.Conn
	send       chan []byte
	userID     uint
	subscribed map[string]bool
	done       chan struct{}
	mu         sync.Mutex
}

// RealtimeService owns the live broadcast groups: a per-user group that
// receives periodic watchlist snapshots and per-symbol groups that
// receive server-initiated stock updates.
type RealtimeService struct {
	db           *gorm.DB
	clients      map[*WatchClient]bool
	userGroups   map[uint]map[*WatchClient]bool
	symbolGroups map[string]map[*WatchClient]bool
	register     chan *WatchClient
	unregister   chan *WatchClient
	shutdown     chan struct{}
	mu           sync.RWMutex
	upgrader     websocket.Upgrader
	pushInterval time.Duration
}

// NewRealtimeService creates the broadcast hub and starts its run loop
func NewRealtimeService(db *gorm.DB, pushInterval time.Duration) *RealtimeService {
	if pushInterval <= 0 {
		pushInterval = DefaultPushInterval
	}
	s := &RealtimeService{
		db:           db,
		clients:      make(map[*WatchClient]bool),
		userGroups:   make(map[uint]map[*WatchClient]bool),
		symbolGroups: make(map[string]map[*WatchClient]bool),
		register:     make(chan *WatchClient),
		unregister:   make(chan *WatchClient),
		shutdown:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pushInterval: pushInterval,
	}

	go s.run()
	return s
}

// Shutdown gracefully shuts down the service
func (s *RealtimeService) Shutdown() {
	close(s.shutdown)

	s.mu.Lock()
	for client := range s.clients {
		s.removeClientLocked(client)
	}
	s.mu.Unlock()

	log.Println("Realtime service shutdown complete")
}

// run starts the WebSocket hub
func (s *RealtimeService) run() {
	for {
		select {
		case <-s.shutdown:
			return

		case client := <-s.register:
			s.mu.Lock()
			// Check client limit
			if len(s.clients) >= MaxWebSocketClients {
				s.mu.Unlock()
				// done stops the pumps that were started for this session;
				// without it the watchlist pump would tick forever
				close(client.done)
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
				client.conn.Close()
				log.Printf("WebSocket client rejected: max clients reached (%d)", MaxWebSocketClients)
				continue
			}
			s.clients[client] = true
			if s.userGroups[client.userID] == nil {
				s.userGroups[client.userID] = make(map[*WatchClient]bool)
			}
			s.userGroups[client.userID][client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			log.Printf("WebSocket client connected for user %d. Total clients: %d", client.userID, clientCount)

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				s.removeClientLocked(client)
			}
			clientCount := len(s.clients)
			s.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total clients: %d", clientCount)
		}
	}
}

// removeClientLocked deregisters a client from every group. Caller holds s.mu.
func (s *RealtimeService) removeClientLocked(client *WatchClient) {
	delete(s.clients, client)

	if group, ok := s.userGroups[client.userID]; ok {
		delete(group, client)
		if len(group) == 0 {
			delete(s.userGroups, client.userID)
		}
	}

	client.mu.Lock()
	for symbol := range client.subscribed {
		if group, ok := s.symbolGroups[symbol]; ok {
			delete(group, client)
			if len(group) == 0 {
				delete(s.symbolGroups, symbol)
			}
		}
	}
	client.mu.Unlock()

	// The send channel is never closed; every pump exits through done, so
	// a snapshot push racing this teardown cannot hit a closed channel.
	close(client.done)
	client.conn.Close()
}

// HandleWebSocket authenticates and upgrades a WebSocket connection.
// The bearer token arrives as a query parameter; a missing or invalid
// token is rejected before the upgrade.
func (s *RealtimeService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	claims, err := middleware.ValidateToken(token)
	if err != nil {
		log.Printf("WebSocket token validation failed: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &WatchClient{
		conn:       conn,
		send:       make(chan []byte, 256),
		userID:     claims.UserID,
		subscribed: make(map[string]bool),
		done:       make(chan struct{}),
	}

	s.register <- client

	go client.writePump()
	go s.watchlistPump(client)
	go s.readPump(client)
}

// writePump writes messages to the WebSocket connection
func (c *WatchClient) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound messages from the WebSocket connection.
// Unrecognized message types are ignored.
func (s *RealtimeService) readPump(c *WatchClient) {
	defer func() {
		select {
		case s.unregister <- c:
		case <-s.shutdown:
		}
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "subscribe_stock":
			s.SubscribeSymbol(c, cmd.Symbol)
		case "unsubscribe_stock":
			s.UnsubscribeSymbol(c, cmd.Symbol)
		}
	}
}

// watchlistPump periodically pushes the user's watchlist snapshot.
// An empty watchlist completes the cycle without a push. The loop stops
// as soon as the session deregisters.
func (s *RealtimeService) watchlistPump(c *WatchClient) {
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	// Initial push so a fresh session sees its watchlist immediately
	s.pushWatchlist(c)

	for {
		select {
		case <-c.done:
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pushWatchlist(c)
		}
	}
}

// pushWatchlist reads the user's current watchlist and queues a snapshot
func (s *RealtimeService) pushWatchlist(c *WatchClient) {
	select {
	case <-c.done:
		return
	default:
	}

	stocks, err := s.loadWatchlistStocks(c.userID)
	if err != nil {
		log.Printf("Failed to load watchlist for user %d: %v", c.userID, err)
		return
	}
	if len(stocks) == 0 {
		return
	}

	msg := WebSocketMessage{
		Type:   "watchlist_update",
		Stocks: stocks,
		Time:   time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip this cycle
	}
}

// loadWatchlistStocks reads the stock snapshot fields for a user's watchlist
func (s *RealtimeService) loadWatchlistStocks(userID uint) ([]WatchlistStock, error) {
	var items []models.WatchlistItem
	err := s.db.Where("user_id = ?", userID).
		Preload("Stock").
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	stocks := make([]WatchlistStock, 0, len(items))
	for _, item := range items {
		stocks = append(stocks, WatchlistStock{
			Symbol:        item.Stock.Symbol,
			Name:          item.Stock.Name,
			LastPrice:     item.Stock.LastPrice,
			ChangePercent: item.Stock.ChangePercent,
		})
	}
	return stocks, nil
}

// SubscribeSymbol adds a session to a per-symbol broadcast group
func (s *RealtimeService) SubscribeSymbol(c *WatchClient, symbol string) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return
	}

	s.mu.Lock()
	if s.symbolGroups[symbol] == nil {
		s.symbolGroups[symbol] = make(map[*WatchClient]bool)
	}
	s.symbolGroups[symbol][c] = true
	s.mu.Unlock()

	c.mu.Lock()
	c.subscribed[symbol] = true
	c.mu.Unlock()
}

// UnsubscribeSymbol removes a session from a per-symbol broadcast group
func (s *RealtimeService) UnsubscribeSymbol(c *WatchClient, symbol string) {
	symbol = models.NormalizeSymbol(symbol)

	s.mu.Lock()
	if group, ok := s.symbolGroups[symbol]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(s.symbolGroups, symbol)
		}
	}
	s.mu.Unlock()

	c.mu.Lock()
	delete(c.subscribed, symbol)
	c.mu.Unlock()
}

// BroadcastStockUpdate pushes a refreshed stock snapshot to every session
// subscribed to its symbol.
func (s *RealtimeService) BroadcastStockUpdate(stock *models.Stock) {
	msg := WebSocketMessage{
		Type: "stock_update",
		Stock: WatchlistStock{
			Symbol:        stock.Symbol,
			Name:          stock.Name,
			LastPrice:     stock.LastPrice,
			ChangePercent: stock.ChangePercent,
		},
		Time: time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.symbolGroups[stock.Symbol] {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// GetClientCount returns the number of connected clients
func (s *RealtimeService) GetClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SymbolSubscriberCount returns the number of sessions subscribed to a symbol
func (s *RealtimeService) SymbolSubscriberCount(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbolGroups[models.NormalizeSymbol(symbol)])
}
