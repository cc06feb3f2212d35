package network

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second // Таймаут записи
	pongWait       = 60 * time.Second // Сколько ждём pong
	pingPeriod     = 30 * time.Second // Пинг каждые 30 секунд
	maxMessageSize = 4096             // Ограничение размера входящего сообщения
	sendBufferSize = 256              // Буфер исходящих сообщений клиента
	drainWait      = 5 * time.Second  // Сколько Stop ждёт завершения обработчиков
)

// ServerConfig задаёт параметры TowerServer
type ServerConfig struct {
	SendBufferSize int
	AllowedOrigins []string // пусто: любой Origin
}

// Client представляет подключенного клиента
type Client struct {
	conn        *websocket.Conn // WebSocket соединение
	send        chan []byte     // Канал для отправки сообщений
	id          string          // Уникальный идентификатор (UUID)
	remoteAddr  string
	connectedAt time.Time
	closeOnce   sync.Once
	joined      bool // под TowerServer.mu; учтён в pumps
}

// ID возвращает идентификатор клиента
func (c *Client) ID() string { return c.id }

// RemoteAddr возвращает адрес клиента
func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Send ставит сообщение в очередь клиента, не блокируя. Безопасен, пока
// очередь не закрыта: внутри OnClientConnect и пока клиент в таблице сервера.
// Возвращает false, если буфер клиента переполнен.
func (c *Client) Send(message *Message) (bool, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return false, err
	}
	return c.enqueue(data), nil
}

func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend закрывает очередь; writePump отправит close-фрейм и завершится
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// MessageHandler определяет интерфейс для обработки сообщений клиентов
type MessageHandler interface {
	HandleMessage(client *Client, message *Message) error
	// OnClientConnect вызывается до того, как клиент станет получать рассылки.
	// join добавляет клиента в таблицу рассылок; обработчик вызывает его сам,
	// после того как поставил в очередь начальное состояние. Ошибка означает
	// отказ в подключении.
	OnClientConnect(client *Client, join func() error) error
	OnClientDisconnect(client *Client)
}

// TowerServer обрабатывает websocket-соединения посетителей башни
type TowerServer struct {
	upgrader       websocket.Upgrader
	clients        map[string]*Client // Карта подключенных клиентов
	messageHandler MessageHandler     // Обработчик сообщений
	sendBufferSize int
	mu             sync.RWMutex
	running        bool
	pumps          sync.WaitGroup // readPump принятых клиентов
	log            *logging.Logger
}

// NewTowerServer создает сервер; обработчик задаётся через SetHandler
func NewTowerServer(cfg ServerConfig) *TowerServer {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = sendBufferSize
	}

	s := &TowerServer{
		clients:        make(map[string]*Client),
		sendBufferSize: cfg.SendBufferSize,
		running:        true,
		log:            logging.GetNetworkLogger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// SetHandler устанавливает обработчик сообщений
func (s *TowerServer) SetHandler(handler MessageHandler) {
	s.mu.Lock()
	s.messageHandler = handler
	s.mu.Unlock()
}

// Stop закрывает все соединения и перестаёт принимать новые
func (s *TowerServer) Stop() {
	s.mu.Lock()
	s.running = false
	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()

	for _, client := range clients {
		s.removeClient(client)
	}

	// Ждём, пока readPump завершат начатую обработку сообщений
	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainWait):
		s.log.Warn("⏳ Message handlers still running after %v", drainWait)
	}
	s.log.Info("🛑 Tower server stopped, closed %d connections", len(clients))
}

// HandleConnection обрабатывает новое WebSocket подключение
func (s *TowerServer) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Error upgrading connection: %v", err)
		return
	}

	client := &Client{
		conn:        conn,
		send:        make(chan []byte, s.sendBufferSize),
		id:          uuid.NewString(),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
	}

	go s.writePump(client)

	if err := s.register(client); err != nil {
		s.log.Info("🚫 Connection refused %s (%s): %v", client.id, client.remoteAddr, err)
		client.closeSend()
		return
	}

	go s.readPump(client)
}

// register передаёт клиента обработчику. Обработчик сам решает, когда
// вызвать join, чтобы между начальным состоянием и появлением клиента в
// таблице не прошла ни одна рассылка.
func (s *TowerServer) register(client *Client) error {
	s.mu.RLock()
	handler := s.messageHandler
	s.mu.RUnlock()

	join := func() error { return s.join(client) }
	if handler == nil {
		return join()
	}
	if err := handler.OnClientConnect(client, join); err != nil {
		s.forget(client)
		return err
	}

	s.mu.RLock()
	joined := client.joined
	s.mu.RUnlock()
	if !joined {
		return join()
	}
	return nil
}

// join добавляет клиента в таблицу рассылок
func (s *TowerServer) join(client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServerStopped
	}
	s.clients[client.id] = client
	if !client.joined {
		client.joined = true
		s.pumps.Add(1)
	}
	s.log.Info("🔌 Client connected: %s (%s), total %d", client.id, client.remoteAddr, len(s.clients))
	return nil
}

// forget откатывает join, если обработчик отказал клиенту уже после него
func (s *TowerServer) forget(client *Client) {
	s.mu.Lock()
	if current, ok := s.clients[client.id]; ok && current == client {
		delete(s.clients, client.id)
	}
	joined := client.joined
	client.joined = false
	s.mu.Unlock()

	if joined {
		s.pumps.Done()
	}
}

// removeClient удаляет клиента из таблицы и закрывает его очередь
func (s *TowerServer) removeClient(client *Client) {
	s.mu.Lock()
	current, ok := s.clients[client.id]
	if ok && current == client {
		delete(s.clients, client.id)
	}
	handler := s.messageHandler
	total := len(s.clients)
	s.mu.Unlock()

	client.closeSend()
	if ok && current == client {
		if handler != nil {
			handler.OnClientDisconnect(client)
		}
		s.log.Info("👋 Client disconnected: %s, total %d", client.id, total)
	}
}

// readPump асинхронно читает сообщения от клиента
func (s *TowerServer) readPump(client *Client) {
	defer func() {
		s.removeClient(client)
		client.conn.Close()
		s.pumps.Done()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("Error reading message from %s: %v", client.id, err)
			}
			break
		}
		client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.LogProtocolError(client.id, err, data)
			continue
		}

		s.mu.RLock()
		handler := s.messageHandler
		s.mu.RUnlock()
		if handler == nil {
			continue
		}
		if err := handler.HandleMessage(client, &msg); err != nil {
			s.log.Debug("Error handling %s from %s: %v", msg.Type, client.id, err)
		}
	}
}

// writePump асинхронно отправляет сообщения клиенту
func (s *TowerServer) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрыт
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// SendToClient отправляет сообщение конкретному клиенту.
// Клиент с переполненным буфером отключается.
func (s *TowerServer) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	s.mu.RLock()
	client, exists := s.clients[clientID]
	ok := exists && client.enqueue(data)
	s.mu.RUnlock()

	if !exists {
		return ErrClientNotFound
	}
	if !ok {
		s.log.Warn("🐢 Send buffer full, dropping client %s", clientID)
		s.removeClient(client)
	}
	return nil
}

// BroadcastExcept отправляет сообщение всем клиентам, кроме exceptID.
// Не блокирует: медленные клиенты с переполненным буфером отключаются.
// Возвращает число клиентов, которым сообщение поставлено в очередь.
func (s *TowerServer) BroadcastExcept(exceptID string, message *Message) (int, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return 0, err
	}

	var slow []*Client
	delivered := 0

	s.mu.RLock()
	for id, client := range s.clients {
		if id == exceptID {
			continue
		}
		if client.enqueue(data) {
			delivered++
		} else {
			slow = append(slow, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range slow {
		s.log.Warn("🐢 Send buffer full, dropping client %s", client.id)
		s.removeClient(client)
	}
	return delivered, nil
}

// Disconnect закрывает соединение клиента
func (s *TowerServer) Disconnect(clientID string) bool {
	s.mu.RLock()
	client, exists := s.clients[clientID]
	s.mu.RUnlock()

	if !exists {
		return false
	}
	s.removeClient(client)
	return true
}

// GetConnectedClients возвращает количество подключенных клиентов
func (s *TowerServer) GetConnectedClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ClientIDs возвращает идентификаторы подключенных клиентов
func (s *TowerServer) ClientIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}
