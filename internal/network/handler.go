package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-tower/internal/eventbus"
	"github.com/annel0/voxel-tower/internal/logging"
	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/annel0/voxel-tower/internal/vec"
)

var (
	// ErrNoTower: башня не загружена, подключения не принимаются
	ErrNoTower = errors.New("tower is not available")
	// ErrServerStopped: сервер остановлен
	ErrServerStopped = errors.New("server stopped")
	// ErrClientNotFound: клиента нет в таблице подключений
	ErrClientNotFound = errors.New("client not found")
)

// Broadcaster рассылает сообщения подключённым клиентам
type Broadcaster interface {
	BroadcastExcept(exceptID string, message *Message) (int, error)
	SendToClient(clientID string, message *Message) error
}

// SaveScheduler откладывает сохранение башни (sync.SaveScheduler)
type SaveScheduler interface {
	Schedule()
}

// HandlerOptions: необязательные зависимости TowerHandler
type HandlerOptions struct {
	ServerID         string            // Source событий шины
	Bus              eventbus.EventBus // nil: события не публикуются
	Metrics          *Metrics          // nil: без метрик
	NotifyRejections bool              // отвечать blockrejected запросившему
}

// PlacementStats: счётчики обработанных блоков
type PlacementStats struct {
	Accepted  int64 `json:"accepted"`
	Rejected  int64 `json:"rejected"`
	Malformed int64 `json:"malformed"`
}

// TowerHandler связывает websocket-клиентов с состоянием башни
type TowerHandler struct {
	tower  *tower.Tower
	server Broadcaster
	saver  SaveScheduler
	opts   HandlerOptions
	log    *logging.Logger

	// placeMu удерживается от AddBlock до постановки рассылки в очереди,
	// чтобы клиенты получали принятые блоки в порядке их применения.
	// Подключение (снимок + join) идёт под ним же.
	placeMu sync.Mutex

	accepted  atomic.Int64
	rejected  atomic.Int64
	malformed atomic.Int64
}

// NewTowerHandler создаёт обработчик. tw может быть nil: тогда все
// подключения отклоняются с ErrNoTower.
func NewTowerHandler(tw *tower.Tower, server Broadcaster, saver SaveScheduler, opts HandlerOptions) *TowerHandler {
	return &TowerHandler{
		tower:  tw,
		server: server,
		saver:  saver,
		opts:   opts,
		log:    logging.GetComponentLogger("sync"),
	}
}

// Tower возвращает обслуживаемую башню (может быть nil)
func (h *TowerHandler) Tower() *tower.Tower {
	return h.tower
}

// Stats возвращает счётчики обработанных блоков
func (h *TowerHandler) Stats() PlacementStats {
	return PlacementStats{
		Accepted:  h.accepted.Load(),
		Rejected:  h.rejected.Load(),
		Malformed: h.malformed.Load(),
	}
}

// OnClientConnect отправляет новому клиенту снимок башни и включает его в
// рассылки. Под placeMu блок попадает либо в снимок, либо в рассылку
// клиенту, но не в оба сразу.
func (h *TowerHandler) OnClientConnect(client *Client, join func() error) error {
	if h.tower == nil {
		return ErrNoTower
	}

	h.placeMu.Lock()
	defer h.placeMu.Unlock()

	msg, err := NewMessage(MsgTypeOnStart, h.tower.Export())
	if err != nil {
		return fmt.Errorf("encode onstart: %w", err)
	}
	ok, err := client.Send(msg)
	if err != nil {
		return fmt.Errorf("send onstart: %w", err)
	}
	if !ok {
		return fmt.Errorf("send onstart: queue full")
	}
	return join()
}

// OnClientDisconnect реализует MessageHandler; состояния клиента нет
func (h *TowerHandler) OnClientDisconnect(client *Client) {
	h.log.Debug("client %s left", client.ID())
}

// HandleMessage обрабатывает входящее сообщение клиента
func (h *TowerHandler) HandleMessage(client *Client, message *Message) error {
	h.opts.Metrics.message(message.Type)

	switch message.Type {
	case MsgTypeNewBlock:
		return h.handleNewBlock(client, message)
	default:
		h.log.Debug("unknown message type %q from %s", message.Type, client.ID())
		return nil
	}
}

func (h *TowerHandler) handleNewBlock(client *Client, message *Message) error {
	pos, err := DecodeBlock(message.Data)
	if err != nil {
		h.malformed.Add(1)
		h.opts.Metrics.placement(ResultMalformed)
		logging.LogProtocolError(client.ID(), err, message.Data)
		return err
	}

	if h.tower == nil {
		return ErrNoTower
	}

	h.placeMu.Lock()
	accepted := h.tower.Place(pos)
	var delivered int
	if accepted {
		// Остальным клиентам уходит ровно то, что прислал автор
		delivered, err = h.server.BroadcastExcept(client.ID(), NewRawMessage(MsgTypeNewBlock, message.Data))
	}
	h.placeMu.Unlock()

	logging.LogPlacement(client.ID(), pos.X, pos.Y, pos.Z, accepted)

	if !accepted {
		h.rejected.Add(1)
		h.opts.Metrics.placement(ResultRejected)
		if h.opts.NotifyRejections {
			h.notifyRejected(client, message)
		}
		return nil
	}

	h.accepted.Add(1)
	h.opts.Metrics.placement(ResultAccepted)

	if err != nil {
		h.log.Error("broadcast newblock: %v", err)
	}
	h.opts.Metrics.delivered(delivered)

	if h.saver != nil {
		h.saver.Schedule()
	}
	h.publish(client.ID(), pos)
	return nil
}

func (h *TowerHandler) notifyRejected(client *Client, message *Message) {
	reply := NewRawMessage(MsgTypeBlockRejected, message.Data)
	if err := h.server.SendToClient(client.ID(), reply); err != nil && !errors.Is(err, ErrClientNotFound) {
		h.log.Warn("send blockrejected to %s: %v", client.ID(), err)
	}
}

// publish отправляет BlockPlaced в шину событий, не задерживая обработку блока
func (h *TowerHandler) publish(clientID string, pos vec.Vec3) {
	if h.opts.Bus == nil {
		return
	}
	ev, err := eventbus.NewBlockPlaced(h.opts.ServerID, clientID, pos)
	if err != nil {
		h.log.Warn("build BlockPlaced: %v", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.opts.Bus.Publish(ctx, ev); err != nil {
			h.log.Warn("publish BlockPlaced: %v", err)
		}
	}()
}
