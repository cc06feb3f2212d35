package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/annel0/voxel-tower/internal/vec"
	"github.com/google/uuid"
)

// EventBlockPlaced: принятый сервером блок
const EventBlockPlaced = "BlockPlaced"

// NewBlockPlaced собирает событие о принятом блоке.
// clientID попадает в CorrelationID, полезная нагрузка: {x,y,z}.
func NewBlockPlaced(source, clientID string, pos vec.Vec3) (*Envelope, error) {
	payload, err := json.Marshal(pos)
	if err != nil {
		return nil, fmt.Errorf("marshal BlockPlaced: %w", err)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		EventType:     EventBlockPlaced,
		Version:       1,
		CorrelationID: clientID,
		Priority:      1,
		Payload:       payload,
	}, nil
}

// DecodeBlockPlaced извлекает координаты из события BlockPlaced
func DecodeBlockPlaced(ev *Envelope) (vec.Vec3, error) {
	var pos vec.Vec3
	if ev.EventType != EventBlockPlaced {
		return pos, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	if err := json.Unmarshal(ev.Payload, &pos); err != nil {
		return pos, fmt.Errorf("unmarshal BlockPlaced: %w", err)
	}
	return pos, nil
}
