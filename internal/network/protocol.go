package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-tower/internal/vec"
)

// Константы типов сообщений
const (
	// Сервер -> Клиент
	MsgTypeOnStart       = "onstart"       // Снимок башни при подключении
	MsgTypeBlockRejected = "blockrejected" // Блок отклонён (только запросившему, если включено)

	// Клиент -> Сервер и Сервер -> остальные клиенты
	MsgTypeNewBlock = "newblock" // Установка блока
)

// ErrMalformedPayload: полезная нагрузка сообщения не разбирается
var ErrMalformedPayload = errors.New("malformed payload")

// Message представляет базовую структуру сетевого сообщения
type Message struct {
	Type      string          `json:"type"`      // Тип сообщения
	Timestamp int64           `json:"timestamp"` // Временная метка (мс)
	Data      json.RawMessage `json:"data"`      // Данные сообщения (зависят от типа)
}

// NewMessage создает новое сообщение указанного типа
func NewMessage(msgType string, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      dataBytes,
	}, nil
}

// NewRawMessage создает сообщение с уже сериализованными данными
func NewRawMessage(msgType string, data json.RawMessage) *Message {
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// blockPayload: {x,y,z}; указатели различают отсутствующее поле и ноль
type blockPayload struct {
	X *int `json:"x"`
	Y *int `json:"y"`
	Z *int `json:"z"`
}

// DecodeBlock разбирает данные newblock. Все три координаты обязательны
// и должны быть целыми.
func DecodeBlock(data json.RawMessage) (vec.Vec3, error) {
	var p blockPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return vec.Vec3{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.X == nil || p.Y == nil || p.Z == nil {
		return vec.Vec3{}, fmt.Errorf("%w: x, y and z are required", ErrMalformedPayload)
	}
	return vec.Vec3{X: *p.X, Y: *p.Y, Z: *p.Z}, nil
}
