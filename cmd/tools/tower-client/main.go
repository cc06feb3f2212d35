package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/annel0/voxel-tower/internal/network"
	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/annel0/voxel-tower/internal/vec"
	"github.com/gorilla/websocket"
)

func main() {
	var (
		addr   = flag.String("addr", "localhost:8000", "Tower server host:port")
		path   = flag.String("path", "/socket", "Websocket path")
		place  = flag.Int("place", 0, "Blocks to place on top of the tower")
		listen = flag.Duration("listen", 5*time.Second, "How long to listen for broadcasts")
	)
	flag.Parse()

	fmt.Println("=== ТЕСТОВЫЙ КЛИЕНТ БАШНИ ===")

	u := url.URL{Scheme: "ws", Host: *addr, Path: *path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("❌ Ошибка подключения к %s: %v", u.String(), err)
	}
	defer conn.Close()

	fmt.Printf("✅ Подключен к %s\n", u.String())

	// Тест 1: снимок при подключении
	fmt.Println("\n=== ТЕСТ 1: ONSTART ===")
	snap, err := readSnapshot(conn)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Printf("📥 Башня: уровни [%d, %d], dimension=%d, блоков=%d\n",
		snap.MinHeight, snap.MaxHeight, snap.Dimension, len(snap.Cells()))

	// Тест 2: установка блоков на вершину
	if *place > 0 {
		fmt.Println("\n=== ТЕСТ 2: NEWBLOCK ===")
		placeBlocks(conn, snap, *place)
	}

	// Тест 3: блоки остальных клиентов
	fmt.Println("\n=== ТЕСТ 3: BROADCAST ===")
	listenBroadcasts(conn, *listen)

	fmt.Println("\n=== ТЕСТИРОВАНИЕ ЗАВЕРШЕНО ===")
}

func readSnapshot(conn *websocket.Conn) (*tower.Snapshot, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg network.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, fmt.Errorf("ошибка чтения onstart: %w", err)
	}
	if msg.Type != network.MsgTypeOnStart {
		return nil, fmt.Errorf("ожидался %s, получен %s", network.MsgTypeOnStart, msg.Type)
	}

	var snap tower.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снимка: %w", err)
	}
	return &snap, nil
}

// placeBlocks ставит блоки в центр плоскости, каждый на уровень выше предыдущего.
// Сервер не подтверждает приём, поэтому клиент просто продолжает от своей вершины.
func placeBlocks(conn *websocket.Conn, snap *tower.Snapshot, count int) {
	for i := 1; i <= count; i++ {
		pos := vec.Vec3{X: 0, Y: snap.MaxHeight + i, Z: 0}
		msg, err := network.NewMessage(network.MsgTypeNewBlock, pos)
		if err != nil {
			log.Printf("❌ Ошибка сериализации newblock: %v", err)
			return
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("❌ Ошибка отправки newblock: %v", err)
			return
		}
		fmt.Printf("📤 newblock %s\n", pos)
	}
}

func listenBroadcasts(conn *websocket.Conn, d time.Duration) {
	deadline := time.Now().Add(d)
	received := 0
	for {
		conn.SetReadDeadline(deadline)
		var msg network.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				break
			}
			log.Printf("⚠️ Соединение закрыто: %v", err)
			break
		}

		switch msg.Type {
		case network.MsgTypeNewBlock:
			pos, err := network.DecodeBlock(msg.Data)
			if err != nil {
				log.Printf("❌ Некорректный newblock: %v", err)
				continue
			}
			fmt.Printf("📥 newblock %s\n", pos)
			received++
		case network.MsgTypeBlockRejected:
			fmt.Printf("🚫 blockrejected %s\n", string(msg.Data))
		default:
			fmt.Printf("❓ %s: %s\n", msg.Type, string(msg.Data))
		}
	}
	fmt.Printf("📊 Получено блоков от других клиентов: %d\n", received)
}
