package hub

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"situation-room/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// 事件流是单向推送，客户端只会发控制帧
	maxMessageSize = 512
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister"
	Client *Client
}

// Hub 维护每个房间的 WebSocket 客户端，并把房间事件流扇出给它们。
// 一个房间只有在至少有一个客户端时才持有一个事件订阅。
type Hub struct {
	messageChan chan HubMessage
	done        chan struct{}
	stopOnce    sync.Once

	// map[roomCode]map[*Client]bool
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	// map[roomCode]取消订阅函数
	subs       map[string]func()
	subscriber repository.EventSubscriber
	forwardWG  sync.WaitGroup
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(subscriber repository.EventSubscriber) *Hub {
	if subscriber == nil {
		panic("EventSubscriber cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		done:        make(chan struct{}),
		rooms:       make(map[string]map[*Client]bool),
		subs:        make(map[string]func()),
		subscriber:  subscriber,
	}
}

// Run 启动 Hub 的主事件处理循环。
// 它应该在一个单独的 goroutine 中运行，Stop 后返回。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case <-h.done:
			h.stopAllSubscriptions()
			log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case "register":
				h.registerClient(msg.Client)
			case "unregister":
				h.unregisterClient(msg.Client)
			default:
				log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// Stop 停止 Run 循环并取消所有房间订阅
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// registerClient 处理客户端注册逻辑
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	roomCode := client.RoomCode()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": roomCode,
		"user_id":   client.UserID(),
		"action":    "registerClient",
	})

	// 先订阅再登记，客户端可见时订阅已经生效
	if _, ok := h.subs[roomCode]; !ok {
		h.subscribeRoom(roomCode)
	}

	h.roomsMu.Lock()
	if _, ok := h.rooms[roomCode]; !ok {
		h.rooms[roomCode] = make(map[*Client]bool)
	}
	h.rooms[roomCode][client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")
}

// subscribeRoom 为房间建立事件订阅并启动转发 goroutine
func (h *Hub) subscribeRoom(roomCode string) {
	logCtx := logrus.WithField("room_code", roomCode)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	events, unsubscribe, err := h.subscriber.SubscribeRoomEvents(ctx, roomCode)
	cancel()
	if err != nil {
		logCtx.WithError(err).Error("Hub: Failed to subscribe room events")
		return
	}
	h.subs[roomCode] = unsubscribe

	h.forwardWG.Add(1)
	go func() {
		defer h.forwardWG.Done()
		for payload := range events {
			h.broadcast(roomCode, payload)
		}
		logCtx.Debug("Hub: Room event forwarder exited")
	}()
	logCtx.Info("Hub: Subscribed to room events")
}

// unregisterClient 处理客户端注销逻辑
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	roomCode := client.RoomCode()
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": roomCode,
		"user_id":   client.UserID(),
		"action":    "unregisterClient",
	})

	h.roomsMu.Lock()
	roomClients, roomExists := h.rooms[roomCode]
	if !roomExists || !roomClients[client] {
		h.roomsMu.Unlock()
		logCtx.Warn("Client not found during unregister")
		return
	}
	delete(roomClients, client)
	client.closeSend()
	empty := len(roomClients) == 0
	if empty {
		delete(h.rooms, roomCode)
	}
	h.roomsMu.Unlock()
	logCtx.Info("Client unregistered from Hub")

	if empty {
		if unsubscribe, ok := h.subs[roomCode]; ok {
			unsubscribe()
			delete(h.subs, roomCode)
		}
		logCtx.Info("Room empty, subscription released")
	}
}

// broadcast 将消息发送给指定房间的所有客户端
func (h *Hub) broadcast(roomCode string, message []byte) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for client := range h.rooms[roomCode] {
		// 使用非阻塞发送，避免单个慢客户端阻塞广播
		select {
		case client.send <- message:
		default:
			logrus.WithFields(logrus.Fields{
				"room_code": roomCode,
				"user_id":   client.UserID(),
			}).Warn("Client send channel full during broadcast, skipping this client")
		}
	}
}

// stopAllSubscriptions 只在 Run 的 goroutine 内调用
func (h *Hub) stopAllSubscriptions() {
	for roomCode, unsubscribe := range h.subs {
		unsubscribe()
		delete(h.subs, roomCode)
	}
	h.forwardWG.Wait()

	h.roomsMu.Lock()
	for roomCode, clients := range h.rooms {
		for client := range clients {
			client.closeSend()
		}
		delete(h.rooms, roomCode)
	}
	h.roomsMu.Unlock()
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)。
// 返回 true 如果消息成功入队，false 如果队列已满。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		logrus.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// ClientCount 返回房间当前的连接数
func (h *Hub) ClientCount(roomCode string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomCode])
}
