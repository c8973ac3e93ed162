// Package realtime implementa el canal de eventos sobre WebSocket: el Hub que
// reparte eventos entre conexiones y los pumps de lectura/escritura de cada Client.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-relay/internal/domain"
	"chat-relay/internal/service"
)

var (
	ErrHubClosed    = errors.New("hub closed")
	ErrClientClosed = errors.New("client closed")
)

type broadcastMessage struct {
	excludeID string
	payload   []byte
}

// Hub registra clientes y reparte eventos. Un unico loop (Run) procesa registro,
// baja y broadcast, por lo que el orden de publicacion se conserva por cliente.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Publish implementa service.Broadcaster. exclude == nil entrega a todos.
func (h *Hub) Publish(event string, payload any, exclude service.Peer) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	msg := broadcastMessage{payload: frame}
	if exclude != nil {
		msg.excludeID = exclude.ID()
	}

	select {
	case h.broadcast <- msg:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// ClientCount devuelve la cantidad de conexiones registradas.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) registerClient(c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", zap.Any("panic", r))
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run es el loop principal del hub; debe correr en su propia goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client registered",
				zap.String("conn_id", client.id),
				zap.String("addr", client.addr),
				zap.Int("clients", clientCount),
			)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				close(client.send)
				h.logger.Info("client unregistered",
					zap.String("conn_id", client.id),
					zap.Int("clients", clientCount),
				)
			} else {
				h.mutex.Unlock()
			}

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) handleBroadcast(msg broadcastMessage) {
	clients := h.getClientSnapshot()
	var failed []*Client
	for _, client := range clients {
		if msg.excludeID != "" && client.id == msg.excludeID {
			continue
		}
		if !h.safeSend(client, msg.payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients saca a los clientes con el buffer lleno; su writePump cierra la conexion.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			h.logger.Warn("client evicted, send buffer full", zap.String("conn_id", client.id))
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("close client connection failed", zap.String("conn_id", client.id), zap.Error(err))
		}
	}
	h.logger.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown cierra todas las conexiones y espera a los pumps hasta timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached")
		return context.DeadlineExceeded
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(domain.Envelope{Event: event, Data: data})
}
