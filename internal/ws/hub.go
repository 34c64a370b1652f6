// Package ws fans committed service transitions out to streaming subscribers.
package ws

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by service id.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	count     chan countRequest
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	serviceID string
	payload   []byte
}

type subscription struct {
	serviceID string
	client    Subscriber
}

type countRequest struct {
	serviceID string
	reply     chan int
}

// NewHub creates a Hub and starts its loop. Call Close to stop it.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, 64),
		count:     make(chan countRequest),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = nil
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.serviceID]; !ok {
				h.clients[sub.serviceID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.serviceID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.serviceID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.serviceID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.clients[msg.serviceID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.serviceID)
				}
			}
		case req := <-h.count:
			req.reply <- len(h.clients[req.serviceID])
		}
	}
}

// Register adds a client to a service stream.
func (h *Hub) Register(serviceID string, client Subscriber) {
	select {
	case h.register <- subscription{serviceID: serviceID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(serviceID string, client Subscriber) {
	select {
	case h.unreg <- subscription{serviceID: serviceID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to every client of a service.
func (h *Hub) Broadcast(serviceID string, payload []byte) {
	select {
	case h.broadcast <- message{serviceID: serviceID, payload: payload}:
	case <-h.done:
	}
}

// Publish encodes v as JSON and broadcasts it.
func (h *Hub) Publish(serviceID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	h.Broadcast(serviceID, payload)
	return nil
}

// Subscribers reports how many clients follow a service.
func (h *Hub) Subscribers(serviceID string) int {
	reply := make(chan int, 1)
	select {
	case h.count <- countRequest{serviceID: serviceID, reply: reply}:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Close stops the loop and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
