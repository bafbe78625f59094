// Package hubtest menyediakan socket palsu untuk test yang memakai hub.
package hubtest

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/yeremiapane/table-sync/hub"
)

// Conn merekam setiap pesan yang dikirim. Bila Fail diset, Send selalu gagal.
type Conn struct {
	id string

	mu       sync.Mutex
	messages []hub.InboundMessage
	closed   bool
	Fail     bool
}

func NewConn() *Conn {
	return &Conn{id: uuid.NewString()}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail || c.closed {
		return errors.New("send failed")
	}
	var msg hub.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Messages() []hub.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]hub.InboundMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// OfType mengembalikan pesan dengan tipe tertentu sesuai urutan diterima.
func (c *Conn) OfType(eventType string) []hub.InboundMessage {
	var out []hub.InboundMessage
	for _, msg := range c.Messages() {
		if msg.Type == eventType {
			out = append(out, msg)
		}
	}
	return out
}

func (c *Conn) Count(eventType string) int {
	return len(c.OfType(eventType))
}

// Last mendecode payload pesan terakhir bertipe eventType ke v.
func (c *Conn) Last(eventType string, v interface{}) bool {
	msgs := c.OfType(eventType)
	if len(msgs) == 0 {
		return false
	}
	return json.Unmarshal(msgs[len(msgs)-1].Payload, v) == nil
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
