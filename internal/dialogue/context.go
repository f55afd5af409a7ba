// Package dialogue holds per-conversation turn history and the slot
// merging that reads it.
package dialogue

import (
	"encoding/json"
	"time"
)

const DefaultCapacity = 5

// Turn is one user utterance and the reply to it.
type Turn struct {
	UserText   string    `json:"user_text"`
	SystemText string    `json:"system_text"`
	Timestamp  time.Time `json:"timestamp"`
	Slots      SlotSet   `json:"slots"`
}

// Context is a bounded FIFO of recent turns. It is not safe for concurrent
// use; session.Manager serializes access per conversation.
type Context struct {
	capacity int
	turns    []Turn
}

func NewContext(capacity int) *Context {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Context{capacity: capacity, turns: make([]Turn, 0, capacity)}
}

func (c *Context) Capacity() int { return c.capacity }

func (c *Context) Len() int { return len(c.turns) }

// Append adds t, evicting the oldest turn when full.
func (c *Context) Append(t Turn) {
	if len(c.turns) == c.capacity {
		copy(c.turns, c.turns[1:])
		c.turns = c.turns[:len(c.turns)-1]
	}
	c.turns = append(c.turns, t)
}

// Turns returns a copy, oldest first.
func (c *Context) Turns() []Turn {
	return append([]Turn(nil), c.turns...)
}

// Clear drops every turn.
func (c *Context) Clear() {
	c.turns = c.turns[:0]
}

// eachRecent visits turns newest first.
func (c *Context) eachRecent(fn func(Turn)) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		fn(c.turns[i])
	}
}

type contextJSON struct {
	Capacity int    `json:"capacity"`
	Turns    []Turn `json:"turns"`
}

func (c *Context) MarshalJSON() ([]byte, error) {
	turns := c.turns
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(contextJSON{Capacity: c.capacity, Turns: turns})
}

// UnmarshalJSON keeps only the newest turns that fit the capacity.
func (c *Context) UnmarshalJSON(data []byte) error {
	var raw contextJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Capacity <= 0 {
		raw.Capacity = DefaultCapacity
	}
	if len(raw.Turns) > raw.Capacity {
		raw.Turns = raw.Turns[len(raw.Turns)-raw.Capacity:]
	}

	c.capacity = raw.Capacity
	c.turns = make([]Turn, 0, raw.Capacity)
	c.turns = append(c.turns, raw.Turns...)
	return nil
}
