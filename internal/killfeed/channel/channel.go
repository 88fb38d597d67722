// Package channel implements the WebSocket protocol subscribers speak
// to the killfeed: join a topic, subscribe to systems or characters,
// and receive killmail_update pushes. Grounded on the teacher's
// ConnectionManager.HandleConnection: a ping-keepalive goroutine, a
// dedicated read goroutine feeding a message channel, and a select
// loop dispatching by message type.
package channel

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/evekillfeed/killfeed/internal/killfeed/broadcast"
	"github.com/evekillfeed/killfeed/internal/killfeed/eventstore"
	"github.com/evekillfeed/killfeed/internal/killfeed/model"
	"github.com/evekillfeed/killfeed/internal/killfeed/subscription"
)

// Topic is the single lobby every client joins; the protocol has no
// per-room concept beyond system/character interest sets.
const Topic = "killmails:lobby"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MessageType enumerates the wire protocol's message kinds.
type MessageType string

const (
	MsgJoin                 MessageType = "join"
	MsgSubscribeSystems     MessageType = "subscribe_systems"
	MsgUnsubscribeSystems   MessageType = "unsubscribe_systems"
	MsgSubscribeCharacters  MessageType = "subscribe_characters"
	MsgUnsubscribeCharacters MessageType = "unsubscribe_characters"
	MsgKillmailUpdate       MessageType = "killmail_update"
	MsgSystemStats          MessageType = "system_stats"
	MsgOk                   MessageType = "ok"
	MsgError                MessageType = "error"
)

// Message is the envelope every inbound and outbound frame shares.
// Inbound subscribe messages are struct-tag validated since they never
// pass through Huma's request binding the way the REST surface does.
type Message struct {
	Type         MessageType     `json:"type" validate:"required,oneof=join subscribe_systems unsubscribe_systems subscribe_characters unsubscribe_characters system_stats"`
	Topic        string          `json:"topic,omitempty"`
	SystemIDs    []int32         `json:"system_ids,omitempty" validate:"omitempty,max=100,dive,min=30000000"`
	CharacterIDs []int64         `json:"character_ids,omitempty" validate:"omitempty,max=1000,dive,min=1"`
	Killmail     *model.Killmail `json:"killmail,omitempty"`
	Stats        any             `json:"stats,omitempty"`
	Error        string          `json:"error,omitempty"`
}

var messageValidator = validator.New()

// Handler upgrades HTTP requests to WebSocket connections and runs
// the per-connection protocol loop.
type Handler struct {
	broadcaster *broadcast.Broadcaster
	store       *eventstore.Store
	preloadN    int
}

// NewHandler creates a channel Handler. preloadN bounds how many
// recent events are trickled to a client on join before real-time
// delivery takes over.
func NewHandler(b *broadcast.Broadcaster, store *eventstore.Store, preloadN int) *Handler {
	if preloadN <= 0 {
		preloadN = 20
	}
	return &Handler{broadcaster: b, store: store, preloadN: preloadN}
}

// ServeHTTP upgrades the connection and runs its lifetime. It returns
// once the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	subID := uuid.NewString()
	c := &client{
		id:          subID,
		conn:        conn,
		send:        make(chan Message, 64),
		broadcaster: h.broadcaster,
		store:       h.store,
		preloadN:    h.preloadN,
	}
	c.run()
}

// client runs one connection's read/write/ping goroutines.
type client struct {
	id          string
	conn        *websocket.Conn
	send        chan Message
	broadcaster *broadcast.Broadcaster
	store       *eventstore.Store
	preloadN    int
}

func (c *client) run() {
	defer c.conn.Close()

	c.broadcaster.Register(subscription.Subscription{
		ID:      c.id,
		Deliver: c.deliver,
	})
	defer c.broadcaster.Unregister(c.id)
	defer func() {
		if c.store != nil {
			c.store.ReleaseClient(c.id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	messages := make(chan Message)
	readErr := make(chan error, 1)
	go c.readLoop(messages, readErr)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	_ = c.writeMessage(Message{Type: MsgJoin, Topic: Topic})

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			c.handleMessage(msg)
		case err := <-readErr:
			if err != nil {
				slog.Debug("websocket read ended", slog.String("subscription_id", c.id), slog.String("error", err.Error()))
			}
			return
		case out := <-c.send:
			if err := c.writeMessage(out); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop(messages chan<- Message, errs chan<- error) {
	defer close(messages)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			errs <- err
			return
		}
		messages <- msg
	}
}

func (c *client) writeMessage(msg Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// deliver is the subscription.DeliverFunc handed to the broadcaster;
// it never blocks the broadcaster itself, only this connection's own
// buffered send channel.
func (c *client) deliver(km model.Killmail) error {
	select {
	case c.send <- Message{Type: MsgKillmailUpdate, Killmail: &km}:
		return nil
	default:
		return fmt.Errorf("send buffer full for subscription %s", c.id)
	}
}

func (c *client) handleMessage(msg Message) {
	if err := messageValidator.Struct(msg); err != nil {
		c.sendError("invalid message: " + err.Error())
		return
	}

	switch msg.Type {
	case MsgJoin:
		if len(msg.SystemIDs) > 0 && !c.broadcaster.SubscribeSystems(c.id, msg.SystemIDs) {
			c.sendError(fmt.Sprintf("system subscription limit exceeded (max %d)", broadcast.MaxSystemsPerSubscription))
			return
		}
		if len(msg.CharacterIDs) > 0 && !c.broadcaster.SubscribeCharacters(c.id, msg.CharacterIDs) {
			c.sendError(fmt.Sprintf("character subscription limit exceeded (max %d)", broadcast.MaxCharactersPerSubscription))
			return
		}
		c.sendOk()
		c.preload(msg.SystemIDs)

	case MsgSubscribeSystems:
		if !c.broadcaster.SubscribeSystems(c.id, msg.SystemIDs) {
			c.sendError(fmt.Sprintf("system subscription limit exceeded (max %d)", broadcast.MaxSystemsPerSubscription))
			return
		}
		c.sendOk()
		c.preload(msg.SystemIDs)

	case MsgUnsubscribeSystems:
		c.broadcaster.UnsubscribeSystems(c.id, msg.SystemIDs)
		c.sendOk()

	case MsgSubscribeCharacters:
		if !c.broadcaster.SubscribeCharacters(c.id, msg.CharacterIDs) {
			c.sendError(fmt.Sprintf("character subscription limit exceeded (max %d)", broadcast.MaxCharactersPerSubscription))
			return
		}
		c.sendOk()

	case MsgUnsubscribeCharacters:
		c.broadcaster.UnsubscribeCharacters(c.id, msg.CharacterIDs)
		c.sendOk()

	case MsgSystemStats:
		c.sendStats()

	default:
		c.sendError("unknown message type: " + string(msg.Type))
	}
}

func (c *client) sendError(reason string) {
	select {
	case c.send <- Message{Type: MsgError, Error: reason}:
	default:
	}
}

// sendOk acknowledges a successful join/subscribe/unsubscribe per
// §4.9's protocol table.
func (c *client) sendOk() {
	select {
	case c.send <- Message{Type: MsgOk}:
	default:
	}
}

func (c *client) sendStats() {
	select {
	case c.send <- Message{Type: MsgSystemStats, Stats: c.broadcaster.Stats()}:
	default:
	}
}

// preload trickles events for newly subscribed systems onto the send
// channel without blocking the join reply or the connection loop — a
// non-blocking best-effort backfill, not a guaranteed replay. It pulls
// through the client's own stored offset rather than an offset-less
// tail read, so a later subscribe_systems call for a system already
// preloaded resumes where the last pull left off instead of resending
// the same events.
func (c *client) preload(systemIDs []int32) {
	if len(systemIDs) == 0 || c.store == nil {
		return
	}
	go func() {
		for _, sid := range systemIDs {
			for _, rec := range c.store.FetchForClient(c.id, sid, c.preloadN) {
				select {
				case c.send <- Message{Type: MsgKillmailUpdate, Killmail: &rec.Killmail}:
				default:
					return
				}
			}
		}
	}()
}
