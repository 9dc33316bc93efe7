package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/emberlyhq/emberly-backend/internal/chat"
	"github.com/emberlyhq/emberly-backend/internal/models"
)

// Dispatcher decodes inbound envelopes and routes them to the hub, the
// message pipeline or the signal tracker. Malformed frames are answered with
// an error envelope; the connection stays open.
type Dispatcher struct {
	hub     *Hub
	chat    *chat.Service
	signals *chat.SignalTracker
	logger  zerolog.Logger
}

func NewDispatcher(hub *Hub, chatSvc *chat.Service, signals *chat.SignalTracker, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		hub:     hub,
		chat:    chatSvc,
		signals: signals,
		logger:  logger.With().Str("component", "dispatch").Logger(),
	}
}

// Dispatch handles one raw inbound frame for a client.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.SendError("malformed envelope")
		return
	}

	switch env.Event {
	case models.EventConversationJoin:
		d.handleJoin(ctx, c, env.Data)
	case models.EventConversationLeave:
		d.handleLeave(ctx, c, env.Data)
	case models.EventMessageSend:
		d.handleSend(ctx, c, env.Data)
	case models.EventTypingStart:
		d.handleSignal(ctx, c, env.Data, chat.SignalTyping, true)
	case models.EventTypingStop:
		d.handleSignal(ctx, c, env.Data, chat.SignalTyping, false)
	case models.EventVoiceStart:
		d.handleSignal(ctx, c, env.Data, chat.SignalVoice, true)
	case models.EventVoiceStop:
		d.handleSignal(ctx, c, env.Data, chat.SignalVoice, false)
	case models.EventAckDelivered:
		d.handleAck(ctx, c, env.Data, d.chat.MarkDelivered)
	case models.EventAckRead:
		d.handleAck(ctx, c, env.Data, d.chat.MarkRead)
	default:
		c.SendError("unknown event " + env.Event)
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, c *Client, data json.RawMessage) {
	var p models.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		c.SendError("conversation_id required")
		return
	}
	if err := d.hub.Join(ctx, c, p.ConversationID); err != nil {
		d.sendErr(c, err)
	}
}

func (d *Dispatcher) handleLeave(ctx context.Context, c *Client, data json.RawMessage) {
	var p models.JoinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		c.SendError("conversation_id required")
		return
	}
	d.hub.Leave(ctx, c, p.ConversationID)
}

func (d *Dispatcher) handleSend(ctx context.Context, c *Client, data json.RawMessage) {
	var p models.SendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.SendError("malformed message payload")
		return
	}
	if p.ConversationID == "" || p.IdempotencyKey == "" {
		c.SendError("conversation_id and idempotency_key required")
		return
	}
	if p.Type == "" {
		p.Type = models.MessageText
	}

	msg, err := d.chat.Send(ctx, c.UserID, p.ConversationID, p.Content, p.Type, p.IdempotencyKey, p.ReplyToID)
	if err != nil {
		// The sender must learn definitively that the message was not
		// durably accepted.
		d.sendErr(c, err)
		return
	}
	// The room broadcast excludes the sender; echo the persisted message back
	// so the sender sees the authoritative timestamp and id.
	c.SendEvent(models.EventMessageReceived, models.MessagePayload{Message: msg})
}

func (d *Dispatcher) handleSignal(ctx context.Context, c *Client, data json.RawMessage, kind chat.SignalKind, start bool) {
	var p models.SignalPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		c.SendError("conversation_id required")
		return
	}
	var err error
	if start {
		err = d.signals.Start(ctx, kind, c.UserID, p.ConversationID)
	} else {
		err = d.signals.Stop(ctx, kind, c.UserID, p.ConversationID)
	}
	if err != nil {
		d.sendErr(c, err)
	}
}

func (d *Dispatcher) handleAck(ctx context.Context, c *Client, data json.RawMessage, mark func(context.Context, string, string) error) {
	var p models.AckPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		c.SendError("message_id required")
		return
	}
	if err := mark(ctx, p.MessageID, c.UserID); err != nil {
		d.sendErr(c, err)
	}
}

// sendErr maps internal errors to client-safe messages. Dependency failures
// never reach the client; anything unrecognized is reported generically.
func (d *Dispatcher) sendErr(c *Client, err error) {
	switch {
	case errors.Is(err, models.ErrAccessDenied):
		c.SendError("access denied")
	case errors.Is(err, models.ErrNotFound):
		c.SendError("not found")
	default:
		d.logger.Error().Err(err).Str("user_id", c.UserID).Msg("handler error")
		c.SendError("internal error")
	}
}
