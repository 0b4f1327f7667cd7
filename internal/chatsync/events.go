// internal/chatsync/events.go

package chatsync

import (
	"encoding/json"
	"fmt"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// Event is one incoming change. The set of implementations is closed;
// Synchronizer.HandleEvent switches over all of them.
type Event interface {
	eventName() string
}

type MessageCreated struct{ Message *messaging.Message }

type MessageUpdated struct{ Message *messaging.Message }

type MessageDeleted struct{ Message *messaging.Message }

type ReactionChanged struct{ messaging.ReactionEvent }

type PinChanged struct{ messaging.PinEvent }

type ConversationRenamed struct {
	messaging.ConversationRenamedEvent
}

// MuteToggled is produced locally after a successful mute round trip;
// the gateway does not push it.
type MuteToggled struct{ ConversationID string }

type ParticipantLeft struct{ messaging.ParticipantLeftEvent }

type PresenceChanged struct{ messaging.PresenceEvent }

type TypingChanged struct{ messaging.TypingPayload }

type OnlineSnapshot struct{ UserIDs []string }

type Notification struct{ messaging.NotificationEvent }

type CommandFailed struct{ messaging.ErrorEvent }

func (MessageCreated) eventName() string      { return messaging.EventMessage }
func (MessageUpdated) eventName() string      { return messaging.EventMessageUpdated }
func (MessageDeleted) eventName() string      { return messaging.EventMessageDeleted }
func (ReactionChanged) eventName() string     { return messaging.EventReaction }
func (PinChanged) eventName() string          { return messaging.EventMessagePinned }
func (ConversationRenamed) eventName() string { return messaging.EventConversationRenamed }
func (MuteToggled) eventName() string         { return "local:mute-toggled" }
func (ParticipantLeft) eventName() string     { return messaging.EventParticipantLeft }
func (PresenceChanged) eventName() string     { return messaging.EventPresence }
func (TypingChanged) eventName() string       { return messaging.EventTyping }
func (OnlineSnapshot) eventName() string      { return messaging.EventOnlineUsers }
func (Notification) eventName() string        { return messaging.EventNotification }
func (CommandFailed) eventName() string       { return messaging.EventError }

// DecodeEvent maps a wire envelope to its Event.
func DecodeEvent(env messaging.Envelope) (Event, error) {
	switch env.Type {
	case messaging.EventMessage:
		msg, err := decodeMessage(env)
		if err != nil {
			return nil, err
		}
		return MessageCreated{Message: msg}, nil

	case messaging.EventMessageUpdated:
		msg, err := decodeMessage(env)
		if err != nil {
			return nil, err
		}
		return MessageUpdated{Message: msg}, nil

	case messaging.EventMessageDeleted:
		msg, err := decodeMessage(env)
		if err != nil {
			return nil, err
		}
		return MessageDeleted{Message: msg}, nil

	case messaging.EventReaction:
		return decodeAs(env, func(p messaging.ReactionEvent) Event { return ReactionChanged{p} })

	case messaging.EventMessagePinned:
		return decodeAs(env, func(p messaging.PinEvent) Event { return PinChanged{p} })

	case messaging.EventConversationRenamed:
		return decodeAs(env, func(p messaging.ConversationRenamedEvent) Event { return ConversationRenamed{p} })

	case messaging.EventParticipantLeft:
		return decodeAs(env, func(p messaging.ParticipantLeftEvent) Event { return ParticipantLeft{p} })

	case messaging.EventPresence:
		return decodeAs(env, func(p messaging.PresenceEvent) Event { return PresenceChanged{p} })

	case messaging.EventTyping:
		return decodeAs(env, func(p messaging.TypingPayload) Event { return TypingChanged{p} })

	case messaging.EventOnlineUsers:
		var payload messaging.OnlineUsersEvent
		if err := decodeInto(env, &payload); err != nil {
			return nil, err
		}
		return OnlineSnapshot{UserIDs: payload.UserIDs}, nil

	case messaging.EventNotification:
		return decodeAs(env, func(p messaging.NotificationEvent) Event { return Notification{p} })

	case messaging.EventError:
		return decodeAs(env, func(p messaging.ErrorEvent) Event { return CommandFailed{p} })
	}

	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

func decodeAs[T any](env messaging.Envelope, wrap func(T) Event) (Event, error) {
	var payload T
	if err := decodeInto(env, &payload); err != nil {
		return nil, err
	}
	return wrap(payload), nil
}

func decodeMessage(env messaging.Envelope) (*messaging.Message, error) {
	var msg messaging.Message
	if err := decodeInto(env, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || msg.ConversationID == "" {
		return nil, fmt.Errorf("%s: message without id or conversation", env.Type)
	}
	return &msg, nil
}

func decodeInto(env messaging.Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}
