package userauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventKind enumerates the lifecycle notifications emitted by the service
type EventKind int

const (
	EventBeforeRegister EventKind = iota + 1
	EventAfterRegister
	EventAfterLogin
	EventBeforeLogout
	EventAfterLogout
	EventAfterChangePassword
	EventBeforeSocialLoginUserCreate
	EventOnExpiredToken
	EventAfterResendTokenValidation
)

var eventNames = map[EventKind]string{
	EventBeforeRegister:              "before_register",
	EventAfterRegister:               "after_register",
	EventAfterLogin:                  "after_login",
	EventBeforeLogout:                "before_logout",
	EventAfterLogout:                 "after_logout",
	EventAfterChangePassword:         "after_change_password",
	EventBeforeSocialLoginUserCreate: "before_social_login_user_create",
	EventOnExpiredToken:              "on_expired_token",
	EventAfterResendTokenValidation:  "after_resend_token_validation",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// AllEventKinds lists every kind in emission-order of the enum
func AllEventKinds() []EventKind {
	out := make([]EventKind, 0, len(eventNames))
	for k := EventBeforeRegister; k <= EventAfterResendTokenValidation; k++ {
		out = append(out, k)
	}
	return out
}

// Event is a single notification. User may be partially populated (only
// the ID) for events about tokens.
type Event struct {
	Kind    EventKind
	User    *User
	Context map[string]any
	At      time.Time
}

// Subscriber receives events. A returned error is logged and otherwise ignored.
type Subscriber interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(ctx context.Context, ev Event) error

func (f SubscriberFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Emitter is what the service uses to publish events. Hosts may supply their
// own dispatcher in place of EventBus.
type Emitter interface {
	Emit(ctx context.Context, kind EventKind, user *User, fields map[string]any)
}

// NopEmitter drops every event
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, EventKind, *User, map[string]any) {}

type subscription struct {
	sub   Subscriber
	kinds map[EventKind]bool
}

// EventBus delivers events synchronously to subscribers in registration
// order. Subscriber failures, including panics, never reach the emitter.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *slog.Logger
}

// NewEventBus creates an empty bus
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// Subscribe registers sub for the given kinds, or for every kind when none are given
func (b *EventBus) Subscribe(sub Subscriber, kinds ...EventKind) {
	s := subscription{sub: sub}
	if len(kinds) > 0 {
		s.kinds = make(map[EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

func (b *EventBus) Emit(ctx context.Context, kind EventKind, user *User, evctx map[string]any) {
	if evctx == nil {
		evctx = map[string]any{}
	}
	ev := Event{Kind: kind, User: user.Clone(), Context: evctx, At: time.Now()}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.kinds != nil && !s.kinds[kind] {
			continue
		}
		b.deliver(ctx, s.sub, ev)
	}
}

func (b *EventBus) deliver(ctx context.Context, sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "event", ev.Kind.String(), "panic", r)
		}
	}()
	if err := sub.HandleEvent(ctx, ev); err != nil {
		b.logger.Warn("event subscriber failed", "event", ev.Kind.String(), "error", err)
	}
}
