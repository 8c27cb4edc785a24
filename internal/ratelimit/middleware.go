package ratelimit

import (
	"context"
	"time"

	"github.com/guildforge/backbone/internal/translations"
)

// Invocation is the minimal context a command handler exposes: the
// resolved ids needed to check a cooldown, the invoker's locale, and
// whether the client supports ephemeral replies.
type Invocation struct {
	Command  string
	UserID   string
	GuildID  string
	Locale   string
	Ephemeral bool
}

// Responder sends a message back to the invoker; wired to whatever
// chat-platform reply mechanism the feature module uses.
type Responder func(ctx context.Context, message string, ephemeral bool) error

// Handler is a rate-limited command body.
type Handler func(ctx context.Context, inv Invocation) error

// Middleware wraps handler with a cooldown check: on limited, it responds
// to the invoker with a localized cooldown message (ephemeral where the
// client supports it) and short-circuits; on not-limited, it forwards to
// handler. Errors resolving context are logged and default to forwarding.
func (l *Limiter) Middleware(catalog *translations.Catalog, cooldown time.Duration, scope Scope, respond Responder, handler Handler) Handler {
	return func(ctx context.Context, inv Invocation) error {
		limited, remaining, err := l.checkInvocation(inv, cooldown, scope)
		if err != nil {
			l.logger.Warn("rate limiter context resolution failed, forwarding")
			return handler(ctx, inv)
		}
		if !limited {
			return handler(ctx, inv)
		}

		message := catalog.GetMessage("rate_limit.cooldown_active", inv.Locale, map[string]any{
			"seconds": int(remaining.Round(time.Second).Seconds()),
		})
		if message == "" {
			message = "Please wait before using this command again."
		}
		return respond(ctx, message, inv.Ephemeral)
	}
}

func (l *Limiter) checkInvocation(inv Invocation, cooldown time.Duration, scope Scope) (bool, time.Duration, error) {
	if scope == ScopeUser && inv.UserID == "" {
		return false, 0, nil
	}
	if scope == ScopeGuild && inv.GuildID == "" {
		return false, 0, nil
	}
	limited, remaining := l.IsRateLimited(inv.Command, inv.UserID, inv.GuildID, cooldown, scope)
	return limited, remaining, nil
}
