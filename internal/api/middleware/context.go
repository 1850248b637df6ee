package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

type contextKey string

const (
	actorKey  contextKey = "actor"
	clientKey contextKey = "client"
)

// ActorHeader carries a free-form label used to attribute activity entries.
const ActorHeader = "X-Actor"

const (
	defaultActor = "anonymous"
	maxActorLen  = 64
)

func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor returns the request's actor, or "anonymous".
func GetActor(r *http.Request) string {
	if a, ok := r.Context().Value(actorKey).(string); ok && a != "" {
		return a
	}
	return defaultActor
}

func setClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// clientID identifies the caller for rate limiting: the authenticated
// identity when auth ran, else the remote IP.
func clientID(r *http.Request) string {
	if c, ok := r.Context().Value(clientKey).(string); ok && c != "" {
		return c
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Actor reads the actor header into the request context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor != "" {
			actor = models.TruncateRunes(actor, maxActorLen)
			r = r.WithContext(SetActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
