package httpapi

import (
	"context"

	"github.com/chatsim/joinsync/internal/domain/access"
	"github.com/chatsim/joinsync/internal/domain/session"
)

type visitContextKey string

const visitKey visitContextKey = "visit"

// Visit is the participant request after the access guard ran.
type Visit struct {
	Session  *session.Session
	Token    *string
	Decision access.Decision
}

// SessionView returns the session as this visitor may see it. The
// invitation token is echoed only to a visitor who already presented it.
func (v *Visit) SessionView(sess *session.Session) *session.Session {
	return redactSession(sess, v.Token)
}

func redactSession(sess *session.Session, token *string) *session.Session {
	out := sess.Clone()
	if out == nil {
		return nil
	}
	if !access.TokenMatches(token, out.InvitationToken) {
		out.InvitationToken = ""
	}
	return out
}

func withVisit(ctx context.Context, v *Visit) context.Context {
	if v == nil {
		return ctx
	}
	return context.WithValue(ctx, visitKey, v)
}

func visitFromContext(ctx context.Context) *Visit {
	val := ctx.Value(visitKey)
	if v, ok := val.(*Visit); ok {
		return v
	}
	return nil
}
