package notifications

import (
	"context"

	"github.com/aussiebroadwan/randchat/pkg/chatsdk"
)

// SessionAPI adapts a *chatsdk.Session to API.
func SessionAPI(s *chatsdk.Session) API {
	return sessionAPI{Session: s}
}

type sessionAPI struct {
	*chatsdk.Session
}

func (a sessionAPI) OpenNotifications(ctx context.Context, since chatsdk.Timestamp) (Stream, error) {
	stream, err := a.Session.OpenNotifications(ctx, since)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
