package messages

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

func (a sessionAPI) OpenMessages(ctx context.Context, offsets chatsdk.Offsets) (Conn, error) {
	conn, err := a.Session.OpenMessages(ctx, offsets)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
