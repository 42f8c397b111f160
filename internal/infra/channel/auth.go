package channel

import (
	"context"
	"strconv"
	"strings"

	"chatter/internal/domain/chat"
)

// MembershipFunc is the identity collaborator's membership predicate.
type MembershipFunc func(ctx context.Context, conversationID, userID int64) bool

// Policy implements channel authorization: conversation channels require
// current membership, user channels require identity equality, and the
// presence channel admits any authenticated subscriber.
type Policy struct {
	Membership MembershipFunc
}

func (p Policy) CanSubscribe(ctx context.Context, userID int64, channel string) bool {
	if userID == 0 {
		return false
	}
	switch {
	case channel == chat.PresenceChannelName:
		return true
	case strings.HasPrefix(channel, "conversation."):
		id, err := strconv.ParseInt(strings.TrimPrefix(channel, "conversation."), 10, 64)
		if err != nil || id <= 0 || p.Membership == nil {
			return false
		}
		return p.Membership(ctx, id, userID)
	case strings.HasPrefix(channel, "user."):
		id, err := strconv.ParseInt(strings.TrimPrefix(channel, "user."), 10, 64)
		if err != nil {
			return false
		}
		return id == userID
	}
	return false
}

var _ Authorizer = Policy{}
