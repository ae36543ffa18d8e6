package realtime

import (
	"context"
	"fmt"
)

// Hub fans out messages to every subscriber of a topic
type Hub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription delivers messages for one topic until closed. Messages are
// dropped for subscribers that fall too far behind.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// ConversationTopic is the topic carrying new messages of a conversation
func ConversationTopic(conversationID uint) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// subscriberBuffer is how many undelivered messages a subscriber may hold
const subscriberBuffer = 64
