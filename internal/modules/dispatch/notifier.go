// README: Push fan-out to candidate drivers over FCM.
package dispatch

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"

	"agronet/internal/types"
)

// Notification is the payload fanned out to every candidate driver.
type Notification struct {
	Title      string
	Body       string
	DeliveryID types.ID
}

// NotifyResult reports the outcome of one fan-out. Partial failures are
// normal; any driver that did receive the push can still claim the delivery.
type NotifyResult struct {
	Requested int
	Delivered int
	Failed    int
}

// Pusher sends one notification to a batch of device tokens. Implemented by
// FCMNotifier in production and by fakes in tests.
type Pusher interface {
	Send(ctx context.Context, tokens []string, n Notification) (NotifyResult, error)
}

type FCMNotifier struct {
	client *messaging.Client
}

func NewFCMNotifier(client *messaging.Client) *FCMNotifier {
	return &FCMNotifier{client: client}
}

// Send delivers the payload to all tokens in a single multicast call. An
// empty token list is a no-op, not a failure.
func (n *FCMNotifier) Send(ctx context.Context, tokens []string, note Notification) (NotifyResult, error) {
	if len(tokens) == 0 {
		return NotifyResult{}, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: note.Title,
			Body:  note.Body,
		},
		Data: map[string]string{
			"deliveryId":   string(note.DeliveryID),
			"click_action": "FLUTTER_NOTIFICATION_CLICK",
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	br, err := n.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return NotifyResult{Requested: len(tokens), Failed: len(tokens)},
			fmt.Errorf("fcm multicast for delivery %s: %w", note.DeliveryID, err)
	}
	return NotifyResult{
		Requested: len(tokens),
		Delivered: br.SuccessCount,
		Failed:    br.FailureCount,
	}, nil
}
