// Package queue defines message payloads exchanged over the message broker.
package queue

// FulfillmentQueueName is the durable queue fulfillment events land on.
const FulfillmentQueueName = "fulfillment.completed"

// FulfillmentEvent is published after a redemption code is consumed and a
// seat allocated.  It carries enough information for downstream consumers
// (audit log, notification delivery) without querying the primary database.
type FulfillmentEvent struct {
	OrderNo     string `json:"order_no,omitempty"`
	Code        string `json:"code"`
	Channel     string `json:"channel"`
	BuyerEmail  string `json:"buyer_email"`
	AccountID   uint64 `json:"account_id"`
	AccountName string `json:"account_name"`
	UsedSeats   int    `json:"used_seats"`
	SeatLimit   int    `json:"seat_limit"`
	InviteSent  bool   `json:"invite_sent"`
	InviteError string `json:"invite_error,omitempty"`
	RedeemedAt  string `json:"redeemed_at"`
}
