package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request implements the store's request/response primitive:
// correlation via a message id carried in the payload. It publishes
// message (with a "correlationId" field injected) on channel, listens
// on channel+":reply:"+id for a response, and returns it or times out.
//
// Callers on the other end must reply by publishing their response to
// the channel named in the "replyTo" field the request carries.
func Request(ctx context.Context, c Client, channel string, message map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	correlationID := uuid.New().String()
	replyTo := fmt.Sprintf("%s:reply:%s", channel, correlationID)

	sub, err := c.Subscribe(ctx, replyTo, false)
	if err != nil {
		return nil, fmt.Errorf("request subscribe for reply: %w", err)
	}
	defer sub.Close()

	env := make(map[string]interface{}, len(message)+2)
	for k, v := range message {
		env[k] = v
	}
	env["correlationId"] = correlationID
	env["replyTo"] = replyTo

	payload, err := Encode(env)
	if err != nil {
		return nil, fmt.Errorf("request encode: %w", err)
	}

	if err := c.Publish(ctx, channel, []byte(payload)); err != nil {
		return nil, fmt.Errorf("request publish: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-sub.Channel():
		var resp map[string]interface{}
		if err := Decode(string(msg.Payload), &resp); err != nil {
			return nil, fmt.Errorf("request decode reply: %w", err)
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("request to %s timed out after %s", channel, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond publishes a response to the replyTo channel named in a
// received request envelope, preserving its correlationId.
func Respond(ctx context.Context, c Client, request map[string]interface{}, response map[string]interface{}) error {
	replyTo, _ := request["replyTo"].(string)
	if replyTo == "" {
		return fmt.Errorf("request has no replyTo field")
	}
	env := make(map[string]interface{}, len(response)+1)
	for k, v := range response {
		env[k] = v
	}
	if cid, ok := request["correlationId"]; ok {
		env["correlationId"] = cid
	}
	payload, err := Encode(env)
	if err != nil {
		return fmt.Errorf("respond encode: %w", err)
	}
	return c.Publish(ctx, replyTo, []byte(payload))
}
