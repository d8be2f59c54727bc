package backpack

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/pkg/websocket"
)

type subscribeMessage struct {
	Method    string   `json:"method"`
	Params    []string `json:"params"`
	Signature []string `json:"signature"`
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type orderEvent struct {
	Event   string `json:"e"`
	OrderID string `json:"i"`
	Symbol  string `json:"s"`
}

// StartOrderStream subscribes to account.orderUpdate.<contractID> and invokes
// callback for every order event until ctx is done. It does not block.
func (e *Exchange) StartOrderStream(ctx context.Context, contractID string, callback func(update core.OrderUpdate)) error {
	stream := "account.orderUpdate." + contractID

	client := websocket.NewClient(ctx, e.cfg.WSURL, func(message []byte) {
		e.handleStreamMessage(contractID, message, callback)
	}, e.logger)

	client.SetOnConnected(func() error {
		if err := client.Send(subscribeMessage{
			Method:    "SUBSCRIBE",
			Params:    []string{stream},
			Signature: e.signer.SubscribeSignature(),
		}); err != nil {
			return err
		}
		e.logger.Info("Subscribed to order updates", "stream", stream)
		return nil
	})

	client.Start()
	go func() {
		<-ctx.Done()
		client.Stop()
	}()
	return nil
}

func (e *Exchange) handleStreamMessage(contractID string, message []byte, callback func(update core.OrderUpdate)) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		e.logger.Error("Failed to parse stream message", "error", err)
		return
	}
	if !strings.Contains(env.Stream, "orderUpdate") {
		e.logger.Debug("Ignoring stream message", "stream", env.Stream)
		return
	}

	var ev orderEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		e.logger.Error("Failed to parse order update", "error", err)
		return
	}

	symbol := ev.Symbol
	if symbol == "" {
		symbol = contractID
	}
	callback(core.OrderUpdate{
		ContractID: symbol,
		Event:      ev.Event,
		OrderID:    ev.OrderID,
		Raw:        append([]byte(nil), env.Data...),
		ReceivedAt: time.Now(),
	})
}
