package ledger

import (
	"context"
	"encoding/json"
	"time"

	coreledger "github.com/reliefops/aidchain/core/ledger"
)

type subscription struct {
	contract string
	event    string
	handler  coreledger.EventHandler
}

// Subscribe registers a handler for a contract event. Delivery starts once
// Run is called; events are handed out in block order, including events
// written by other gateway clients.
func (c *Client) Subscribe(contract, event string, handler coreledger.EventHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, &subscription{contract: contract, event: event, handler: handler})
	if _, ok := c.cursors[contract]; !ok {
		c.cursors[contract] = 0
	}
	return nil
}

// Run polls the gateway log range for every subscribed contract until the
// context is cancelled. Handlers run on the polling goroutine, so they must
// not block.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) {
	c.mu.Lock()
	contracts := make(map[string]uint64, len(c.cursors))
	for name, cur := range c.cursors {
		contracts[name] = cur
	}
	c.mu.Unlock()

	for name, from := range contracts {
		var logs []struct {
			TxHash      string          `json:"tx_hash"`
			BlockNumber uint64          `json:"block_number"`
			EventName   string          `json:"event_name"`
			Args        json.RawMessage `json:"args"`
		}
		err := c.call(ctx, "logs.range", map[string]any{
			"contract":   c.contractAddress(name),
			"from_block": from,
		}, &logs)
		if err != nil {
			c.log.Warnf("poll logs for %s: %v", name, err)
			continue
		}
		next := from
		for _, l := range logs {
			if l.BlockNumber < from {
				continue
			}
			c.deliver(name, coreledger.Event{
				TxHash:      l.TxHash,
				BlockNumber: l.BlockNumber,
				EventName:   l.EventName,
				Args:        l.Args,
			})
			if l.BlockNumber >= next {
				next = l.BlockNumber + 1
			}
		}
		c.mu.Lock()
		if next > c.cursors[name] {
			c.cursors[name] = next
		}
		c.mu.Unlock()
	}
}

func (c *Client) deliver(contract string, ev coreledger.Event) {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		if s.contract == contract && s.event == ev.EventName {
			subs = append(subs, s)
		}
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.handler(ev)
	}
}
