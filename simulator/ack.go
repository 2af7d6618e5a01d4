package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// AckStrategy defines how a simulated drone acknowledges commands.
type AckStrategy interface {
	Ack(ctx context.Context, cli paho.Client, family, deviceID, commandID, status, reason string)
}

// AutoAck sends an acknowledgment after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, cli paho.Client, family, deviceID, commandID, status, reason string) {
	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return
		}
	}
	publishAck(cli, family, deviceID, commandID, status, reason)
}

// RandomAck drops acknowledgments with the configured probability and
// waits for the specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, cli paho.Client, family, deviceID, commandID, status, reason string) {
	if r.DropRate > 0 && rng.Float64() < r.DropRate {
		return
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return
		}
	}
	publishAck(cli, family, deviceID, commandID, status, reason)
}

func publishAck(cli paho.Client, family, deviceID, commandID, status, reason string) {
	payload, err := json.Marshal(struct {
		CommandID string `json:"command_id"`
		Status    string `json:"status"`
		Reason    string `json:"reason,omitempty"`
	}{CommandID: commandID, Status: status, Reason: reason})
	if err != nil {
		log.Printf("marshal ack: %v", err)
		return
	}
	topic := fmt.Sprintf("fleet/%s/%s/ack", family, deviceID)
	token := cli.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("ack publish timeout for %s", deviceID)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("publish ack error for %s: %v", deviceID, err)
	}
}
