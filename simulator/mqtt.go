package main

import (
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
)

func newMQTTClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", broker, token.Error())
	}
	return cli, nil
}
