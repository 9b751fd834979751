// Package mqtt connects the reader to capture nodes and remote speakers over
// an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const tokenTimeout = 5 * time.Second

type ClientConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Client is the subset of paho.Client used by this package.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Connect dials the broker and disconnects when ctx is done.
func Connect(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (paho.Client, error) {
	if strings.TrimSpace(cfg.BrokerURL) == "" {
		return nil, errors.New("MQTT_BROKER_URL is not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", cfg.ClientID)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(tokenTimeout) {
		client.Disconnect(0)
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(100)
	}()

	return client, nil
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(tokenTimeout) {
		return errors.New("mqtt operation timed out")
	}
	return token.Error()
}
