// Package telemetry publishes coordinator events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicStatus    = "status"
	TopicHost      = "host"
	TopicLobby     = "lobby"
	TopicPlayer    = "player"
	TopicInvite    = "invite"
	TopicHandshake = "handshake"
	TopicRegistry  = "registry"
)

var topicByEvent = map[events.EventType]string{
	events.EventHostRegistered:     TopicHost,
	events.EventLobbyCreated:       TopicLobby,
	events.EventLobbyClosed:        TopicLobby,
	events.EventPlayerJoined:       TopicPlayer,
	events.EventPlayerQuit:         TopicPlayer,
	events.EventInviteRelayed:      TopicInvite,
	events.EventInviteAccepted:     TopicInvite,
	events.EventHandshakeAbandoned: TopicHandshake,
	events.EventRegistryCleared:    TopicRegistry,
}

// Message is the JSON envelope of every published message.
type Message struct {
	Event     string      `json:"event"`
	Session   string      `json:"session"`
	Hostname  string      `json:"hostname"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// MQTTHandler forwards bus events to the broker with QoS 1.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	session  string
	hostname string
}

// NewMQTTHandler builds a client from cfg. Nothing connects until Start.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, session string) (*MQTTHandler, error) {
	mqttCfg := cfg.GetMQTT()
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	handler := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		session:  session,
		hostname: util.GetSystemInfo().Hostname,
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID("lobbymaster-" + session)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)
	return handler, nil
}

// Start connects, subscribes to the bus and blocks until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	h.publish(TopicStatus, Message{Event: "startup"})

	<-ctx.Done()

	h.publish(TopicStatus, Message{Event: string(events.EventShutdown)})
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.SubscribeAll("mqtt", h.onEvent)
}

func (h *MQTTHandler) onEvent(ctx context.Context, event events.Event) error {
	topic, ok := topicByEvent[event.Type]
	if !ok {
		return nil
	}
	h.publish(topic, Message{
		Event:     string(event.Type),
		Payload:   event.Payload,
		Timestamp: event.Time.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// publish stamps the envelope and sends it without waiting for the ack.
func (h *MQTTHandler) publish(suffix string, msg Message) {
	if !h.client.IsConnected() {
		return
	}

	msg.Session = h.session
	msg.Hostname = h.hostname
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("event", msg.Event).Msg("failed to marshal MQTT message")
		return
	}

	topic := h.topic(suffix)
	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}
