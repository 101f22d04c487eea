package mqttapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"talkops/internal/chat"
	"talkops/internal/config"
	"talkops/internal/logger"
)

type request struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

type response struct {
	Answer string `json:"answer"`
}

// Client bridges named agents to an MQTT broker. A message published to
// <prefix>/<agent>/request runs one turn; the answer is published to
// <prefix>/<agent>/response.
type Client struct {
	cfg          *config.Config
	orchestrator *chat.Orchestrator
	logger       logger.Logger
	client       mqtt.Client
}

func NewClient(cfg *config.Config, orchestrator *chat.Orchestrator, log logger.Logger) *Client {
	return &Client{
		cfg:          cfg,
		orchestrator: orchestrator,
		logger:       log,
	}
}

func (c *Client) Start(ctx context.Context) error {
	mqttCfg := c.cfg.MQTT()
	opts := mqtt.NewClientOptions().
		AddBroker(mqttCfg.Broker).
		SetClientID(mqttCfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(client mqtt.Client) {
			c.subscribe(ctx, client, mqttCfg.TopicPrefix)
		})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	c.logger.WithField("broker", mqttCfg.Broker).Info("MQTT transport started")

	go func() {
		<-ctx.Done()
		c.client.Disconnect(250)
	}()
	return nil
}

func (c *Client) subscribe(ctx context.Context, client mqtt.Client, prefix string) {
	topic := prefix + "/+/request"
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		go c.handle(ctx, prefix, msg)
	})
	if token.Wait() && token.Error() != nil {
		c.logger.WithError(token.Error()).WithField("topic", topic).Error("MQTT subscribe failed")
		return
	}
	c.logger.WithField("topic", topic).Debug("Subscribed")
}

func (c *Client) handle(ctx context.Context, prefix string, msg mqtt.Message) {
	agent := agentFromTopic(prefix, msg.Topic())
	chatCfg, ok := c.cfg.ChatByAgent(agent)
	if !ok {
		c.logger.WithField("agent", agent).Warn("Request for unknown agent")
		return
	}

	var req request
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		// plain text payloads are accepted as the question itself
		req.Text = string(msg.Payload())
	}
	if req.Text == "" {
		return
	}

	answer := c.orchestrator.Ask(ctx, chatCfg, chat.Turn{
		ChatID: chatCfg.ID,
		Text:   req.Text,
		Name:   req.Name,
	})

	payload, err := json.Marshal(response{Answer: answer})
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal response")
		return
	}
	replyTopic := fmt.Sprintf("%s/%s/response", prefix, agent)
	if token := c.client.Publish(replyTopic, 1, false, payload); token.Wait() && token.Error() != nil {
		c.logger.WithError(token.Error()).WithField("topic", replyTopic).Error("MQTT publish failed")
	}
}

func agentFromTopic(prefix, topic string) string {
	rest := strings.TrimPrefix(topic, prefix+"/")
	if i := strings.Index(rest, "/"); i > 0 {
		return rest[:i]
	}
	return rest
}
