// Package mqtttransport implements spec.md §6's transport-neutral request/
// response primitive over MQTT, mirroring the original CSE's MQTT binding
// topic shape: requests arrive on "/oneM2M/req/<originator>/<cse-id>/<ct>"
// and responses publish to "/oneM2M/resp/<originator>/<cse-id>/<ct>", ct
// being the content serialization suffix (json/cbor/xml). Grounded on
// SPEC_FULL.md §6a's DOMAIN STACK binding of eclipse/paho.mqtt.golang to
// this adapter; no example repo in the pack exercises an MQTT binding, so
// the topic/QoS conventions below follow the oneM2M TS-0010 shape rather
// than a teacher idiom.
package mqtttransport

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/internal/codec"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/resource"
)

// Config configures the MQTT binding's broker connection.
type Config struct {
	BrokerURL string
	ClientID  string
	CSEID     string
	Username  string
	Password  string
	QoS       byte
}

// Transport is the MQTT binding's front door: one subscription per
// supported content serialization under this CSE's request topic tree.
type Transport struct {
	Dispatcher *dispatch.Dispatcher
	Log        *logging.Logger
	cfg        Config
	client     mqtt.Client
}

// New builds a Transport and its (not-yet-connected) paho client.
func New(cfg Config, d *dispatch.Dispatcher, log *logging.Logger) *Transport {
	t := &Transport{Dispatcher: d, Log: log, cfg: cfg}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if cfg.Username != "" {
		opts = opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	t.client = mqtt.NewClient(opts)
	return t
}

// requestTopicFilter is this CSE's inbound request subscription, matching
// any originator and any supported content serialization.
func (t *Transport) requestTopicFilter() string {
	return fmt.Sprintf("/oneM2M/req/+/%s/#", t.cfg.CSEID)
}

// Start connects to the broker and subscribes to the request topic tree.
// It waits up to 10 seconds each for the connection and the subscription
// and returns an error on timeout; once ctx is canceled, the client is
// disconnected.
func (t *Transport) Start(ctx context.Context) error {
	token := t.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connecting to mqtt broker %s: timed out", t.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to mqtt broker %s: %w", t.cfg.BrokerURL, err)
	}

	subToken := t.client.Subscribe(t.requestTopicFilter(), t.cfg.QoS, t.handleMessage)
	if !subToken.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribing to %s: timed out", t.requestTopicFilter())
	}
	if err := subToken.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", t.requestTopicFilter(), err)
	}

	if t.Log != nil {
		t.Log.WithFields(map[string]interface{}{"topic": t.requestTopicFilter()}).Info("mqtt transport started")
	}

	go func() {
		<-ctx.Done()
		t.client.Disconnect(250)
	}()
	return nil
}

// handleMessage parses one inbound request message and publishes the
// dispatcher's response, per the oneM2M MQTT binding: the request topic's
// third segment carries the originator and its last segment the content
// type, the payload is the encoded primitive content.
func (t *Transport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	originator, format, err := parseRequestTopic(msg.Topic(), t.cfg.CSEID)
	if err != nil {
		if t.Log != nil {
			t.Log.WithError(err).Error("mqtt request topic parse failed")
		}
		return
	}

	req, err := decodeRequest(msg.Payload(), originator, format)
	if err != nil {
		if t.Log != nil {
			t.Log.WithError(err).Error("mqtt request payload decode failed")
		}
		return
	}

	resp := t.Dispatcher.Dispatch(context.Background(), req)

	body, err := encodeResponse(resp, format)
	if err != nil {
		if t.Log != nil {
			t.Log.WithError(err).Error("mqtt response encode failed")
		}
		return
	}

	respTopic := fmt.Sprintf("/oneM2M/resp/%s/%s/%s", originator, t.cfg.CSEID, format)
	pubToken := t.client.Publish(respTopic, t.cfg.QoS, false, body)
	if pubToken.WaitTimeout(5*time.Second) && pubToken.Error() != nil && t.Log != nil {
		t.Log.WithError(pubToken.Error()).WithFields(map[string]interface{}{"topic": respTopic}).Error("mqtt response publish failed")
	}
}

// parseRequestTopic splits "/oneM2M/req/<originator>/<cse-id>/<ct>" into its
// originator and content-serialization parts.
func parseRequestTopic(topic, cseID string) (originator string, format codec.Format, err error) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) != 5 || parts[0] != "oneM2M" || parts[1] != "req" || parts[3] != cseID {
		return "", "", fmt.Errorf("unexpected request topic %q", topic)
	}
	format = codec.Format(strings.ToLower(parts[4]))
	switch format {
	case codec.FormatJSON, codec.FormatCBOR, codec.FormatXML:
	default:
		return "", "", fmt.Errorf("unsupported content serialization %q in topic %q", parts[4], topic)
	}
	return parts[2], format, nil
}

// decodeRequest builds a dispatch.Request from an MQTT payload: the
// envelope carries "to"/"op"/"ty"/"rqi"/"rvi" alongside "pc", since MQTT
// (unlike HTTP) has no header channel to carry request framing separately
// from the body.
func decodeRequest(payload []byte, originator string, format codec.Format) (*dispatch.Request, error) {
	generic, err := codec.DecodeGeneric(payload, format)
	if err != nil {
		return nil, fmt.Errorf("decoding request envelope: %w", err)
	}
	env, ok := generic.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("request envelope is not an object")
	}

	req := &dispatch.Request{
		Operation:  operationFromCode(intField(env, "op")),
		To:         stringField(env, "to"),
		Originator: originator,
		Ty:         resource.Type(intField(env, "ty")),
		RQI:        stringField(env, "rqi"),
		RVI:        stringField(env, "rvi"),
	}
	if pc, ok := env["pc"].(map[string]interface{}); ok {
		req.Payload = pc
	}
	return req, nil
}

func encodeResponse(resp *dispatch.Response, format codec.Format) ([]byte, error) {
	envelope := map[string]interface{}{
		"rsc": resp.RSC,
		"rqi": resp.RQI,
		"to":  resp.To,
	}
	if resp.PC != nil {
		envelope["pc"] = resp.PC
	}
	return codec.Encode(envelope, format)
}

func stringField(env map[string]interface{}, key string) string {
	if s, ok := env[key].(string); ok {
		return s
	}
	return ""
}

func intField(env map[string]interface{}, key string) int {
	switch v := env[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return -1
	}
}

// operationFromCode maps the oneM2M numeric op code (1=C,2=R,3=U,4=D,5=N)
// to a resource.Operation; unrecognized or missing codes fall back to
// Retrieve, so a malformed op code never causes a mutation.
func operationFromCode(op int) resource.Operation {
	switch op {
	case 1:
		return resource.OpCreate
	case 3:
		return resource.OpUpdate
	case 4:
		return resource.OpDelete
	case 5:
		return resource.OpNotify
	default:
		return resource.OpRetrieve
	}
}
