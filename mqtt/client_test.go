package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paybridge/bluetooth"
	"paybridge/common"
	"paybridge/payment"
)

// MockMQTTClient для тестирования
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqttLib.Token {
	return m.Called().Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) mqttLib.Token {
	return m.Called(topic, qos, callback).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqttLib.MessageHandler) mqttLib.Token {
	return m.Called(filters).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqttLib.Token {
	return m.Called(topics).Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqttLib.MessageHandler) {
	m.Called(topic)
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) OptionsReader() mqttLib.ClientOptionsReader {
	return m.Called().Get(0).(mqttLib.ClientOptionsReader)
}

// doneToken - завершённая операция paho
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type mockMQTTMessage struct {
	topic   string
	payload []byte
}

func (m *mockMQTTMessage) Duplicate() bool { return false }
func (m *mockMQTTMessage) Qos() byte { return 1 }
func (m *mockMQTTMessage) Retained() bool { return false }
func (m *mockMQTTMessage) Topic() string { return m.topic }
func (m *mockMQTTMessage) MessageID() uint16 { return 1 }
func (m *mockMQTTMessage) Payload() []byte { return m.payload }
func (m *mockMQTTMessage) Ack() {}

// fakeService сразу отвечает заданным результатом
type fakeService struct {
	mu          sync.Mutex
	result      payment.Result
	operations  []payment.Operation
	reversals   []payment.ReverseOperation
	calls       []string
	login       string
	connectErr  error
	enabled     bluetooth.Device
	cashback    [2]decimal.Decimal
	serviceData string
}

func (s *fakeService) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *fakeService) StartPayment(ctx context.Context, op payment.Operation, handler payment.Handler) {
	s.mu.Lock()
	s.operations = append(s.operations, op)
	s.mu.Unlock()
	s.record("payment")
	handler(s.result)
}

func (s *fakeService) CancelPayment(ctx context.Context, rev payment.ReverseOperation, handler payment.Handler) {
	s.mu.Lock()
	s.reversals = append(s.reversals, rev)
	s.mu.Unlock()
	s.record("cancel")
	handler(s.result)
}

func (s *fakeService) BalanceInquiry(ctx context.Context, handler payment.Handler) {
	s.record("balance")
	handler(s.result)
}

func (s *fakeService) Reconciliation(ctx context.Context, handler payment.Handler) {
	s.record("reconciliation")
	handler(s.result)
}

func (s *fakeService) ServiceMenu(ctx context.Context, handler payment.Handler) {
	s.record("service_menu")
	handler(s.result)
}

func (s *fakeService) AddTestConfiguration(ctx context.Context, handler payment.Handler) {
	s.record("test_configuration")
	handler(s.result)
}

func (s *fakeService) SetDefaultTerminal(ctx context.Context, enabled bool, handler payment.Handler) {
	s.record("default_terminal")
	handler(s.result)
}

func (s *fakeService) Cashout(ctx context.Context, cashBack decimal.Decimal, data string, handler payment.Handler) {
	s.mu.Lock()
	s.cashback = [2]decimal.Decimal{decimal.Zero, cashBack}
	s.serviceData = data
	s.mu.Unlock()
	s.record("cashout")
	handler(s.result)
}

func (s *fakeService) PurchaseWithCashback(ctx context.Context, amount, cashBack decimal.Decimal, data string, handler payment.Handler) {
	s.mu.Lock()
	s.cashback = [2]decimal.Decimal{amount, cashBack}
	s.serviceData = data
	s.mu.Unlock()
	s.record("purchase_with_cashback")
	handler(s.result)
}

func (s *fakeService) SetCredentials(login, password string) {
	s.mu.Lock()
	s.login = login
	s.mu.Unlock()
	s.record("credentials")
}

func (s *fakeService) Connect(ctx context.Context, address string) error {
	s.record("connect " + address)
	return s.connectErr
}

func (s *fakeService) Enable(ctx context.Context) (bluetooth.Device, error) {
	s.record("enable")
	return s.enabled, s.connectErr
}

func (s *fakeService) Disable() error {
	s.record("disable")
	return nil
}

type published struct {
	topic   string
	payload []byte
}

func newTestClient(t *testing.T, service Service) (*Client, chan published) {
	t.Helper()
	config := DefaultConfig()
	client := NewClient(config, service)
	out := make(chan published, 16)
	client.publish = func(topic string, payload []byte) error {
		out <- published{topic: topic, payload: payload}
		return nil
	}
	client.run()
	t.Cleanup(func() { client.Stop() })
	return client, out
}

func send(client *Client, command, body string) {
	client.onCommandReceived(nil, &mockMQTTMessage{
		topic:   "paybridge/command/" + command + "/request",
		payload: []byte(body),
	})
}

func awaitResponse(t *testing.T, out chan published) (string, CommandResponse, map[string]any) {
	t.Helper()
	select {
	case msg := <-out:
		var response CommandResponse
		require.NoError(t, json.Unmarshal(msg.payload, &response))
		var raw map[string]any
		require.NoError(t, json.Unmarshal(msg.payload, &raw))
		return msg.topic, response, raw
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
		return "", CommandResponse{}, nil
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.NotEmpty(t, config.Broker)
	assert.NotEmpty(t, config.ClientID)
	assert.NotEmpty(t, config.CommandTopic)
	assert.NotEmpty(t, config.StateTopic)
	assert.LessOrEqual(t, config.QoS, byte(2))
}

func TestGenerateClientID(t *testing.T) {
	id1 := generateClientID()
	id2 := generateClientID()
	assert.True(t, strings.HasPrefix(id1, "paybridge-"))
	assert.NotEqual(t, id1, id2)
}

func TestNewClientFillsClientID(t *testing.T) {
	client := NewClient(Config{Broker: "tcp://localhost:1883"}, &fakeService{})
	assert.NotEmpty(t, client.config.ClientID)
	assert.False(t, client.IsConnected())
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"paybridge/command/payment/request", "payment"},
		{"paybridge/command/cancel/request", "cancel"},
		{"paybridge/command/payment/response", ""},
		{"other/payment/request", ""},
		{"paybridge/command/a/b/request", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, commandName("paybridge/command", tt.topic), tt.topic)
	}
}

func TestPaymentCommandPublishesResult(t *testing.T) {
	service := &fakeService{result: payment.Result{
		Success: true,
		Data:    payment.CashResult{TransactionID: "T1", Amount: decimal.RequireFromString("10")},
	}}
	client, out := newTestClient(t, service)

	send(client, CommandPayment, `{"correlation_id":"c-1","payload":{"method":"CASH","amount":"10.00"}}`)

	topic, response, raw := awaitResponse(t, out)
	assert.Equal(t, "paybridge/command/payment/response", topic)
	assert.Equal(t, "c-1", response.CorrelationID)
	assert.Equal(t, CommandPayment, response.Command)
	assert.Equal(t, common.StatusSuccess, response.Status)

	result := raw["result"].(map[string]any)
	data := result["data"].(map[string]any)
	assert.Equal(t, "T1", data["transactionId"])

	require.Len(t, service.operations, 1)
	assert.Equal(t, payment.MethodCash, service.operations[0].Method)
	assert.True(t, service.operations[0].Amount.Equal(decimal.RequireFromString("10")))
}

func TestFailedResultPublishesError(t *testing.T) {
	service := &fakeService{result: payment.Result{Success: false, Message: "Declined", Code: 12}}
	client, out := newTestClient(t, service)

	send(client, CommandCancel, `{"correlation_id":"c-2","payload":{"method":"CARD","transactionId":"TX"}}`)

	_, response, raw := awaitResponse(t, out)
	assert.Equal(t, common.StatusError, response.Status)
	assert.Equal(t, "Declined", response.Error)
	assert.EqualValues(t, 12, raw["result"].(map[string]any)["code"])
	assert.Equal(t, "TX", service.reversals[0].TransactionID)
}

func TestMissingCorrelationIDIsGenerated(t *testing.T) {
	client, out := newTestClient(t, &fakeService{result: payment.Result{Success: true}})
	send(client, CommandBalance, `{}`)

	_, response, _ := awaitResponse(t, out)
	assert.NotEmpty(t, response.CorrelationID)
}

func TestUnknownCommandRejected(t *testing.T) {
	client, out := newTestClient(t, &fakeService{})
	send(client, "reboot", `{"correlation_id":"c-3"}`)

	topic, response, _ := awaitResponse(t, out)
	assert.Equal(t, "paybridge/command/reboot/response", topic)
	assert.Equal(t, common.StatusError, response.Status)
	assert.Contains(t, response.Error, "unknown command")
}

func TestMalformedMessageRejected(t *testing.T) {
	client, out := newTestClient(t, &fakeService{})
	send(client, CommandPayment, `not json`)

	_, response, _ := awaitResponse(t, out)
	assert.Equal(t, common.StatusError, response.Status)
	assert.Contains(t, response.Error, "invalid command message")
}

func TestMalformedPayloadRejected(t *testing.T) {
	service := &fakeService{}
	client, out := newTestClient(t, service)
	send(client, CommandPayment, `{"correlation_id":"c-4","payload":{"amount":"ten"}}`)

	_, response, _ := awaitResponse(t, out)
	assert.Equal(t, "c-4", response.CorrelationID)
	assert.Contains(t, response.Error, "invalid payload")
	assert.Empty(t, service.operations)
}

func TestCredentialsCommandDoesNotEchoPassword(t *testing.T) {
	service := &fakeService{}
	client, out := newTestClient(t, service)
	send(client, CommandCredentials, `{"correlation_id":"c-5","payload":{"login":"cashier","password":"secret"}}`)

	msg := <-out
	assert.NotContains(t, string(msg.payload), "secret")
	assert.Equal(t, "cashier", service.login)
}

func TestCashbackCommands(t *testing.T) {
	service := &fakeService{result: payment.Result{Success: true}}
	client, out := newTestClient(t, service)

	send(client, CommandPurchaseWithCashback, `{"correlation_id":"c-6","payload":{"amount":"10","cashBack":"2.5","data":{"shift":1}}}`)
	awaitResponse(t, out)

	service.mu.Lock()
	defer service.mu.Unlock()
	assert.True(t, service.cashback[0].Equal(decimal.RequireFromString("10")))
	assert.True(t, service.cashback[1].Equal(decimal.RequireFromString("2.5")))
	assert.JSONEq(t, `{"shift":1}`, service.serviceData)
}

func TestConnectCommand(t *testing.T) {
	service := &fakeService{enabled: bluetooth.Device{Address: "00:11:22:33:44:55", Name: "CloudPOS"}}
	client, out := newTestClient(t, service)

	send(client, CommandConnect, `{"correlation_id":"c-7"}`)
	_, response, raw := awaitResponse(t, out)
	assert.Equal(t, common.StatusSuccess, response.Status)
	assert.Equal(t, "00:11:22:33:44:55", raw["result"].(map[string]any)["data"].(map[string]any)["address"])

	service.connectErr = bluetooth.ErrAdapterDisabled
	send(client, CommandConnect, `{"correlation_id":"c-8","payload":{"address":"AA:BB:CC:DD:EE:FF"}}`)
	_, response, _ = awaitResponse(t, out)
	assert.Equal(t, common.StatusError, response.Status)
	assert.Contains(t, service.calls, "connect AA:BB:CC:DD:EE:FF")
}

func TestServiceCommandsRouted(t *testing.T) {
	service := &fakeService{result: payment.Result{Success: true}}
	client, out := newTestClient(t, service)

	for _, command := range []string{
		CommandReconciliation, CommandServiceMenu, CommandTestConfiguration,
		CommandDefaultTerminal, CommandCashout, CommandDisable,
	} {
		send(client, command, `{"correlation_id":"x"}`)
		_, response, _ := awaitResponse(t, out)
		assert.Equal(t, command, response.Command)
		assert.Equal(t, common.StatusSuccess, response.Status, command)
	}
	assert.Equal(t, []string{
		"reconciliation", "service_menu", "test_configuration",
		"default_terminal", "cashout", "disable",
	}, service.calls)
}

func TestOnStatePublishesEvent(t *testing.T) {
	client, out := newTestClient(t, &fakeService{})
	client.OnState(payment.StatePayFinish, "approved")

	msg := <-out
	assert.Equal(t, "paybridge/state", msg.topic)
	var event common.StateEvent
	require.NoError(t, json.Unmarshal(msg.payload, &event))
	assert.Equal(t, "PAY_FINISH", event.State)
	assert.Equal(t, payment.StatePayFinish.Message(), event.Message)
	assert.Equal(t, "approved", event.Detail)
}

func TestPublishMQTT(t *testing.T) {
	client := NewClient(DefaultConfig(), &fakeService{})
	broker := new(MockMQTTClient)
	client.mqttClient = broker

	broker.On("IsConnected").Return(true)
	broker.On("Publish", "paybridge/state", byte(1), false, []byte("{}")).Return(doneToken{}).Once()
	require.NoError(t, client.publishMQTT("paybridge/state", []byte("{}")))

	broker.On("Publish", "paybridge/fail", byte(1), false, []byte("{}")).Return(doneToken{err: errors.New("broker gone")}).Once()
	assert.ErrorContains(t, client.publishMQTT("paybridge/fail", []byte("{}")), "broker gone")
	broker.AssertExpectations(t)
}

func TestPublishWithoutBroker(t *testing.T) {
	client := NewClient(DefaultConfig(), &fakeService{})
	assert.ErrorIs(t, client.publishMQTT("paybridge/state", nil), ErrNotConnected)
}

func TestOnConnectSubscribesToRequests(t *testing.T) {
	client := NewClient(DefaultConfig(), &fakeService{})
	broker := new(MockMQTTClient)
	broker.On("Subscribe", "paybridge/command/+/request", byte(1), mock.Anything).Return(doneToken{}).Once()

	client.onConnectHandler(broker)
	broker.AssertExpectations(t)
}

func TestStopIsIdempotent(t *testing.T) {
	client := NewClient(DefaultConfig(), &fakeService{})
	client.run()
	require.NoError(t, client.Stop())
	require.NoError(t, client.Stop())
}
