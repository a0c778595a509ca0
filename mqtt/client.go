package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paybridge/bluetooth"
	"paybridge/common"
	"paybridge/payment"
)

// Команды, принимаемые в топике <command_topic>/<команда>/request
const (
	CommandPayment              = "payment"
	CommandCancel               = "cancel"
	CommandBalance              = "balance"
	CommandReconciliation       = "reconciliation"
	CommandServiceMenu          = "service_menu"
	CommandTestConfiguration    = "test_configuration"
	CommandDefaultTerminal      = "default_terminal"
	CommandCashout              = "cashout"
	CommandPurchaseWithCashback = "purchase_with_cashback"
	CommandCredentials          = "credentials"
	CommandConnect              = "connect"
	CommandDisable              = "disable"
)

var (
	// ErrNotConnected - клиент не подключен к брокеру
	ErrNotConnected = errors.New("MQTT client not connected")
	// ErrUnknownCommand - в топике команда, которой нет в списке
	ErrUnknownCommand = errors.New("unknown command")
)

// Config представляет конфигурацию MQTT клиента
type Config struct {
	Broker         string        `mapstructure:"broker"`          // Адрес брокера, например "tcp://localhost:1883"
	Username       string        `mapstructure:"username"`        // Имя пользователя (опционально)
	Password       string        `mapstructure:"password"`        // Пароль (опционально)
	ClientID       string        `mapstructure:"client_id"`       // ID клиента (опционально, генерируется если пустой)
	CommandTopic   string        `mapstructure:"command_topic"`   // Базовый топик для команд
	StateTopic     string        `mapstructure:"state_topic"`     // Топик для этапов жизненного цикла
	QoS            byte          `mapstructure:"qos"`             // Quality of Service (0, 1, 2)
	KeepAlive      int           `mapstructure:"keep_alive"`      // Интервал keep alive в секундах
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Таймаут подключения
	AutoReconnect  bool          `mapstructure:"auto_reconnect"`  // Автоматическое переподключение
}

// generateClientID генерирует случайный ID клиента
func generateClientID() string {
	return "paybridge-" + uuid.NewString()[:8]
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       generateClientID(),
		CommandTopic:   "paybridge/command",
		StateTopic:     "paybridge/state",
		QoS:            1,
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		AutoReconnect:  true,
	}
}

// Service - операции, доступные хосту через MQTT
type Service interface {
	StartPayment(ctx context.Context, op payment.Operation, handler payment.Handler)
	CancelPayment(ctx context.Context, rev payment.ReverseOperation, handler payment.Handler)
	BalanceInquiry(ctx context.Context, handler payment.Handler)
	Reconciliation(ctx context.Context, handler payment.Handler)
	ServiceMenu(ctx context.Context, handler payment.Handler)
	AddTestConfiguration(ctx context.Context, handler payment.Handler)
	SetDefaultTerminal(ctx context.Context, enabled bool, handler payment.Handler)
	Cashout(ctx context.Context, cashBack decimal.Decimal, data string, handler payment.Handler)
	PurchaseWithCashback(ctx context.Context, amount, cashBack decimal.Decimal, data string, handler payment.Handler)
	SetCredentials(login, password string)
	Connect(ctx context.Context, address string) error
	Enable(ctx context.Context) (bluetooth.Device, error)
	Disable() error
}

// CommandMessage представляет входящую команду (используем общий тип)
type CommandMessage = common.CommandMessage

// CommandResponse представляет ответ на команду (используем общий тип)
type CommandResponse = common.CommandResponse

type cashbackRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	CashBack decimal.Decimal `json:"cashBack"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type connectRequest struct {
	Address string `json:"address,omitempty"` // пустой адрес - поиск по именам из конфигурации
}

type defaultTerminalRequest struct {
	Enabled bool `json:"enabled"`
}

// Client принимает команды хоста из MQTT и публикует результаты и этапы
type Client struct {
	config     Config
	service    Service
	mqttClient mqttLib.Client
	publish    func(topic string, payload []byte) error

	responses chan CommandResponse  // Канал для ответов на команды
	states    chan common.StateEvent // Канал для этапов жизненного цикла
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	wg        sync.WaitGroup
	logger    *log.Logger
}

// NewClient создает нового MQTT клиента
func NewClient(config Config, service Service) *Client {
	if config.ClientID == "" {
		config.ClientID = generateClientID()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:    config,
		service:   service,
		responses: make(chan CommandResponse, 16),
		states:    make(chan common.StateEvent, 32),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.New(os.Stdout, "[MQTT-Client] ", log.LstdFlags|log.Lshortfile),
	}
	c.publish = c.publishMQTT
	return c
}

// Start подключается к брокеру и запускает публикацию ответов
func (c *Client) Start() error {
	c.logger.Printf("Starting MQTT client, broker: %s", c.config.Broker)

	opts := mqttLib.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetKeepAlive(time.Duration(c.config.KeepAlive) * time.Second)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetAutoReconnect(c.config.AutoReconnect)

	if c.config.Username != "" && c.config.Password != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
		c.logger.Println("MQTT authentication: ENABLED")
	} else {
		c.logger.Println("MQTT authentication: DISABLED (anonymous mode)")
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.onConnectionLostHandler)
	opts.SetReconnectingHandler(c.onReconnectingHandler)

	c.mqttClient = mqttLib.NewClient(opts)
	if token := c.mqttClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.run()
	c.logger.Println("MQTT client started successfully")
	return nil
}

// run запускает горутину публикации
func (c *Client) run() {
	c.wg.Add(1)
	go c.publishLoop()
}

// Stop останавливает MQTT клиента. Повторный вызов ничего не делает.
func (c *Client) Stop() error {
	c.stopOnce.Do(func() {
		c.logger.Println("Stopping MQTT client...")
		c.cancel()
		c.wg.Wait()

		if c.mqttClient != nil && c.mqttClient.IsConnected() {
			c.mqttClient.Disconnect(1000)
			c.logger.Println("MQTT client disconnected")
		}
	})
	return nil
}

// IsConnected возвращает true если клиент подключен к брокеру
func (c *Client) IsConnected() bool {
	return c.mqttClient != nil && c.mqttClient.IsConnected()
}

// onConnectHandler подписывается на команды при каждом подключении к брокеру
func (c *Client) onConnectHandler(client mqttLib.Client) {
	c.logger.Println("Connected to MQTT broker")

	commandTopic := fmt.Sprintf("%s/+/request", c.config.CommandTopic)
	if token := client.Subscribe(commandTopic, c.config.QoS, c.onCommandReceived); token.Wait() && token.Error() != nil {
		c.logger.Printf("Failed to subscribe to command topic %s: %v", commandTopic, token.Error())
		return
	}
	c.logger.Printf("Subscribed to command topic: %s", commandTopic)
}

func (c *Client) onConnectionLostHandler(client mqttLib.Client, err error) {
	c.logger.Printf("Connection lost: %v", err)
}

func (c *Client) onReconnectingHandler(client mqttLib.Client, opts *mqttLib.ClientOptions) {
	c.logger.Println("Attempting to reconnect to MQTT broker...")
}

// onCommandReceived обрабатывает входящие команды
func (c *Client) onCommandReceived(client mqttLib.Client, msg mqttLib.Message) {
	c.logger.Printf("Received command on topic: %s", msg.Topic())

	var cmd CommandMessage
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		c.logger.Printf("Failed to unmarshal command: %v", err)
		c.respondError("", commandName(c.config.CommandTopic, msg.Topic()), fmt.Errorf("invalid command message: %w", err))
		return
	}
	if name := commandName(c.config.CommandTopic, msg.Topic()); name != "" {
		cmd.Command = name
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}

	c.logger.Printf("Processing command: %s (correlation_id: %s)", cmd.Command, cmd.CorrelationID)
	if err := c.dispatch(cmd); err != nil {
		c.logger.Printf("Command %s (correlation_id: %s) rejected: %v", cmd.Command, cmd.CorrelationID, err)
		c.respondError(cmd.CorrelationID, cmd.Command, err)
	}
}

// commandName извлекает имя команды из топика <base>/<команда>/request
func commandName(base, topic string) string {
	rest, ok := strings.CutPrefix(topic, strings.TrimSuffix(base, "/")+"/")
	if !ok {
		return ""
	}
	name, ok := strings.CutSuffix(rest, "/request")
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}

// dispatch передаёт команду сервису. Ошибка означает, что команда не принята.
func (c *Client) dispatch(cmd CommandMessage) error {
	reply := c.replyWith(cmd.CorrelationID, cmd.Command)

	switch cmd.Command {
	case CommandPayment:
		var op payment.Operation
		if err := decodePayload(cmd.Payload, &op); err != nil {
			return err
		}
		c.service.StartPayment(c.ctx, op, reply)
	case CommandCancel:
		var rev payment.ReverseOperation
		if err := decodePayload(cmd.Payload, &rev); err != nil {
			return err
		}
		c.service.CancelPayment(c.ctx, rev, reply)
	case CommandBalance:
		c.service.BalanceInquiry(c.ctx, reply)
	case CommandReconciliation:
		c.service.Reconciliation(c.ctx, reply)
	case CommandServiceMenu:
		c.service.ServiceMenu(c.ctx, reply)
	case CommandTestConfiguration:
		c.service.AddTestConfiguration(c.ctx, reply)
	case CommandDefaultTerminal:
		var req defaultTerminalRequest
		if err := decodePayload(cmd.Payload, &req); err != nil {
			return err
		}
		c.service.SetDefaultTerminal(c.ctx, req.Enabled, reply)
	case CommandCashout:
		var req cashbackRequest
		if err := decodePayload(cmd.Payload, &req); err != nil {
			return err
		}
		c.service.Cashout(c.ctx, req.CashBack, string(req.Data), reply)
	case CommandPurchaseWithCashback:
		var req cashbackRequest
		if err := decodePayload(cmd.Payload, &req); err != nil {
			return err
		}
		c.service.PurchaseWithCashback(c.ctx, req.Amount, req.CashBack, string(req.Data), reply)
	case CommandCredentials:
		var req credentialsRequest
		if err := decodePayload(cmd.Payload, &req); err != nil {
			return err
		}
		c.service.SetCredentials(req.Login, req.Password)
		reply(payment.Result{Success: true, Message: "credentials updated"})
	case CommandConnect:
		var req connectRequest
		if err := decodePayload(cmd.Payload, &req); err != nil {
			return err
		}
		go c.connect(req.Address, reply)
	case CommandDisable:
		if err := c.service.Disable(); err != nil {
			reply(payment.Classify(err).Result())
			return nil
		}
		reply(payment.Result{Success: true, Message: "terminal disabled"})
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Command)
	}
	return nil
}

func (c *Client) connect(address string, reply payment.Handler) {
	if address != "" {
		if err := c.service.Connect(c.ctx, address); err != nil {
			reply(payment.Classify(err).Result())
			return
		}
		reply(payment.Result{Success: true, Data: bluetooth.Device{Address: address}})
		return
	}
	device, err := c.service.Enable(c.ctx)
	if err != nil {
		reply(payment.Classify(err).Result())
		return
	}
	reply(payment.Result{Success: true, Data: device})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// replyWith возвращает обработчик, публикующий результат операции
func (c *Client) replyWith(correlationID, command string) payment.Handler {
	return func(result payment.Result) {
		c.PublishCommandResponse(correlationID, command, result)
	}
}

// OnState публикует этап жизненного цикла. Подходит как payment.StateListener.
func (c *Client) OnState(state payment.State, detail string) {
	event := common.StateEvent{
		State:     string(state),
		Message:   state.Message(),
		Detail:    detail,
		Timestamp: time.Now(),
	}
	select {
	case c.states <- event:
	case <-time.After(1 * time.Second):
		c.logger.Printf("Timeout publishing state %s", state)
	}
}

// PublishCommandResponse ставит ответ на команду в очередь публикации
func (c *Client) PublishCommandResponse(correlationID, command string, result payment.Result) {
	response := CommandResponse{
		CorrelationID: correlationID,
		Command:       command,
		Status:        common.StatusSuccess,
		Result:        result,
		Timestamp:     time.Now(),
	}
	if !result.Success {
		response.Status = common.StatusError
		response.Error = result.Message
	}
	c.enqueue(response)
}

func (c *Client) respondError(correlationID, command string, err error) {
	c.enqueue(CommandResponse{
		CorrelationID: correlationID,
		Command:       command,
		Status:        common.StatusError,
		Error:         err.Error(),
		Timestamp:     time.Now(),
	})
}

func (c *Client) enqueue(response CommandResponse) {
	select {
	case c.responses <- response:
	case <-time.After(1 * time.Second):
		c.logger.Printf("Timeout publishing command response for correlation_id: %s", response.CorrelationID)
	}
}

// publishLoop публикует ответы и этапы до остановки клиента
func (c *Client) publishLoop() {
	defer c.wg.Done()
	c.logger.Println("Starting publish loop")

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Println("Publish loop stopped")
			return
		case response := <-c.responses:
			if err := c.publishCommandResponse(response); err != nil {
				c.logger.Printf("Failed to publish command response: %v", err)
			}
		case event := <-c.states:
			if err := c.publishState(event); err != nil {
				c.logger.Printf("Failed to publish state: %v", err)
			}
		}
	}
}

// publishCommandResponse публикует ответ в <command_topic>/<команда>/response
func (c *Client) publishCommandResponse(response CommandResponse) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal command response: %w", err)
	}

	command := response.Command
	if command == "" {
		command = "unknown"
	}
	topic := fmt.Sprintf("%s/%s/response", c.config.CommandTopic, command)
	if err := c.publish(topic, payload); err != nil {
		return err
	}

	c.logger.Printf("Published command response to %s: %s", topic, response.Status)
	return nil
}

func (c *Client) publishState(event common.StateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal state event: %w", err)
	}
	return c.publish(c.config.StateTopic, payload)
}

func (c *Client) publishMQTT(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.mqttClient.Publish(topic, c.config.QoS, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}
