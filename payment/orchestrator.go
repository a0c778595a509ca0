package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paybridge/auth"
	"paybridge/backend"
	"paybridge/bluetooth"
	"paybridge/metrics"
	"paybridge/terminal"
)

var logger = log.New(os.Stdout, "[Payment] ", log.LstdFlags|log.Lshortfile)

// Transport - соединение с терминалом
type Transport interface {
	Connect(ctx context.Context, address string) error
	Send(p []byte) error
	Disable() error
	IsActive() bool
	SetFrameListener(listener bluetooth.FrameListener)
}

// Tokens - кэш токена бэкенда
type Tokens interface {
	SetCredentials(login, password string)
	Credentials() auth.Credentials
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Backend - операции бэкенда транзакций
type Backend interface {
	SendReceipt(ctx context.Context, token string, req backend.ReceiptRequest) (backend.TransactionResponse, error)
	ReverseCard(ctx context.Context, token string, req backend.ReversalRequest) error
	Cash(ctx context.Context, token string, req backend.CashRequest) (backend.TransactionResponse, error)
	ReverseCash(ctx context.Context, token string, req backend.CashReversalRequest) error
	GiftAuthorize(ctx context.Context, token string, req backend.GiftAuthorizeRequest) (backend.GiftResponse, error)
	GiftCancel(ctx context.Context, token string, req backend.GiftCancelRequest) (backend.GiftResponse, error)
	GiftBalance(ctx context.Context, token string, req backend.GiftBalanceRequest) (backend.GiftResponse, error)
}

// Config представляет настройки оркестратора
type Config struct {
	ResultTimeout time.Duration `mapstructure:"result_timeout"` // Ожидание результата от терминала
	Currency      string        `mapstructure:"currency"`       // Валюта по умолчанию
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		ResultTimeout: 120 * time.Second,
		Currency:      "RUB",
	}
}

// Options - зависимости оркестратора
type Options struct {
	Config      Config
	Transport   Transport
	Codec       *terminal.Codec
	Tokens      Tokens
	Backend     Backend
	Identity    DeviceIdentity
	Discoverer  bluetooth.Discoverer
	DeviceNames []string
	Metrics     *metrics.Metrics
}

// Orchestrator проводит операции через терминал и бэкенд. Одновременно
// с терминалом работает не больше одной операции, вторая получает KindBusy.
type Orchestrator struct {
	config      Config
	transport   Transport
	codec       *terminal.Codec
	tokens      Tokens
	backend     Backend
	identity    DeviceIdentity
	discoverer  bluetooth.Discoverer
	deviceNames []string
	metrics     *metrics.Metrics

	mu      sync.Mutex
	pending *task // операция, ожидающая ответа терминала

	stateMu       sync.RWMutex
	stateListener StateListener
}

// task - одна операция от вызова до передачи результата
type task struct {
	id      string
	name    string
	method  Method
	states  bool // сообщать TRANSACTION_STARTED и итоговый этап
	handler Handler

	replies  chan terminal.Reply
	failures chan error
	awaiting bool // команда отправлена, кадры принимаются; защищено o.mu
	once     sync.Once
}

// session - учётные данные, с которыми выполняется операция
type session struct {
	token       string
	credentials auth.Credentials
}

// NewOrchestrator создаёт оркестратор и подписывается на кадры транспорта
func NewOrchestrator(opts Options) *Orchestrator {
	config := opts.Config
	defaults := DefaultConfig()
	if config.ResultTimeout <= 0 {
		config.ResultTimeout = defaults.ResultTimeout
	}
	if config.Currency == "" {
		config.Currency = defaults.Currency
	}
	codec := opts.Codec
	if codec == nil {
		codec = terminal.NewCodec(terminal.ProtocolStructured)
	}

	o := &Orchestrator{
		config:      config,
		transport:   opts.Transport,
		codec:       codec,
		tokens:      opts.Tokens,
		backend:     opts.Backend,
		identity:    opts.Identity.WithDefaults(),
		discoverer:  opts.Discoverer,
		deviceNames: opts.DeviceNames,
		metrics:     opts.Metrics,
	}
	o.transport.SetFrameListener(o.onFrame)
	return o
}

// SetStateListener заменяет получателя этапов жизненного цикла. nil отключает уведомления.
func (o *Orchestrator) SetStateListener(listener StateListener) {
	o.stateMu.Lock()
	o.stateListener = listener
	o.stateMu.Unlock()
}

// SetCredentials задаёт логин и пароль для последующих операций
func (o *Orchestrator) SetCredentials(login, password string) {
	o.tokens.SetCredentials(login, password)
}

// Connect подключается к терминалу по адресу
func (o *Orchestrator) Connect(ctx context.Context, address string) error {
	o.emit(StateConnecting, address)
	if err := o.transport.Connect(ctx, address); err != nil {
		perr := Classify(err)
		if errors.Is(err, bluetooth.ErrAdapterDisabled) {
			o.emit(StateBluetoothDisabled, err.Error())
		} else {
			o.emit(StateAnyError, err.Error())
		}
		return perr
	}
	return nil
}

// Enable ищет терминал среди доступных устройств и подключается к первому подходящему
func (o *Orchestrator) Enable(ctx context.Context) (bluetooth.Device, error) {
	if o.discoverer == nil {
		return bluetooth.Device{}, Classify(fmt.Errorf("%w: device discovery is not configured", ErrNoDevice))
	}
	devices, err := o.discoverer.Discover(ctx)
	if err != nil {
		o.emit(StateAnyError, err.Error())
		return bluetooth.Device{}, Classify(err)
	}
	matches := bluetooth.FilterByName(devices, o.deviceNames)
	if len(matches) == 0 {
		err := fmt.Errorf("%w among %d devices, expected names %v", ErrNoDevice, len(devices), o.deviceNames)
		o.emit(StateAnyError, err.Error())
		return bluetooth.Device{}, Classify(err)
	}
	device := matches[0]
	logger.Printf("Selected terminal %q at %s", device.Name, device.Address)
	if err := o.Connect(ctx, device.Address); err != nil {
		return device, err
	}
	return device, nil
}

// Disable закрывает соединение. Операция, ожидающая терминал, завершается ошибкой.
func (o *Orchestrator) Disable() error {
	err := o.transport.Disable()

	o.mu.Lock()
	t := o.pending
	o.mu.Unlock()
	if t != nil {
		t.fail(ErrDisabled)
	}

	o.emit(StateDisconnected, "")
	return err
}

// StartPayment проводит платёж. Результат передаётся handler ровно один раз,
// даже если операция отклонена до начала.
func (o *Orchestrator) StartPayment(ctx context.Context, op Operation, handler Handler) {
	t := o.newTask("payment", op.Method, true, handler)
	if err := op.validate(); err != nil {
		o.reject(t, err)
		return
	}
	if op.Currency == "" {
		op.Currency = o.config.Currency
	}

	switch op.Method {
	case MethodCard:
		if err := o.acquire(t); err != nil {
			o.reject(t, err)
			return
		}
		go func() {
			s, ok := o.authorize(ctx, t)
			if !ok {
				return
			}
			o.exchange(ctx, t, o.cardPaymentEnvelope(op, s), func(reply terminal.Reply) Result {
				return o.cardPaymentResult(ctx, op, s, reply)
			})
		}()
	case MethodCash:
		go o.backendTask(ctx, t, func(s session) Result { return o.cashPayment(ctx, op, s) })
	case MethodLinkedCard:
		go o.backendTask(ctx, t, func(s session) Result { return o.giftPayment(ctx, op, s) })
	}
}

// CancelPayment проводит отмену или возврат
func (o *Orchestrator) CancelPayment(ctx context.Context, rev ReverseOperation, handler Handler) {
	t := o.newTask("reversal", rev.Method, true, handler)
	if err := rev.validate(); err != nil {
		o.reject(t, err)
		return
	}
	if rev.Currency == "" {
		rev.Currency = o.config.Currency
	}
	rev.Action = rev.action()

	switch rev.Method {
	case MethodCard:
		if err := o.acquire(t); err != nil {
			o.reject(t, err)
			return
		}
		go func() {
			s, ok := o.authorize(ctx, t)
			if !ok {
				return
			}
			o.exchange(ctx, t, o.cardReverseEnvelope(rev, s), func(reply terminal.Reply) Result {
				return o.cardReverseResult(ctx, rev, s, reply)
			})
		}()
	case MethodCash:
		go o.backendTask(ctx, t, func(s session) Result { return o.cashReverse(ctx, rev, s) })
	case MethodLinkedCard:
		go o.backendTask(ctx, t, func(s session) Result { return o.giftCancel(ctx, rev, s) })
	}
}

// BalanceInquiry читает карту терминалом и запрашивает её баланс у бэкенда.
// Для чтения карты терминалу отправляется START_PAYMENT с суммой "1".
func (o *Orchestrator) BalanceInquiry(ctx context.Context, handler Handler) {
	t := o.newTask("balance", MethodLinkedCard, true, handler)
	if err := o.acquire(t); err != nil {
		o.reject(t, err)
		return
	}
	go func() {
		s, ok := o.authorize(ctx, t)
		if !ok {
			return
		}
		amount := o.probeAmount()
		env := terminal.Envelope{Command: terminal.StartPayment, Amount: &amount}
		o.exchange(ctx, t, env, func(reply terminal.Reply) Result {
			return o.balanceResult(ctx, s, reply)
		})
	}()
}

// Reconciliation запускает сверку итогов
func (o *Orchestrator) Reconciliation(ctx context.Context, handler Handler) {
	o.service(ctx, "reconciliation", false, terminal.Envelope{Command: terminal.StartReconciliation}, handler)
}

// ServiceMenu открывает сервисное меню терминала
func (o *Orchestrator) ServiceMenu(ctx context.Context, handler Handler) {
	o.service(ctx, "service_menu", false, terminal.Envelope{Command: terminal.StartServiceMenu}, handler)
}

// AddTestConfiguration загружает на терминал тестовую конфигурацию
func (o *Orchestrator) AddTestConfiguration(ctx context.Context, handler Handler) {
	o.service(ctx, "test_configuration", false, terminal.Envelope{Command: terminal.AddTestConfiguration}, handler)
}

// SetDefaultTerminal включает или выключает режим терминала по умолчанию
func (o *Orchestrator) SetDefaultTerminal(ctx context.Context, enabled bool, handler Handler) {
	env := terminal.Envelope{Command: terminal.SetDefaultTerminal, IsDefaultTerminal: &enabled}
	o.service(ctx, "default_terminal", false, env, handler)
}

// Cashout - выдача наличных с карты
func (o *Orchestrator) Cashout(ctx context.Context, cashBack decimal.Decimal, data string, handler Handler) {
	env := terminal.Envelope{Command: terminal.Cashout, CashBack: &cashBack, Data: data}
	o.service(ctx, "cashout", true, env, handler)
}

// PurchaseWithCashback - оплата с выдачей наличных
func (o *Orchestrator) PurchaseWithCashback(ctx context.Context, amount, cashBack decimal.Decimal, data string, handler Handler) {
	env := terminal.Envelope{Command: terminal.PurchaseWithCashback, Amount: &amount, CashBack: &cashBack, Data: data}
	o.service(ctx, "purchase_with_cashback", true, env, handler)
}

func (o *Orchestrator) service(ctx context.Context, name string, states bool, env terminal.Envelope, handler Handler) {
	t := o.newTask(name, "", states, handler)
	if err := o.acquire(t); err != nil {
		o.reject(t, err)
		return
	}
	go o.exchange(ctx, t, env, func(reply terminal.Reply) Result {
		return Result{
			Success: reply.Success,
			Message: reply.Message,
			Code:    reply.Code,
			Data:    ServiceResult{Command: env.Command, Fields: reply.Fields, Data: reply.Data},
		}
	})
}

func (o *Orchestrator) newTask(name string, method Method, states bool, handler Handler) *task {
	if handler == nil {
		handler = func(Result) {}
	}
	return &task{
		id:       uuid.NewString(),
		name:     name,
		method:   method,
		states:   states,
		handler:  handler,
		replies:  make(chan terminal.Reply, 1),
		failures: make(chan error, 1),
	}
}

// acquire занимает терминал под операцию
func (o *Orchestrator) acquire(t *task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		return fmt.Errorf("%w: %s %s is waiting for the terminal", ErrBusy, o.pending.name, o.pending.id)
	}
	o.pending = t
	return nil
}

func (o *Orchestrator) release(t *task) {
	o.mu.Lock()
	if o.pending == t {
		o.pending = nil
	}
	o.mu.Unlock()
}

func (t *task) fail(err error) {
	select {
	case t.failures <- err:
	default:
	}
}

// onFrame получает кадры и ошибки транспорта. Вызывается из цикла чтения и не блокируется.
func (o *Orchestrator) onFrame(frame []byte, err error) {
	o.mu.Lock()
	t := o.pending
	awaiting := t != nil && t.awaiting
	o.mu.Unlock()

	if t == nil {
		if err != nil {
			logger.Printf("Terminal error with no operation in flight: %v", err)
		} else {
			logger.Printf("Dropping unsolicited %d byte frame", len(frame))
		}
		return
	}

	if err != nil {
		t.fail(err)
		return
	}
	if !awaiting {
		logger.Printf("Operation %s has not sent its command yet, dropping %d byte frame", t.id, len(frame))
		return
	}

	select {
	case t.replies <- o.codec.Decode(frame):
	default:
		logger.Printf("Operation %s already has a reply, dropping %d byte frame", t.id, len(frame))
	}
}

// authorize получает токен. При ошибке операция завершается с AUTH_ERROR.
func (o *Orchestrator) authorize(ctx context.Context, t *task) (session, bool) {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		var authErr *auth.Error
		if !errors.As(err, &authErr) {
			err = &auth.Error{Err: err}
		}
		o.complete(t, failure(err), StateAuthError)
		return session{}, false
	}
	return session{token: token, credentials: o.tokens.Credentials()}, true
}

// backendTask выполняет операцию, для которой терминал не нужен
func (o *Orchestrator) backendTask(ctx context.Context, t *task, run func(session) Result) {
	s, ok := o.authorize(ctx, t)
	if !ok {
		return
	}
	o.emit(StateTransactionStarted, string(t.method))
	o.finish(t, run(s))
}

// exchange отправляет команду и ждёт ответа терминала, ошибки транспорта,
// таймаута или отмены ctx. Терминал освобождается до обработки ответа.
func (o *Orchestrator) exchange(ctx context.Context, t *task, env terminal.Envelope, onReply func(terminal.Reply) Result) {
	if t.states {
		o.emit(StateTransactionStarted, string(env.Command))
	}

	frame, err := o.codec.Encode(env)
	if err != nil {
		o.finish(t, failure(err))
		return
	}

	o.mu.Lock()
	select {
	case <-t.replies:
	default:
	}
	t.awaiting = true
	o.mu.Unlock()

	if err := o.transport.Send(frame); err != nil {
		logger.Printf("Operation %s: sending %s failed: %v", t.id, env.Command, err)
		o.finish(t, failure(err))
		return
	}
	logger.Printf("Operation %s: %s sent, waiting up to %s for the terminal", t.id, env.Command, o.config.ResultTimeout)

	timer := time.NewTimer(o.config.ResultTimeout)
	defer timer.Stop()

	select {
	case reply := <-t.replies:
		o.release(t)
		if reply.Err != nil {
			o.finish(t, failure(reply.Err))
			return
		}
		o.finish(t, onReply(reply))
	case err := <-t.failures:
		o.finish(t, failure(err))
	case <-timer.C:
		o.finish(t, failure(fmt.Errorf("%w: no result after %s", ErrTimeout, o.config.ResultTimeout)))
	case <-ctx.Done():
		o.finish(t, failure(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())))
	}
}

// finish завершает операцию итоговым этапом PAY_FINISH или ANY_ERROR
func (o *Orchestrator) finish(t *task, result Result) {
	var state State
	if t.states {
		state = StateAnyError
		if result.Success {
			state = StatePayFinish
		}
	}
	o.complete(t, result, state)
}

// complete передаёт результат ровно один раз и освобождает терминал
func (o *Orchestrator) complete(t *task, result Result, state State) {
	t.once.Do(func() {
		o.release(t)

		outcome := "success"
		if !result.Success {
			outcome = string(result.Kind)
			if outcome == "" {
				outcome = "declined"
			}
		}
		method := string(t.method)
		if method == "" {
			method = "none"
		}
		o.metrics.Operation(t.name, method, outcome)

		if result.Success {
			logger.Printf("Operation %s (%s %s) finished", t.id, t.name, method)
		} else {
			logger.Printf("Operation %s (%s %s) failed: code %d: %s", t.id, t.name, method, result.Code, result.Message)
		}

		if state != "" {
			o.emit(state, result.Message)
		}
		t.handler(result)
	})
}

// reject отклоняет операцию до начала: без этапов, результат асинхронно
func (o *Orchestrator) reject(t *task, err error) {
	go o.complete(t, failure(err), "")
}

func (o *Orchestrator) emit(state State, detail string) {
	o.stateMu.RLock()
	listener := o.stateListener
	o.stateMu.RUnlock()
	if listener != nil {
		listener(state, detail)
	}
}

// backendFailure сбрасывает токен после 401, чтобы следующая операция авторизовалась заново
func (o *Orchestrator) backendFailure(err error) Result {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		o.tokens.Invalidate()
	}
	return failure(err)
}

func (o *Orchestrator) cardPaymentEnvelope(op Operation, s session) terminal.Envelope {
	amount := op.Amount
	if o.codec.Protocol() == terminal.ProtocolLegacy {
		return terminal.Envelope{Command: terminal.StartPayment, Amount: &amount, Data: op.Data}
	}
	return terminal.Envelope{
		Command: terminal.StartCardPayment,
		Amount:  &amount,
		Data:    op.Data,
		Token:   s.token,
		Device:  o.identity.info(),
	}
}

func (o *Orchestrator) cardPaymentResult(ctx context.Context, op Operation, s session, reply terminal.Reply) Result {
	data := o.cardData(reply, op.Amount)
	if !reply.Success {
		return declined(reply, data)
	}
	if o.codec.Protocol() != terminal.ProtocolLegacy {
		return Result{Success: true, Message: reply.Message, Code: reply.Code, Data: data}
	}

	minor, err := terminal.ToMinorUnits(data.Amount)
	if err != nil {
		return failure(err)
	}
	req := backend.ReceiptRequest{
		Amount:                 minor,
		Description:            op.Description,
		Currency:               op.Currency,
		SuppressSign:           op.SuppressSignatureWaiting,
		PaymentProductTextData: op.PaymentProductTextData,
		PaymentProductCode:     op.PaymentProductCode,
		ExtID:                  op.ExtID,
		Method:                 string(op.Method),
		AcquirerCode:           op.AcquirerCode,
		TerminalSlip:           backend.NewTerminalSlip(reply.Fields),
		Login:                  s.credentials.Login,
		Password:               s.credentials.Password,
	}
	resp, err := o.backend.SendReceipt(ctx, s.token, req)
	if err != nil {
		return o.backendFailure(err)
	}
	data.TransactionID = resp.TransactionID.String()
	return Result{Success: true, Message: reply.Message, Code: reply.Code, Data: data}
}

// cardData собирает данные операции из ответа, суммы переводятся в основные единицы
func (o *Orchestrator) cardData(reply terminal.Reply, fallback decimal.Decimal) CardPaymentData {
	data := CardPaymentData{
		TransactionID: reply.Field("transactionId", "transaction_id"),
		TID:           reply.Field("TID", "tid"),
		CardNumber:    reply.Field("PAN", "cardNumber", "pan"),
		RRN:           reply.Field("RRN", "rrn"),
		AuthCode:      reply.Field("AUTH_CODE", "authCode"),
		Amount:        fallback,
	}
	if raw := reply.Field("AMOUNT", "amount"); raw != "" {
		amount, err := o.codec.ParseAmount(raw)
		if err != nil {
			logger.Printf("Ignoring terminal amount %q: %v", raw, err)
		} else {
			data.Amount = amount
		}
	}
	return data
}

// declined - отказ, о котором сообщил терминал; код и текст передаются как есть
func declined(reply terminal.Reply, data any) Result {
	result := Result{Success: false, Message: reply.Message, Code: reply.Code}
	if len(reply.Data) > 0 {
		result.Data = data
	}
	return result
}

func (o *Orchestrator) cashPayment(ctx context.Context, op Operation, s session) Result {
	minor, err := terminal.ToMinorUnits(op.Amount)
	if err != nil {
		return failure(err)
	}
	resp, err := o.backend.Cash(ctx, s.token, backend.CashRequest{
		Amount:                 minor,
		Description:            op.Description,
		Currency:               op.Currency,
		PaymentProductTextData: op.PaymentProductTextData,
		PaymentProductCode:     op.PaymentProductCode,
		ExtID:                  op.ExtID,
		Login:                  s.credentials.Login,
		Password:               s.credentials.Password,
		DeviceID:               o.identity.DeviceID,
	})
	if err != nil {
		return o.backendFailure(err)
	}
	return Result{Success: true, Data: CashResult{TransactionID: resp.TransactionID.String(), Amount: op.Amount}}
}

func (o *Orchestrator) giftPayment(ctx context.Context, op Operation, s session) Result {
	minor, err := terminal.ToMinorUnits(op.Amount)
	if err != nil {
		return failure(err)
	}
	resp, err := o.backend.GiftAuthorize(ctx, s.token, backend.GiftAuthorizeRequest{
		LoyaltyNumber:          op.LoyaltyNumber,
		TID:                    op.TID,
		Login:                  s.credentials.Login,
		Amount:                 minor,
		PaymentProductTextData: op.PaymentProductTextData,
	})
	if err != nil {
		return o.backendFailure(err)
	}
	amount := op.Amount
	if resp.Amount > 0 {
		amount = terminal.FromMinorUnits(resp.Amount)
	}
	return Result{Success: true, Data: GiftResult{
		TransactionID: resp.TransactionID.String(),
		TID:           op.TID,
		LoyaltyNumber: op.LoyaltyNumber,
		Amount:        amount,
	}}
}

func (o *Orchestrator) cardReverseEnvelope(rev ReverseOperation, s session) terminal.Envelope {
	if o.codec.Protocol() == terminal.ProtocolLegacy {
		command := terminal.StartReversal
		if rev.Action == ActionReturn {
			command = terminal.StartRefund
		}
		return terminal.Envelope{Command: command, Amount: rev.Amount, Data: rev.Data}
	}

	data := rev.Data
	if data == "" && rev.TransactionID != "" {
		raw, _ := json.Marshal(map[string]string{"transactionId": rev.TransactionID, "action": string(rev.Action)})
		data = string(raw)
	}
	return terminal.Envelope{
		Command: terminal.StartCardRefund,
		Amount:  rev.Amount,
		Data:    data,
		Token:   s.token,
		Device:  o.identity.info(),
	}
}

func (o *Orchestrator) cardReverseResult(ctx context.Context, rev ReverseOperation, s session, reply terminal.Reply) Result {
	data := ReverseResult{TransactionID: rev.TransactionID, Action: rev.Action, Amount: rev.Amount}
	if data.TransactionID == "" {
		data.TransactionID = reply.Field("transactionId", "transaction_id")
	}
	if raw := reply.Field("AMOUNT", "amount"); raw != "" {
		if amount, err := o.codec.ParseAmount(raw); err == nil {
			data.Amount = &amount
		}
	}
	if !reply.Success {
		return declined(reply, data)
	}
	if o.codec.Protocol() != terminal.ProtocolLegacy {
		return Result{Success: true, Message: reply.Message, Code: reply.Code, Data: data}
	}

	minor, err := minorPtr(data.Amount)
	if err != nil {
		return failure(err)
	}
	err = o.backend.ReverseCard(ctx, s.token, backend.ReversalRequest{
		TransactionID: rev.TransactionID,
		Amount:        minor,
		Currency:      rev.Currency,
		Action:        string(rev.Action),
		SuppressSign:  rev.SuppressSignatureWaiting,
		ExtID:         rev.ExtID,
		AcquirerCode:  rev.AcquirerCode,
		TerminalSlip:  backend.NewTerminalSlip(reply.Fields),
		Login:         s.credentials.Login,
		Password:      s.credentials.Password,
	})
	if err != nil {
		return o.backendFailure(err)
	}
	return Result{Success: true, Message: reply.Message, Code: reply.Code, Data: data}
}

func (o *Orchestrator) cashReverse(ctx context.Context, rev ReverseOperation, s session) Result {
	minor, err := minorPtr(rev.Amount)
	if err != nil {
		return failure(err)
	}
	err = o.backend.ReverseCash(ctx, s.token, backend.CashReversalRequest{
		TransactionID: rev.TransactionID,
		Amount:        minor,
		Currency:      rev.Currency,
		Action:        string(rev.Action),
		ExtID:         rev.ExtID,
		Login:         s.credentials.Login,
		Password:      s.credentials.Password,
	})
	if err != nil {
		return o.backendFailure(err)
	}
	return Result{Success: true, Data: ReverseResult{TransactionID: rev.TransactionID, Action: rev.Action, Amount: rev.Amount}}
}

func (o *Orchestrator) giftCancel(ctx context.Context, rev ReverseOperation, s session) Result {
	_, err := o.backend.GiftCancel(ctx, s.token, backend.GiftCancelRequest{
		LoyaltyNumber: rev.LoyaltyNumber,
		TID:           rev.TID,
		Login:         s.credentials.Login,
		TransactionID: rev.TransactionID,
	})
	if err != nil {
		return o.backendFailure(err)
	}
	return Result{Success: true, Data: ReverseResult{TransactionID: rev.TransactionID, Action: rev.Action, Amount: rev.Amount}}
}

func (o *Orchestrator) balanceResult(ctx context.Context, s session, reply terminal.Reply) Result {
	if !reply.Success {
		return declined(reply, nil)
	}
	loyalty := reply.Field("LOYALTY_NUMBER", "loyaltyNumber", "loyalty_number")
	tid := reply.Field("TID", "tid")
	if loyalty == "" {
		return failure(fmt.Errorf("%w: reply carries no loyalty number", terminal.ErrMalformedFrame))
	}

	resp, err := o.backend.GiftBalance(ctx, s.token, backend.GiftBalanceRequest{
		LoyaltyNumber: loyalty,
		TID:           tid,
		Login:         s.credentials.Login,
	})
	if err != nil {
		return o.backendFailure(err)
	}
	return Result{Success: true, Data: BalanceResult{
		LoyaltyNumber: loyalty,
		TID:           tid,
		Balance:       terminal.FromMinorUnits(resp.Balance),
	}}
}

// probeAmount - сумма, которая уходит на терминал строкой "1" в любом протоколе
func (o *Orchestrator) probeAmount() decimal.Decimal {
	if o.codec.Protocol() == terminal.ProtocolLegacy {
		return decimal.NewFromInt(1)
	}
	return terminal.FromMinorUnits(1)
}

func minorPtr(amount *decimal.Decimal) (*int64, error) {
	if amount == nil {
		return nil, nil
	}
	minor, err := terminal.ToMinorUnits(*amount)
	if err != nil {
		return nil, err
	}
	return &minor, nil
}
