package payment

// State - этап жизненного цикла, сообщаемый хосту
type State string

const (
	StateConnecting         State = "CONNECTING"
	StateTransactionStarted State = "TRANSACTION_STARTED"
	StatePayFinish          State = "PAY_FINISH"
	StateAnyError           State = "ANY_ERROR"
	StateDisconnected       State = "DISCONNECTED"
	StateBluetoothDisabled  State = "BLUETOOTH_DISABLED"
	StateAuthError          State = "AUTH_ERROR"
)

var stateMessages = map[State]string{
	StateConnecting:         "Подготовка к подключению",
	StateTransactionStarted: "Начало транзакции",
	StatePayFinish:          "Успешный конец транзакции",
	StateAnyError:           "Произошла ошибка",
	StateDisconnected:       "Приостановлена работа с ридером",
	StateBluetoothDisabled:  "Ошибка при работе с Bluetooth",
	StateAuthError:          "Ошибка авторизации",
}

// Message возвращает текст этапа для показа пользователю
func (s State) Message() string {
	return stateMessages[s]
}

// Terminal сообщает, завершает ли этап операцию
func (s State) Terminal() bool {
	return s == StatePayFinish || s == StateAnyError
}

// StateListener получает этапы жизненного цикла. detail - дополнительное
// пояснение (адрес устройства, текст ошибки), может быть пустым.
type StateListener func(state State, detail string)
