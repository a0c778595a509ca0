package common

import (
	"encoding/json"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CommandMessage представляет входящую команду хоста
type CommandMessage struct {
	Command       string          `json:"command,omitempty"` // Имя операции, если не задано - берётся из топика
	CorrelationID string          `json:"correlation_id"`    // ID для сопоставления запроса и ответа
	Payload       json.RawMessage `json:"payload,omitempty"` // Параметры операции
}

// CommandResponse представляет ответ на команду
type CommandResponse struct {
	CorrelationID string    `json:"correlation_id"`
	Command       string    `json:"command"`
	Status        string    `json:"status"`          // "success", "error"
	Result        any       `json:"result"`          // Результат операции
	Error         string    `json:"error,omitempty"` // Описание ошибки если статус "error"
	Timestamp     time.Time `json:"timestamp"`
}

// StateEvent - этап жизненного цикла операции для хоста
type StateEvent struct {
	State     string    `json:"state"`
	Message   string    `json:"message"`          // Текст для показа пользователю
	Detail    string    `json:"detail,omitempty"` // Адрес устройства или текст ошибки
	Timestamp time.Time `json:"timestamp"`
}
