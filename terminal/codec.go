package terminal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Protocol определяет контракт обмена с терминалом. Выбирается один на инсталляцию.
type Protocol string

const (
	// ProtocolStructured: суммы в минимальных единицах, ответы вида {success, message, code, data}
	ProtocolStructured Protocol = "structured"
	// ProtocolLegacy: суммы десятичными строками, ответы плоскими полями ERROR/MESSAGE/AMOUNT/...
	ProtocolLegacy Protocol = "legacy"
)

// ParseProtocol разбирает значение из конфигурации
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case ProtocolStructured, "":
		return ProtocolStructured, nil
	case ProtocolLegacy:
		return ProtocolLegacy, nil
	}
	return "", fmt.Errorf("unknown terminal protocol %q", s)
}

// Reply - декодированный ответ терминала
type Reply struct {
	Success bool
	Message string
	Code    int
	Data    json.RawMessage   // для structured-протокола
	Fields  map[string]string // для legacy-протокола
	Err     error             // ошибка разбора кадра, если была
}

// Field возвращает первое непустое значение среди ключей: сначала из плоских полей,
// затем из верхнего уровня объекта data.
func (r Reply) Field(keys ...string) string {
	for _, key := range keys {
		if v := r.Fields[key]; v != "" {
			return v
		}
	}
	if len(r.Data) == 0 {
		return ""
	}
	fields, err := flatten(r.Data)
	if err != nil {
		return ""
	}
	for _, key := range keys {
		if v := fields[key]; v != "" {
			return v
		}
	}
	return ""
}

// Codec кодирует команды и декодирует ответы в рамках выбранного протокола.
// Это единственное место, где выполняется пересчёт ×100/÷100.
type Codec struct {
	protocol Protocol
}

// NewCodec создаёт кодек для протокола
func NewCodec(protocol Protocol) *Codec {
	if protocol == "" {
		protocol = ProtocolStructured
	}
	return &Codec{protocol: protocol}
}

// Protocol возвращает протокол кодека
func (c *Codec) Protocol() Protocol {
	return c.protocol
}

// FormatAmount превращает сумму в основных единицах в строку для терминала
func (c *Codec) FormatAmount(amount decimal.Decimal) (string, error) {
	minor, err := ToMinorUnits(amount)
	if err != nil {
		return "", err
	}
	if c.protocol == ProtocolLegacy {
		return formatPlain(amount), nil
	}
	return strconv.FormatInt(minor, 10), nil
}

// ParseAmount превращает сумму из ответа терминала в основные единицы
func (c *Codec) ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if c.protocol == ProtocolLegacy {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return d, nil
	}
	minor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromMinorUnits(minor), nil
}

// Decode разбирает завершённый кадр. Ошибка разбора не поднимается наверх,
// а превращается в неуспешный ответ с текстом ошибки в Message.
func (c *Codec) Decode(frame []byte) Reply {
	var (
		reply Reply
		err   error
	)
	if c.protocol == ProtocolLegacy {
		reply, err = decodeLegacy(frame)
	} else {
		reply, err = decodeStructured(frame)
	}
	if err != nil {
		return Reply{Success: false, Message: err.Error(), Err: err}
	}
	return reply
}

func decodeStructured(frame []byte) (Reply, error) {
	var wire struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
		Data    json.RawMessage `json:"data"`
	}
	if trimmed := bytes.TrimSpace(frame); len(trimmed) == 0 || trimmed[0] != '{' {
		return Reply{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	code, err := flexInt(wire.Code)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: code: %v", ErrMalformedFrame, err)
	}
	reply := Reply{
		Success: wire.Success,
		Message: wire.Message,
		Code:    code,
	}
	if len(wire.Data) > 0 && !bytes.Equal(wire.Data, []byte("null")) {
		reply.Data = wire.Data
	}
	return reply, nil
}

func decodeLegacy(frame []byte) (Reply, error) {
	fields, err := flatten(frame)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{
		Fields:  fields,
		Message: fields["MESSAGE"],
	}
	status, ok := fields["ERROR"]
	if !ok {
		return Reply{}, fmt.Errorf("%w: missing ERROR field", ErrMalformedFrame)
	}
	reply.Success = status == "0"
	if code, err := strconv.Atoi(status); err == nil {
		reply.Code = code
	} else if !reply.Success {
		reply.Code = -1
	}
	return reply, nil
}

// flatten превращает JSON-объект в карту строк; вложенные значения сохраняются как JSON
func flatten(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		default:
			nested, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
			}
			fields[k] = string(nested)
		}
	}
	return fields, nil
}

// flexInt принимает код ответа как число, строку с числом или его отсутствие
func flexInt(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	var n json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		n = json.Number(s)
	} else {
		n = json.Number(raw)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, errors.New("not an integer: " + string(raw))
	}
	return int(v), nil
}
