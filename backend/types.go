package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ID - идентификатор, который бэкенд присылает то числом, то строкой
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// TerminalSlip - реквизиты операции из ответа терминала, пересылаемые в чек
type TerminalSlip struct {
	MID           string `json:"mid,omitempty"`
	PAN           string `json:"pan,omitempty"`
	Hash          string `json:"hash,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	TSN           string `json:"tsn,omitempty"`
	Time          string `json:"time,omitempty"`
	RRN           string `json:"rrn,omitempty"`
	HashAlgo      string `json:"hash_algo,omitempty"`
	IsOwn         string `json:"is_own,omitempty"`
	CardType      string `json:"card_type,omitempty"`
	Date          string `json:"date,omitempty"`
	TID           string `json:"tid,omitempty"`
	AmountClear   string `json:"amount_clear,omitempty"`
	EncryptedData string `json:"encrypted_data,omitempty"`
	HolderName    string `json:"holder_name,omitempty"`
	Flags         string `json:"flags,omitempty"`
	ExpDate       string `json:"exp_date,omitempty"`
	LLTID         string `json:"llt_id,omitempty"`
	AuthCode      string `json:"auth_code,omitempty"`
	Message       string `json:"message,omitempty"`
	PILOpType     string `json:"pil_op_type,omitempty"`
	Error         string `json:"error,omitempty"`
	CardID        string `json:"card_id,omitempty"`
}

// NewTerminalSlip собирает реквизиты из плоских полей ответа терминала
func NewTerminalSlip(fields map[string]string) TerminalSlip {
	return TerminalSlip{
		MID:           fields["MID"],
		PAN:           fields["PAN"],
		Hash:          fields["HASH"],
		RequestID:     fields["REQUEST_ID"],
		TSN:           fields["TSN"],
		Time:          fields["TIME"],
		RRN:           fields["RRN"],
		HashAlgo:      fields["HASH_ALGO"],
		IsOwn:         fields["IS_OWN"],
		CardType:      fields["CARD_NAME"],
		Date:          fields["DATE"],
		TID:           fields["TID"],
		AmountClear:   fields["AMOUNT_C"],
		EncryptedData: fields["ENCRYPTED_DATA"],
		HolderName:    fields["HOLDENAME"],
		Flags:         fields["FLAGS"],
		ExpDate:       fields["EXP_DATE"],
		LLTID:         fields["LLT_ID"],
		AuthCode:      fields["AUTH_CODE"],
		Message:       fields["MESSAGE"],
		PILOpType:     fields["PIL_OP_TYPE"],
		Error:         fields["ERROR"],
		CardID:        fields["CARD_ID"],
	}
}

// ReceiptRequest - чек карточной оплаты. Суммы в минимальных единицах.
type ReceiptRequest struct {
	Amount                 int64             `json:"amount"`
	Description            string            `json:"description,omitempty"`
	Currency               string            `json:"currency,omitempty"`
	SuppressSign           bool              `json:"suppress_sign,omitempty"`
	PaymentProductTextData map[string]string `json:"payment_product_text_data,omitempty"`
	PaymentProductCode     string            `json:"payment_product_code,omitempty"`
	ExtID                  string            `json:"ext_id,omitempty"`
	Method                 string            `json:"method,omitempty"`
	AcquirerCode           string            `json:"acquirer_code,omitempty"`
	TerminalSlip
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
}

// ReversalRequest - отмена или возврат карточной оплаты
type ReversalRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        *int64 `json:"amount,omitempty"` // nil - отмена на всю сумму
	Currency      string `json:"currency,omitempty"`
	Action        string `json:"action,omitempty"`
	SuppressSign  bool   `json:"suppress_sign,omitempty"`
	ExtID         string `json:"ext_id,omitempty"`
	AcquirerCode  string `json:"acquirer_code,omitempty"`
	TerminalSlip
	Login    string `json:"login,omitempty"`
	Password string `json:"password,omitempty"`
}

// CashRequest - оплата наличными, терминал не участвует
type CashRequest struct {
	Amount                 int64             `json:"amount"`
	Description            string            `json:"description,omitempty"`
	Currency               string            `json:"currency,omitempty"`
	PaymentProductTextData map[string]string `json:"payment_product_text_data,omitempty"`
	PaymentProductCode     string            `json:"payment_product_code,omitempty"`
	ExtID                  string            `json:"ext_id,omitempty"`
	Login                  string            `json:"login,omitempty"`
	Password               string            `json:"password,omitempty"`
	DeviceID               string            `json:"device_id,omitempty"`
}

type CashReversalRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        *int64 `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Action        string `json:"action,omitempty"`
	ExtID         string `json:"ext_id,omitempty"`
	Login         string `json:"login,omitempty"`
	Password      string `json:"password,omitempty"`
}

type GiftAuthorizeRequest struct {
	LoyaltyNumber          string            `json:"loyalty_number"`
	TID                    string            `json:"tid"`
	Login                  string            `json:"login"`
	Amount                 int64             `json:"amount"`
	PaymentProductTextData map[string]string `json:"payment_product_text_data,omitempty"`
}

type GiftCancelRequest struct {
	LoyaltyNumber string `json:"loyalty_number"`
	TID           string `json:"tid"`
	Login         string `json:"login"`
	TransactionID string `json:"transaction_id"`
}

type GiftBalanceRequest struct {
	LoyaltyNumber string `json:"loyalty_number"`
	TID           string `json:"tid"`
	Login         string `json:"login"`
}

// TransactionResponse - ответ на запись чека или наличной оплаты
type TransactionResponse struct {
	TransactionID ID `json:"transaction_id"`
}

// GiftResponse - ответ операций с подарочными картами
type GiftResponse struct {
	Amount        int64   `json:"amount"`
	Balance       int64   `json:"balance"`
	ErrorCode     ID      `json:"error_code"`
	ErrorMessage  *string `json:"error_message"`
	TransactionID ID      `json:"transaction_id"`
}

// logical возвращает LogicalError, если бэкенд вернул ошибку в теле успешного ответа
func (r GiftResponse) logical() *LogicalError {
	if r.ErrorMessage == nil || *r.ErrorMessage == "" {
		return nil
	}
	code, _ := strconv.Atoi(r.ErrorCode.String())
	return &LogicalError{Code: code, Message: *r.ErrorMessage}
}
