package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybridge/auth"
	"paybridge/backend"
	"paybridge/bluetooth"
	"paybridge/terminal"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		code   int
		status int
	}{
		{name: "auth with status", err: &auth.Error{Status: 403, Err: errors.New("forbidden")}, kind: KindAuth, code: 403, status: 403},
		{name: "auth without status", err: &auth.Error{Err: auth.ErrNoCredentials}, kind: KindAuth, code: CodeAuth},
		{name: "logical", err: &backend.LogicalError{Code: 7, Message: "blocked"}, kind: KindBackend, code: 7, status: 200},
		{name: "status", err: fmt.Errorf("cash: %w", &backend.StatusError{StatusCode: 502}), kind: KindBackend, code: 502, status: 502},
		{name: "unavailable", err: backend.ErrUnavailable, kind: KindBackend, code: CodeUnavailable},
		{name: "permission", err: bluetooth.ErrPermission, kind: KindPermission, code: CodePermission},
		{name: "malformed", err: terminal.ErrMalformedFrame, kind: KindFraming, code: CodeFraming},
		{name: "oversized", err: terminal.ErrFrameTooLarge, kind: KindFraming, code: CodeFraming},
		{name: "invalid amount", err: terminal.ErrInvalidAmount, kind: KindInvalid, code: CodeInvalid},
		{name: "busy", err: ErrBusy, kind: KindBusy, code: CodeBusy},
		{name: "timeout", err: ErrTimeout, kind: KindTimeout, code: CodeTimeout},
		{name: "deadline", err: context.DeadlineExceeded, kind: KindTimeout, code: CodeTimeout},
		{name: "socket", err: bluetooth.ErrTransport, kind: KindTransport, code: CodeTransport},
		{name: "anything else", err: errors.New("boom"), kind: KindTransport, code: CodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.Status)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyKeepsNormalizedError(t *testing.T) {
	perr := &Error{Kind: KindBusy, Code: CodeBusy, Err: ErrBusy}
	assert.Same(t, perr, Classify(fmt.Errorf("wrapped: %w", perr)))
}

func TestErrorResult(t *testing.T) {
	result := Classify(&backend.StatusError{Endpoint: "transaction", StatusCode: 500}).Result()
	assert.Equal(t, Result{Success: false, Message: "transaction returned HTTP 500", Code: 500, Kind: KindBackend}, result)
}

func TestStateMessages(t *testing.T) {
	for _, s := range []State{
		StateConnecting, StateTransactionStarted, StatePayFinish, StateAnyError,
		StateDisconnected, StateBluetoothDisabled, StateAuthError,
	} {
		assert.NotEmpty(t, s.Message(), s)
	}
	assert.True(t, StatePayFinish.Terminal())
	assert.True(t, StateAnyError.Terminal())
	assert.False(t, StateTransactionStarted.Terminal())
}

func TestIdentityDefaults(t *testing.T) {
	def := DefaultIdentity()
	assert.NotEmpty(t, def.DeviceID)
	assert.NotEmpty(t, def.DeviceModel)
	assert.Equal(t, def.DeviceID, DefaultIdentity().DeviceID, "identity is stable between calls")

	custom := DeviceIdentity{DeviceID: "kiosk-7"}.WithDefaults()
	assert.Equal(t, "kiosk-7", custom.DeviceID)
	assert.Equal(t, def.DeviceModel, custom.DeviceModel)
	assert.NotEmpty(t, custom.AppBuild)
}

func TestReverseDefaultsToCancel(t *testing.T) {
	rev := ReverseOperation{Method: MethodCard}
	assert.Equal(t, ActionCancel, rev.action())
	require.NoError(t, rev.validate())

	bad := decimal.RequireFromString("-1")
	rev.Amount = &bad
	assert.ErrorIs(t, rev.validate(), ErrInvalidOperation)
}
