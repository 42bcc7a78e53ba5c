package payment

import "errors"

var (
	ErrInvalidSignature    = errors.New("payment callback signature is invalid")
	ErrInitiationFailed    = errors.New("payment initiation failed")
	ErrMalformedPayload    = errors.New("payment callback payload is malformed")
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrCallbackUnsupported = errors.New("payment provider does not send callbacks")
)
