package api

// SubmitTaskRequest — запрос на постановку задачи.
type SubmitTaskRequest struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
}

// RegisterCorrelationRequest — запрос на регистрацию ожидания callback'а.
type RegisterCorrelationRequest struct {
	CorrelationKey string `json:"correlation_key"`
	InstanceID     string `json:"instance_id"`
	SignalName     string `json:"signal_name"`
}

// CallbackAck — подтверждение приёма webhook'а.
type CallbackAck struct {
	CallbackID     string `json:"callback_id"`
	CorrelationKey string `json:"correlation_key,omitempty"`
}
