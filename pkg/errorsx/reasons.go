package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonFrameLoad ReasonCode = "frame_load"

	ReasonVisionAnalyze     ReasonCode = "vision_analyze"
	ReasonVisionDecode      ReasonCode = "vision_decode"
	ReasonVisionRateLimit   ReasonCode = "vision_rate_limit"
	ReasonVisionCircuitOpen ReasonCode = "vision_circuit_open"
	ReasonSummaryGenerate   ReasonCode = "summary_generate"

	ReasonTTSRender    ReasonCode = "tts_render"
	ReasonTTSRateLimit ReasonCode = "tts_rate_limit"

	ReasonTransportConnect ReasonCode = "transport_connect"
	ReasonTransportSend    ReasonCode = "transport_send"

	ReasonCommandResolve ReasonCode = "command_resolve"
)
