package events

// Type identifies a transport event.
type Type string

const (
	TypeSessionStarted Type = "session-started"
	TypeFrameNew       Type = "frame-new"
	TypeSessionEnded   Type = "session-ended"
	TypeDisconnected   Type = "disconnected"
	TypeAIResponse     Type = "ai-response"
	TypeStartGameAck   Type = "start-game-ack"
)

// Event is the currency exchanged with a Transport. Inbound events originate
// from the game backend; outbound events are emitted by the engine.
type Event interface {
	Type() Type
}

// FrameSource references one camera frame. Exactly one of Path or Payload is
// expected to be set; TS is the capture timestamp in unix milliseconds.
type FrameSource struct {
	Path    string
	Payload []byte
	TS      int64
}

type SessionStarted struct {
	SessionID     string
	ParticipantID string
}

func (SessionStarted) Type() Type { return TypeSessionStarted }

type FrameNew struct {
	SessionID     string
	ParticipantID string
	Frames        []FrameSource
}

func (FrameNew) Type() Type { return TypeFrameNew }

type SessionEnded struct {
	SessionID     string
	ParticipantID string
}

func (SessionEnded) Type() Type { return TypeSessionEnded }

// Disconnected signals that the transport lost its connection to the backend.
// All per-key state must be treated as stale after this event.
type Disconnected struct {
	Reason string
}

func (Disconnected) Type() Type { return TypeDisconnected }

type AIResponse struct {
	SessionID     string
	ParticipantID string
	Result        string
	ResultAudio   string // base64 MP3, empty when synthesis failed
}

func (AIResponse) Type() Type { return TypeAIResponse }

type StartGameAck struct {
	SessionID     string
	ParticipantID string
}

func (StartGameAck) Type() Type { return TypeStartGameAck }
