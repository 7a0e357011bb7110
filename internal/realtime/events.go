package realtime

import "encoding/json"

// Telephony-side frames: the media-stream websocket speaks Twilio's
// start/media/stop protocol.

type telephonyFrame struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid,omitempty"`
	Start     *streamStart    `json:"start,omitempty"`
	Media     *streamMedia    `json:"media,omitempty"`
	Mark      *streamMark     `json:"mark,omitempty"`
	Stop      json.RawMessage `json:"stop,omitempty"`
}

type streamStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type streamMedia struct {
	Payload string `json:"payload"` // base64 audio
}

type streamMark struct {
	Name string `json:"name"`
}

// Upstream-side events: the realtime model socket.

type sessionUpdate struct {
	Type    string         `json:"type"`
	Session sessionPayload `json:"session"`
}

type sessionPayload struct {
	Voice             string           `json:"voice,omitempty"`
	Instructions      string           `json:"instructions,omitempty"`
	InputAudioFormat  string           `json:"input_audio_format,omitempty"`
	OutputAudioFormat string           `json:"output_audio_format,omitempty"`
	Modalities        []string         `json:"modalities,omitempty"`
	Tools             []map[string]any `json:"tools,omitempty"`
	TurnDetection     map[string]any   `json:"turn_detection,omitempty"`
}

type audioAppend struct {
	Type  string `json:"type"` // input_audio_buffer.append
	Audio string `json:"audio"`
}

type upstreamEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Name       string `json:"name,omitempty"`
	CallID     string `json:"call_id,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const (
	evAudioDelta          = "response.audio.delta"
	evSpeechStarted       = "input_audio_buffer.speech_started"
	evInputTranscriptDone = "conversation.item.input_audio_transcription.completed"
	evReplyTranscriptDone = "response.audio_transcript.done"
	evFunctionCallDone    = "response.function_call_arguments.done"
	evError               = "error"
)

type functionOutputItem struct {
	Type string             `json:"type"` // conversation.item.create
	Item functionOutputBody `json:"item"`
}

type functionOutputBody struct {
	Type   string `json:"type"` // function_call_output
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type responseCreate struct {
	Type string `json:"type"` // response.create
}
