// Package wire defines the client-facing WebSocket protocol: inbound control
// messages, outbound events, and the error tags emitted on the wire.
//
// All messages are JSON objects with a "type" discriminator. Audio travels
// either inline as base64 PCM16 ("audio.chunk") or as out-of-band binary
// frames containing raw PCM16 little-endian mono 16 kHz samples.
package wire

import "encoding/json"

// Inbound message types.
const (
	TypeInit       = "init"
	TypeStart      = "start"
	TypeAudioChunk = "audio.chunk"
	TypeStop       = "stop"
	TypeUttCommit  = "utt.commit"
	TypeChatSend   = "chat.send"
)

// Outbound event types.
const (
	TypeAck               = "ack"
	TypeSTTDelta          = "stt.delta"
	TypeSTTCommit         = "stt.commit"
	TypeTranslationDelta  = "translation.delta"
	TypeTranslationCommit = "translation.commit"
	TypeSummaryUpdate     = "summary.update"
	TypeFinalResult       = "final.result"
	TypeTTSStart          = "tts_start"
	TypeTTSEnd            = "tts_end"
	TypeChatStart         = "chat.start"
	TypeChatDelta         = "chat.delta"
	TypeChatDone          = "chat.done"
	TypeChatError         = "chat.error"
	TypeResult            = "result"
	TypeError             = "error"
)

// Error tags carried in the "error" field of error events.
const (
	ErrBadJSON            = "bad_json"
	ErrUnknownType        = "unknown_type"
	ErrMissingField       = "missing_field"
	ErrInvalidLanguage    = "invalid_language"
	ErrEmptyAudio         = "empty_audio"
	ErrBadAudio           = "bad_audio"
	ErrUnsupportedAudio   = "unsupported_audio_format"
	ErrSTTFail            = "stt_fail"
	ErrTranslateFail      = "translate_fail"
	ErrSummaryFail        = "summary_fail"
	ErrTTSFail            = "tts_fail"
	ErrSensorUnavailable  = "sensor_unavailable"
	ErrPartialFailure     = "partial_failure"
	ErrFinalTranslateFail = "final_translate_fail"
	ErrLLMHTTP            = "llm_http_error"
	ErrNotFound           = "not_found"
	ErrStorageFail        = "storage_fail"
)

// Envelope is the minimal inbound frame used to dispatch on "type" before the
// full payload is decoded.
type Envelope struct {
	Type string `json:"type"`
}

// Init carries session identity and language selection. Sent once per
// connection before any audio.
type Init struct {
	Type            string `json:"type"`
	TitleID         string `json:"title_id"`
	TitleName       string `json:"title_name,omitempty"`
	STTLanguage     string `json:"stt_language"`
	TranslateSource string `json:"translate_source"`
	TranslateTarget string `json:"translate_target"`
}

// Start marks an assistant session active and resets its audio buffers.
type Start struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Client   string `json:"client,omitempty"`
}

// AudioChunk is the inline-JSON form of an audio frame. Binary WS frames are
// the preferred transport; this form exists for clients that cannot send
// binary frames.
type AudioChunk struct {
	Type     string `json:"type"`
	PCM16B64 string `json:"pcm16_b64"`
}

// ChatSend starts or continues a text conversation over /ws/chat.
type ChatSend struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
}

// Ack acknowledges a start control message.
type Ack struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// STTDelta carries the current draft. The UI replaces its draft region with
// Text on every delta; it never appends.
type STTDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// STTCommit freezes a source segment. The UI appends Text to its history.
type STTCommit struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TranslationDelta appends Delta to the in-flight target region.
type TranslationDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

// TranslationCommit finalizes the current target segment.
type TranslationCommit struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SummaryUpdate replaces the running summary wholesale.
type SummaryUpdate struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// FinalResult is the terminal payload of a translation session.
type FinalResult struct {
	Type    string `json:"type"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Summary string `json:"summary"`
}

// TTSStart announces a binary PCM chunk stream. N binary frames follow, then
// a TTSEnd frame.
type TTSStart struct {
	Type          string `json:"type"`
	AudioFormat   string `json:"audio_format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
}

// TTSEnd terminates a binary PCM chunk stream.
type TTSEnd struct {
	Type string `json:"type"`
}

// ChatStart opens a streamed chat reply.
type ChatStart struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

// ChatDelta carries one streamed chat token chunk.
type ChatDelta struct {
	Type      string `json:"type"`
	TextDelta string `json:"text_delta"`
}

// ChatDone closes a streamed chat reply.
type ChatDone struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

// ChatError aborts a streamed chat reply.
type ChatError struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Result is the assistant-flavor terminal payload.
type Result struct {
	Type         string          `json:"type"`
	OK           bool            `json:"ok"`
	Error        string          `json:"error,omitempty"`
	STTText      string          `json:"stt_text,omitempty"`
	AIText       string          `json:"ai_text,omitempty"`
	DeviceAction json.RawMessage `json:"device_action,omitempty"`
	DeviceResult json.RawMessage `json:"device_result,omitempty"`
	SensorQuery  json.RawMessage `json:"sensor_query,omitempty"`
	SensorResult json.RawMessage `json:"sensor_result,omitempty"`
	MusicQuery   string          `json:"music_query,omitempty"`
	MusicResult  json.RawMessage `json:"music_result,omitempty"`
	AudioB64     string          `json:"audio_b64,omitempty"`
	AudioMime    string          `json:"audio_mime,omitempty"`
}

// Error is the generic outbound error event.
type Error struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// NewError builds an error event with the given tag and optional detail.
func NewError(tag, detail string) Error {
	return Error{Type: TypeError, Error: tag, Detail: detail}
}
