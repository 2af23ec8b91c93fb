// Package wire defines the socket message formats for both backend
// connections and decodes them into closed tagged unions at the transport
// boundary. Unknown message types decode to an explicit variant that callers
// log and drop; nothing falls through silently.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"meeting-relay/internal/transcript"
)

// Transcription connection message types (backend -> client).
const (
	TypeFastTranscript = "deepgram_transcript"
	TypeMidDelta       = "medium_delta"
	TypeFinalResult    = "large_result"
	TypeError          = "error"
	TypePong           = "pong"
)

// Control message type (client -> backend, either connection).
const TypeStop = "stop"

// Broadcast connection message types.
const (
	TypeHostTranscription = "host_transcription"
	TypeLiveTranscription = "live_transcription"
	TypeTranscriptUpdate  = "transcript_update"
	TypeAnalysisComplete  = "analysis_complete"
	TypePing              = "ping"
)

// transcriptionMessage is the raw JSON shape on the transcription connection.
type transcriptionMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
	Message string `json:"message,omitempty"`
}

// InboundKind discriminates decoded transcription-connection messages.
type InboundKind int

const (
	// KindTier - a transcript tier event.
	KindTier InboundKind = iota
	// KindError - a backend-reported error.
	KindError
	// KindPong - keep-alive response.
	KindPong
	// KindUnknown - unrecognized message type; log and drop.
	KindUnknown
)

// Inbound is one decoded message from the transcription connection.
type Inbound struct {
	Kind    InboundKind
	Tier    transcript.Event // valid when Kind == KindTier
	Message string           // valid when Kind == KindError
	RawType string           // the wire "type" value, kept for logging
}

// DecodeTranscription decodes a text message from the transcription
// connection. A JSON parse failure is returned as an error so the caller can
// log and drop the single malformed message.
func DecodeTranscription(data []byte) (Inbound, error) {
	var msg transcriptionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("malformed transcription message: %w", err)
	}

	in := Inbound{RawType: msg.Type}
	switch msg.Type {
	case TypeFastTranscript:
		in.Kind = KindTier
		in.Tier = transcript.Event{
			Tier:           transcript.TierFast,
			Text:           msg.Text,
			IsFinalForTier: msg.IsFinal,
			Source:         msg.Type,
		}
	case TypeMidDelta:
		in.Kind = KindTier
		in.Tier = transcript.Event{
			Tier:   transcript.TierMid,
			Text:   msg.Text,
			Source: msg.Type,
		}
	case TypeFinalResult:
		in.Kind = KindTier
		in.Tier = transcript.Event{
			Tier:           transcript.TierFinal,
			Text:           msg.Text,
			IsFinalForTier: true,
			Source:         msg.Type,
		}
	case TypeError:
		in.Kind = KindError
		in.Message = msg.Message
	case TypePong:
		in.Kind = KindPong
	default:
		in.Kind = KindUnknown
	}
	return in, nil
}

// Envelope is the outer shape of every broadcast-connection message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TierBroadcast is the payload a host publishes for every accepted tier
// event so that participants can replay the same reconciliation.
type TierBroadcast struct {
	Tier     string `json:"tier"`
	Text     string `json:"text"`
	IsFinal  bool   `json:"is_final"`
	Sequence uint64 `json:"sequence,omitempty"`
}

// AnalysisComplete is published once by the host when analysis finishes.
type AnalysisComplete struct {
	MeetingID string          `json:"meeting_id,omitempty"`
	Analysis  json.RawMessage `json:"analysis"`
}

// BroadcastKind discriminates decoded broadcast-connection messages.
type BroadcastKind int

const (
	// KindTierBroadcast - a relayed tier event from the host.
	KindTierBroadcast BroadcastKind = iota
	// KindAnalysisComplete - the host's analysis finished.
	KindAnalysisComplete
	// KindKeepAlive - ping from a participant; nothing to apply.
	KindKeepAlive
	// KindUnknownBroadcast - unrecognized envelope type; log and drop.
	KindUnknownBroadcast
)

// InboundBroadcast is one decoded message from the broadcast connection.
type InboundBroadcast struct {
	Kind     BroadcastKind
	Tier     TierBroadcast    // valid when Kind == KindTierBroadcast
	Analysis AnalysisComplete // valid when Kind == KindAnalysisComplete
	RawType  string
}

// DecodeBroadcast decodes a broadcast envelope and its payload.
func DecodeBroadcast(data []byte) (InboundBroadcast, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return InboundBroadcast{}, fmt.Errorf("malformed broadcast envelope: %w", err)
	}

	in := InboundBroadcast{RawType: env.Type}
	switch env.Type {
	case TypeHostTranscription, TypeLiveTranscription, TypeTranscriptUpdate:
		in.Kind = KindTierBroadcast
		if err := json.Unmarshal(env.Data, &in.Tier); err != nil {
			return InboundBroadcast{}, fmt.Errorf("malformed tier broadcast payload: %w", err)
		}
	case TypeAnalysisComplete:
		in.Kind = KindAnalysisComplete
		if err := json.Unmarshal(env.Data, &in.Analysis); err != nil {
			return InboundBroadcast{}, fmt.Errorf("malformed analysis payload: %w", err)
		}
	case TypePing:
		in.Kind = KindKeepAlive
	default:
		in.Kind = KindUnknownBroadcast
	}
	return in, nil
}

// TierEventFromBroadcast converts a relayed tier broadcast back into the
// event the host applied, so participants run the identical reconciliation.
func TierEventFromBroadcast(tb TierBroadcast) (transcript.Event, bool) {
	ev := transcript.Event{
		Text:           tb.Text,
		IsFinalForTier: tb.IsFinal,
		Source:         "broadcast",
	}
	switch tb.Tier {
	case transcript.TierFast.String():
		ev.Tier = transcript.TierFast
	case transcript.TierMid.String():
		ev.Tier = transcript.TierMid
	case transcript.TierFinal.String():
		ev.Tier = transcript.TierFinal
	default:
		return transcript.Event{}, false
	}
	return ev, true
}

// EncodeEnvelope marshals an envelope with the given payload.
func EncodeEnvelope(msgType string, payload any) ([]byte, error) {
	var (
		data json.RawMessage
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
	}
	return json.Marshal(Envelope{Type: msgType, Data: data})
}

// EncodeStop builds the stop control message.
func EncodeStop() []byte {
	return []byte(`{"type":"stop"}`)
}

// EncodePing builds the keep-alive ping envelope.
func EncodePing() []byte {
	return []byte(`{"type":"ping"}`)
}

// EncodePCM16 serializes samples as little-endian signed 16-bit PCM, the
// raw binary frame format of the transcription connection (no envelope).
func EncodePCM16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
