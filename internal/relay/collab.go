// Package relay fans a host's transcript tier events out to participants
// over the broadcast connection. Participants apply the relayed events with
// the same reconciliation rules as the host, so both sides converge to the
// same transcript state.
package relay

import (
	"encoding/json"

	"meeting-relay/internal/observability/logging"
	"meeting-relay/internal/transcript"
	"meeting-relay/internal/transport"
	"meeting-relay/internal/wire"
)

// Relay is the host side of the collaborative fan-out.
type Relay struct {
	broadcast *transport.Broadcast
}

// New creates a relay over an open broadcast connection.
func New(broadcast *transport.Broadcast) *Relay {
	return &Relay{broadcast: broadcast}
}

// PublishTier relays one accepted tier event. seq is the session's sequence
// number for committed updates (fast-final, mid, final) and zero for
// interim-only updates, which participants apply but auditors ignore.
func (r *Relay) PublishTier(ev transcript.Event, seq uint64) error {
	tb := wire.TierBroadcast{
		Tier:     ev.Tier.String(),
		Text:     ev.Text,
		IsFinal:  ev.IsFinalForTier,
		Sequence: seq,
	}

	if err := r.broadcast.PublishTier(tb); err != nil {
		log := logging.WithComponent("relay")
		log.Warn().Err(err).
			Str("tier", tb.Tier).
			Msg("Failed to relay tier event")
		return err
	}
	return nil
}

// PublishAnalysisComplete announces the finished analysis to participants.
// Published exactly once per session, on reaching ANALYSIS_READY.
func (r *Relay) PublishAnalysisComplete(meetingId string, analysis json.RawMessage) error {
	return r.broadcast.PublishAnalysisComplete(wire.AnalysisComplete{
		MeetingID: meetingId,
		Analysis:  analysis,
	})
}
