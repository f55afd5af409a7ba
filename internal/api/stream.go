package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/booking"
	"github.com/hackgods/doctalk-booking/internal/voice"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

// Stream frame types.
const (
	FrameAudio = "audio"
	FrameText  = "text"
	FrameTurn  = "turn"
	FrameReset = "reset"
	FrameReply = "reply"
	FrameError = "error"
)

type audioPayload struct {
	Audio  []byte `json:"audio"`
	Format string `json:"format"`
}

type textPayload struct {
	Text string `json:"text"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamHandler serves one call over a websocket. Frames are handled in
// arrival order, so a session never sees two of its turns at once from the
// same connection.
func streamHandler(orch *booking.Orchestrator, pipeline *voice.Pipeline, log *logger.Logger) http.HandlerFunc {
	log = logger.OrNop(log)
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithSession(id).Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		sessLog := log.WithSession(id)
		for {
			var msg StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sessLog.Warn("stream closed", zap.Error(err))
				}
				return
			}

			reply := handleFrame(r, orch, pipeline, sessLog, id, msg)
			if err := conn.WriteJSON(reply); err != nil {
				sessLog.Warn("stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func handleFrame(r *http.Request, orch *booking.Orchestrator, pipeline *voice.Pipeline, log *logger.Logger, id string, msg StreamMessage) StreamReply {
	ctx := r.Context()
	switch msg.Type {
	case FrameAudio:
		if pipeline == nil {
			return StreamReply{Type: FrameError, Error: "voice pipeline is not configured"}
		}
		var p audioPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return StreamReply{Type: FrameError, Error: "invalid audio payload"}
		}
		return voiceReply(pipeline.ProcessAudio(ctx, id, p.Audio, p.Format))

	case FrameText:
		if pipeline == nil {
			return StreamReply{Type: FrameError, Error: "voice pipeline is not configured"}
		}
		var p textPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return StreamReply{Type: FrameError, Error: "invalid text payload"}
		}
		return voiceReply(pipeline.ProcessText(ctx, id, p.Text))

	case FrameTurn:
		var req TurnRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return StreamReply{Type: FrameError, Error: "invalid turn payload"}
		}
		res := orch.HandleTurn(ctx, booking.TurnRequest{
			SessionID:  id,
			Transcript: req.Transcript,
			Intent:     req.Intent,
			Entities:   req.Entities,
		})
		return StreamReply{Type: FrameReply, Transcript: req.Transcript, Text: res.Message, Result: &res}

	case FrameReset:
		if err := orch.Reset(ctx, id); err != nil {
			log.Error("reset session failed", zap.Error(err))
			return StreamReply{Type: FrameError, Error: "internal_error"}
		}
		return StreamReply{Type: FrameReset}

	default:
		return StreamReply{Type: FrameError, Error: "unknown frame type " + msg.Type}
	}
}

func voiceReply(v voice.Reply) StreamReply {
	res := v.Result
	return StreamReply{
		Type:       FrameReply,
		Transcript: v.Transcript,
		Text:       v.Text,
		Result:     &res,
		Audio:      v.Audio,
	}
}
