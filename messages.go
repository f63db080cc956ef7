package main

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ClientMessage is any event a browser sends. Which fields matter depends on Type.
type ClientMessage struct {
	Type       string          `json:"type"`                 // see dispatch in session.go
	RoomID     string          `json:"roomId,omitempty"`     // every event
	Name       string          `json:"name,omitempty"`       // player_join
	PlayerID   string          `json:"playerId,omitempty"`   // resume, give_to_active, end_turn, host_remove_player
	Secret     string          `json:"secret,omitempty"`     // resume, give_to_active, end_turn
	TemplateID string          `json:"templateId,omitempty"` // game_start, game_new
	Types      TypeList        `json:"types,omitempty"`      // give_to_active
	Payload    json.RawMessage `json:"payload,omitempty"`    // client_log
}

const (
	msgHostJoin     = "host_join"
	msgPlayerJoin   = "player_join"
	msgResume       = "resume"
	msgGameStart    = "game_start"
	msgGiveToActive = "give_to_active"
	msgEndTurn      = "end_turn"
	msgRemovePlayer = "host_remove_player"
	msgGameNew      = "game_new"
	msgClientLog    = "client_log"
)

// TypeList decodes card type ids sent as numbers or numeric strings. Entries
// that are neither, or are not a card type, are dropped rather than failing
// the whole message.
type TypeList []int

func (l *TypeList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(TypeList, 0, len(raw))
	for _, item := range raw {
		if string(item) == "null" {
			continue
		}

		var n float64
		if err := json.Unmarshal(item, &n); err != nil {
			var text string
			if json.Unmarshal(item, &text) != nil {
				continue
			}
			if n, err = strconv.ParseFloat(strings.TrimSpace(text), 64); err != nil {
				continue
			}
		}
		if n != math.Trunc(n) || n < 0 || n >= cardTypes {
			continue
		}
		out = append(out, int(n))
	}

	*l = out
	return nil
}

// RoomStateMessage carries either a HostView or a PlayerView.
type RoomStateMessage struct {
	Type     string `json:"type"` // "room_state"
	Snapshot any    `json:"snapshot"`
}

// JoinedMessage answers player_join with the credentials to resume later.
type JoinedMessage struct {
	Type     string     `json:"type"` // "joined" or "claimed"
	PlayerID string     `json:"playerId"`
	Secret   string     `json:"secret"`
	Snapshot PlayerView `json:"snapshot"`
}

type ResumeOKMessage struct {
	Type     string     `json:"type"` // "resume_ok"
	Snapshot PlayerView `json:"snapshot"`
}

type ResumeFailMessage struct {
	Type   string `json:"type"` // "resume_fail"
	Reason string `json:"reason"`
}

type GameStartedMessage struct {
	Type    string  `json:"type"` // "game_started"
	Spinner Spinner `json:"spinner"`
}

// SimpleMessage covers payload-free notices: game_finished, evicted, removed.
type SimpleMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type  string `json:"type"` // "error_msg"
	Error string `json:"error"`
}

func roomState(snapshot any) RoomStateMessage {
	return RoomStateMessage{Type: "room_state", Snapshot: snapshot}
}

func errorMessage(err error) ErrorMessage {
	return ErrorMessage{Type: "error_msg", Error: errorCode(err)}
}
