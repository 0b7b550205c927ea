// Package protocol defines the messages exchanged between a game host and
// its clients over a peer connection. Every message carries a Type tag; all
// other fields are optional and depend on the type.
package protocol

import "encoding/json"

type Type string

const (
	// client -> host
	TypeJoinRequest   Type = "JOIN_REQUEST"
	TypeRejoinRequest Type = "REJOIN_REQUEST"
	TypePong          Type = "PONG"

	// host -> client
	TypeJoinAccepted     Type = "JOIN_ACCEPTED"
	TypeJoinRejected     Type = "JOIN_REJECTED"
	TypeRejoinAccepted   Type = "REJOIN_ACCEPTED"
	TypeRejoinRejected   Type = "REJOIN_REJECTED"
	TypeWelcome          Type = "WELCOME"
	TypePlayerListUpdate Type = "PLAYER_LIST_UPDATE"
	TypeStartGame        Type = "START_GAME"
	TypeYourRole         Type = "YOUR_ROLE"
	TypePlayerEliminated Type = "PLAYER_ELIMINATED"
	TypePlayerRevived    Type = "PLAYER_REVIVED"
	TypePlayerStatus     Type = "PLAYER_STATUS"
	TypePing             Type = "PING"
)

// GameData is the public game-start payload. It never carries secret role
// information, only the final player-name list snapshotted at start time.
type GameData struct {
	PlayerNames []string `json:"playerNames"`
}

// PlayerStatus carries per-player status flags pushed by the narrator.
type PlayerStatus struct {
	PlayerName string `json:"playerName"`
	Suspect    bool   `json:"suspect,omitempty"`
	Welcome    bool   `json:"welcome,omitempty"`
	Eliminated bool   `json:"eliminated,omitempty"`
}

type Message struct {
	Type       Type            `json:"type"`
	PlayerName string          `json:"playerName,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Message    string          `json:"message,omitempty"`
	Players    []string        `json:"players,omitempty"`
	GameData   *GameData       `json:"gameData,omitempty"`
	RoleData   json.RawMessage `json:"roleData,omitempty"`
	Status     *PlayerStatus   `json:"status,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
