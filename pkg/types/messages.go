package types

// Matchmaking mode carried in MatchFound payloads.
type MatchMode string

const (
	ModeMatchmaking MatchMode = "matchmaking"
	ModeFriend      MatchMode = "friend"
)

type ClientEvent string

const (
	EvtJoinMatchmaking     ClientEvent = "join_matchmaking"
	EvtLeaveMatchmaking    ClientEvent = "leave_matchmaking"
	EvtBattleRequest       ClientEvent = "battle_request"
	EvtBattleRequestCancel ClientEvent = "battle_request_cancel"
	EvtBattleRequestAccept ClientEvent = "battle_request_accept"
)

type ServerEvent string

const (
	EvtFriendsOnline          ServerEvent = "friends_online"
	EvtFriendOnline           ServerEvent = "friend_online"
	EvtFriendOffline          ServerEvent = "friend_offline"
	EvtMatchFound             ServerEvent = "match_found"
	EvtBattleRequestReceived  ServerEvent = "battle_request_received"
	EvtBattleRequestCancelled ServerEvent = "battle_request_cancelled"
	EvtError                  ServerEvent = "error"
)

// ClientMessage is the single inbound frame shape; Type selects which of the
// optional fields are meaningful. The sender's own id is resolved out-of-band
// at connect time and never trusted from the frame.
type ClientMessage struct {
	Type   ClientEvent `json:"type"`
	TeamID int64       `json:"team_id,omitempty"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
}

type ServerMessage struct {
	Type      ServerEvent `json:"type"`
	PlayerID  string      `json:"player_id,omitempty"`  // friend_online / friend_offline / battle_request_*
	PlayerIDs []string    `json:"player_ids,omitempty"` // friends_online
	Match     *MatchFound `json:"match,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// MatchFound is the room handoff payload; the external battle collaborator
// takes over from here.
type MatchFound struct {
	RoomID         string    `json:"room_id"`
	Mode           MatchMode `json:"mode"`
	OpponentID     string    `json:"opponent_id"`
	TeamID         int64     `json:"team_id"`
	OpponentTeamID int64     `json:"opponent_team_id"`
}
