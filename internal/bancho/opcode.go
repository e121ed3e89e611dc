// Package bancho implements the osu! bancho wire protocol.
//
// This includes the framed binary packet codec (7-byte header +
// opcode-specific payload), the typed field encodings (little-endian
// integers, ULEB128 length-prefixed strings, i32 lists), the packet
// builder used to compose server responses, and the reader used to
// iterate a client's packet batch.
package bancho

import "fmt"

// -------------------------------------------------------------------------
// Packet Identifiers
// -------------------------------------------------------------------------

// PacketID is the u16 packet-type tag at the start of every frame.
//
// The numeric values are fixed by the osu! client and must never change:
// they are what the game sends on the wire. Client->server and
// server->client ranges are disjoint but interleaved historically.
type PacketID uint16

// Client -> server opcodes.
const (
	OsuChangeAction                PacketID = 0
	OsuSendPublicMessage           PacketID = 1
	OsuLogout                      PacketID = 2
	OsuRequestStatusUpdate         PacketID = 3
	OsuPing                        PacketID = 4
	OsuStartSpectating             PacketID = 16
	OsuStopSpectating              PacketID = 17
	OsuSpectateFrames              PacketID = 18
	OsuErrorReport                 PacketID = 20
	OsuCantSpectate                PacketID = 21
	OsuSendPrivateMessage          PacketID = 25
	OsuPartLobby                   PacketID = 29
	OsuJoinLobby                   PacketID = 30
	OsuCreateMatch                 PacketID = 31
	OsuJoinMatch                   PacketID = 32
	OsuPartMatch                   PacketID = 33
	OsuMatchChangeSlot             PacketID = 38
	OsuMatchReady                  PacketID = 39
	OsuMatchLock                   PacketID = 40
	OsuMatchChangeSettings         PacketID = 41
	OsuMatchStart                  PacketID = 44
	OsuMatchScoreUpdate            PacketID = 47
	OsuMatchComplete               PacketID = 49
	OsuMatchChangeMods             PacketID = 51
	OsuMatchLoadComplete           PacketID = 52
	OsuMatchNoBeatmap              PacketID = 54
	OsuMatchNotReady               PacketID = 55
	OsuMatchFailed                 PacketID = 56
	OsuMatchHasBeatmap             PacketID = 59
	OsuMatchSkipRequest            PacketID = 60
	OsuChannelJoin                 PacketID = 63
	OsuBeatmapInfoRequest          PacketID = 68
	OsuMatchTransferHost           PacketID = 70
	OsuFriendAdd                   PacketID = 73
	OsuFriendRemove                PacketID = 74
	OsuMatchChangeTeam             PacketID = 77
	OsuChannelPart                 PacketID = 78
	OsuReceiveUpdates              PacketID = 79
	OsuSetAwayMessage              PacketID = 82
	OsuIrcOnly                     PacketID = 84
	OsuUserStatsRequest            PacketID = 85
	OsuMatchInvite                 PacketID = 87
	OsuMatchChangePassword         PacketID = 90
	OsuTournamentMatchInfoRequest  PacketID = 93
	OsuUserPresenceRequest         PacketID = 97
	OsuUserPresenceRequestAll      PacketID = 98
	OsuToggleBlockNonFriendDms     PacketID = 99
	OsuTournamentJoinMatchChannel  PacketID = 108
	OsuTournamentLeaveMatchChannel PacketID = 109
)

// Server -> client opcodes.
const (
	BanchoLoginReply              PacketID = 5
	BanchoSendMessage             PacketID = 7
	BanchoPong                    PacketID = 8
	BanchoHandleIrcChangeUsername PacketID = 9
	BanchoHandleIrcQuit           PacketID = 10
	BanchoUserStats               PacketID = 11
	BanchoUserLogout              PacketID = 12
	BanchoSpectatorJoined         PacketID = 13
	BanchoSpectatorLeft           PacketID = 14
	BanchoSpectateFrames          PacketID = 15
	BanchoVersionUpdate           PacketID = 19
	BanchoSpectatorCantSpectate   PacketID = 22
	BanchoGetAttention            PacketID = 23
	BanchoNotification            PacketID = 24
	BanchoUpdateMatch             PacketID = 26
	BanchoNewMatch                PacketID = 27
	BanchoDisbandMatch            PacketID = 28
	BanchoToggleBlockNonFriendDms PacketID = 34
	BanchoMatchJoinSuccess        PacketID = 36
	BanchoMatchJoinFail           PacketID = 37
	BanchoFellowSpectatorJoined   PacketID = 42
	BanchoFellowSpectatorLeft     PacketID = 43
	BanchoAllPlayersLoaded        PacketID = 45
	BanchoMatchStart              PacketID = 46
	BanchoMatchScoreUpdate        PacketID = 48
	BanchoMatchTransferHost       PacketID = 50
	BanchoMatchAllPlayersLoaded   PacketID = 53
	BanchoMatchPlayerFailed       PacketID = 57
	BanchoMatchComplete           PacketID = 58
	BanchoMatchSkip               PacketID = 61
	BanchoUnauthorized            PacketID = 62
	BanchoChannelJoinSuccess      PacketID = 64
	BanchoChannelInfo             PacketID = 65
	BanchoChannelKick             PacketID = 66
	BanchoChannelAutoJoin         PacketID = 67
	BanchoBeatmapInfoReply        PacketID = 69
	BanchoPrivileges              PacketID = 71
	BanchoFriendsList             PacketID = 72
	BanchoProtocolVersion         PacketID = 75
	BanchoMainMenuIcon            PacketID = 76
	BanchoMonitor                 PacketID = 80
	BanchoMatchPlayerSkipped      PacketID = 81
	BanchoUserPresence            PacketID = 83
	BanchoRestart                 PacketID = 86
	BanchoMatchInvite             PacketID = 88
	BanchoChannelInfoEnd          PacketID = 89
	BanchoMatchChangePassword     PacketID = 91
	BanchoSilenceEnd              PacketID = 92
	BanchoUserSilenced            PacketID = 94
	BanchoUserPresenceSingle      PacketID = 95
	BanchoUserPresenceBundle      PacketID = 96
	BanchoUserDmBlocked           PacketID = 100
	BanchoTargetIsSilenced        PacketID = 101
	BanchoVersionUpdateForced     PacketID = 102
	BanchoSwitchServer            PacketID = 103
	BanchoAccountRestricted       PacketID = 104
	BanchoRtx                     PacketID = 105
	BanchoMatchAbort              PacketID = 106
	BanchoSwitchTournamentServer  PacketID = 107
)

// packetNames maps known opcodes to their wire protocol names.
var packetNames = map[PacketID]string{
	OsuChangeAction:                "OSU_CHANGE_ACTION",
	OsuSendPublicMessage:           "OSU_SEND_PUBLIC_MESSAGE",
	OsuLogout:                      "OSU_LOGOUT",
	OsuRequestStatusUpdate:         "OSU_REQUEST_STATUS_UPDATE",
	OsuPing:                        "OSU_PING",
	OsuStartSpectating:             "OSU_START_SPECTATING",
	OsuStopSpectating:              "OSU_STOP_SPECTATING",
	OsuSpectateFrames:              "OSU_SPECTATE_FRAMES",
	OsuErrorReport:                 "OSU_ERROR_REPORT",
	OsuCantSpectate:                "OSU_CANT_SPECTATE",
	OsuSendPrivateMessage:          "OSU_SEND_PRIVATE_MESSAGE",
	OsuPartLobby:                   "OSU_PART_LOBBY",
	OsuJoinLobby:                   "OSU_JOIN_LOBBY",
	OsuCreateMatch:                 "OSU_CREATE_MATCH",
	OsuJoinMatch:                   "OSU_JOIN_MATCH",
	OsuPartMatch:                   "OSU_PART_MATCH",
	OsuMatchChangeSlot:             "OSU_MATCH_CHANGE_SLOT",
	OsuMatchReady:                  "OSU_MATCH_READY",
	OsuMatchLock:                   "OSU_MATCH_LOCK",
	OsuMatchChangeSettings:         "OSU_MATCH_CHANGE_SETTINGS",
	OsuMatchStart:                  "OSU_MATCH_START",
	OsuMatchScoreUpdate:            "OSU_MATCH_SCORE_UPDATE",
	OsuMatchComplete:               "OSU_MATCH_COMPLETE",
	OsuMatchChangeMods:             "OSU_MATCH_CHANGE_MODS",
	OsuMatchLoadComplete:           "OSU_MATCH_LOAD_COMPLETE",
	OsuMatchNoBeatmap:              "OSU_MATCH_NO_BEATMAP",
	OsuMatchNotReady:               "OSU_MATCH_NOT_READY",
	OsuMatchFailed:                 "OSU_MATCH_FAILED",
	OsuMatchHasBeatmap:             "OSU_MATCH_HAS_BEATMAP",
	OsuMatchSkipRequest:            "OSU_MATCH_SKIP_REQUEST",
	OsuChannelJoin:                 "OSU_CHANNEL_JOIN",
	OsuBeatmapInfoRequest:          "OSU_BEATMAP_INFO_REQUEST",
	OsuMatchTransferHost:           "OSU_MATCH_TRANSFER_HOST",
	OsuFriendAdd:                   "OSU_FRIEND_ADD",
	OsuFriendRemove:                "OSU_FRIEND_REMOVE",
	OsuMatchChangeTeam:             "OSU_MATCH_CHANGE_TEAM",
	OsuChannelPart:                 "OSU_CHANNEL_PART",
	OsuReceiveUpdates:              "OSU_RECEIVE_UPDATES",
	OsuSetAwayMessage:              "OSU_SET_AWAY_MESSAGE",
	OsuIrcOnly:                     "OSU_IRC_ONLY",
	OsuUserStatsRequest:            "OSU_USER_STATS_REQUEST",
	OsuMatchInvite:                 "OSU_MATCH_INVITE",
	OsuMatchChangePassword:         "OSU_MATCH_CHANGE_PASSWORD",
	OsuTournamentMatchInfoRequest:  "OSU_TOURNAMENT_MATCH_INFO_REQUEST",
	OsuUserPresenceRequest:         "OSU_USER_PRESENCE_REQUEST",
	OsuUserPresenceRequestAll:      "OSU_USER_PRESENCE_REQUEST_ALL",
	OsuToggleBlockNonFriendDms:     "OSU_TOGGLE_BLOCK_NON_FRIEND_DMS",
	OsuTournamentJoinMatchChannel:  "OSU_TOURNAMENT_JOIN_MATCH_CHANNEL",
	OsuTournamentLeaveMatchChannel: "OSU_TOURNAMENT_LEAVE_MATCH_CHANNEL",

	BanchoLoginReply:              "BANCHO_LOGIN_REPLY",
	BanchoSendMessage:             "BANCHO_SEND_MESSAGE",
	BanchoPong:                    "BANCHO_PONG",
	BanchoHandleIrcChangeUsername: "BANCHO_HANDLE_IRC_CHANGE_USERNAME",
	BanchoHandleIrcQuit:           "BANCHO_HANDLE_IRC_QUIT",
	BanchoUserStats:               "BANCHO_USER_STATS",
	BanchoUserLogout:              "BANCHO_USER_LOGOUT",
	BanchoSpectatorJoined:         "BANCHO_SPECTATOR_JOINED",
	BanchoSpectatorLeft:           "BANCHO_SPECTATOR_LEFT",
	BanchoSpectateFrames:          "BANCHO_SPECTATE_FRAMES",
	BanchoVersionUpdate:           "BANCHO_VERSION_UPDATE",
	BanchoSpectatorCantSpectate:   "BANCHO_SPECTATOR_CANT_SPECTATE",
	BanchoGetAttention:            "BANCHO_GET_ATTENTION",
	BanchoNotification:            "BANCHO_NOTIFICATION",
	BanchoUpdateMatch:             "BANCHO_UPDATE_MATCH",
	BanchoNewMatch:                "BANCHO_NEW_MATCH",
	BanchoDisbandMatch:            "BANCHO_DISBAND_MATCH",
	BanchoToggleBlockNonFriendDms: "BANCHO_TOGGLE_BLOCK_NON_FRIEND_DMS",
	BanchoMatchJoinSuccess:        "BANCHO_MATCH_JOIN_SUCCESS",
	BanchoMatchJoinFail:           "BANCHO_MATCH_JOIN_FAIL",
	BanchoFellowSpectatorJoined:   "BANCHO_FELLOW_SPECTATOR_JOINED",
	BanchoFellowSpectatorLeft:     "BANCHO_FELLOW_SPECTATOR_LEFT",
	BanchoAllPlayersLoaded:        "BANCHO_ALL_PLAYERS_LOADED",
	BanchoMatchStart:              "BANCHO_MATCH_START",
	BanchoMatchScoreUpdate:        "BANCHO_MATCH_SCORE_UPDATE",
	BanchoMatchTransferHost:       "BANCHO_MATCH_TRANSFER_HOST",
	BanchoMatchAllPlayersLoaded:   "BANCHO_MATCH_ALL_PLAYERS_LOADED",
	BanchoMatchPlayerFailed:       "BANCHO_MATCH_PLAYER_FAILED",
	BanchoMatchComplete:           "BANCHO_MATCH_COMPLETE",
	BanchoMatchSkip:               "BANCHO_MATCH_SKIP",
	BanchoUnauthorized:            "BANCHO_UNAUTHORIZED",
	BanchoChannelJoinSuccess:      "BANCHO_CHANNEL_JOIN_SUCCESS",
	BanchoChannelInfo:             "BANCHO_CHANNEL_INFO",
	BanchoChannelKick:             "BANCHO_CHANNEL_KICK",
	BanchoChannelAutoJoin:         "BANCHO_CHANNEL_AUTO_JOIN",
	BanchoBeatmapInfoReply:        "BANCHO_BEATMAP_INFO_REPLY",
	BanchoPrivileges:              "BANCHO_PRIVILEGES",
	BanchoFriendsList:             "BANCHO_FRIENDS_LIST",
	BanchoProtocolVersion:         "BANCHO_PROTOCOL_VERSION",
	BanchoMainMenuIcon:            "BANCHO_MAIN_MENU_ICON",
	BanchoMonitor:                 "BANCHO_MONITOR",
	BanchoMatchPlayerSkipped:      "BANCHO_MATCH_PLAYER_SKIPPED",
	BanchoUserPresence:            "BANCHO_USER_PRESENCE",
	BanchoRestart:                 "BANCHO_RESTART",
	BanchoMatchInvite:             "BANCHO_MATCH_INVITE",
	BanchoChannelInfoEnd:          "BANCHO_CHANNEL_INFO_END",
	BanchoMatchChangePassword:     "BANCHO_MATCH_CHANGE_PASSWORD",
	BanchoSilenceEnd:              "BANCHO_SILENCE_END",
	BanchoUserSilenced:            "BANCHO_USER_SILENCED",
	BanchoUserPresenceSingle:      "BANCHO_USER_PRESENCE_SINGLE",
	BanchoUserPresenceBundle:      "BANCHO_USER_PRESENCE_BUNDLE",
	BanchoUserDmBlocked:           "BANCHO_USER_DM_BLOCKED",
	BanchoTargetIsSilenced:        "BANCHO_TARGET_IS_SILENCED",
	BanchoVersionUpdateForced:     "BANCHO_VERSION_UPDATE_FORCED",
	BanchoSwitchServer:            "BANCHO_SWITCH_SERVER",
	BanchoAccountRestricted:       "BANCHO_ACCOUNT_RESTRICTED",
	BanchoRtx:                     "BANCHO_RTX",
	BanchoMatchAbort:              "BANCHO_MATCH_ABORT",
	BanchoSwitchTournamentServer:  "BANCHO_SWITCH_TOURNAMENT_SERVER",
}

// Known reports whether id is part of the protocol's opcode table.
func (id PacketID) Known() bool {
	_, ok := packetNames[id]
	return ok
}

// String returns the wire protocol name for the opcode.
func (id PacketID) String() string {
	if name, ok := packetNames[id]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(id))
}

// -------------------------------------------------------------------------
// Login Reply Codes
// -------------------------------------------------------------------------

// LoginReplyCode is the i32 payload of a BANCHO_LOGIN_REPLY packet.
// Non-negative values are the logged-in user id; negative values are
// failure codes understood by the client.
type LoginReplyCode int32

const (
	// LoginInvalidCredentials covers unknown user, wrong password, and
	// every other auth failure the server refuses to enumerate.
	LoginInvalidCredentials LoginReplyCode = -1

	// LoginOutdatedClient tells the client to update before connecting.
	LoginOutdatedClient LoginReplyCode = -2

	// LoginUserBanned indicates the account is banned.
	LoginUserBanned LoginReplyCode = -3

	// LoginServerError indicates an internal failure; the client may retry.
	LoginServerError LoginReplyCode = -5

	// LoginNeedsSupporter gates the cutting-edge build behind supporter.
	LoginNeedsSupporter LoginReplyCode = -6

	// LoginPasswordReset forces a password reset flow.
	LoginPasswordReset LoginReplyCode = -7

	// LoginRequiresVerification requires account verification.
	LoginRequiresVerification LoginReplyCode = -8
)
