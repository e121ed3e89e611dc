package bancho

// Server->client packet writers. Each returns one fully framed packet
// ready for a session queue or a Builder.

// ProtocolVersionValue is the bancho protocol revision spoken by this
// server, echoed both in the cho-protocol response header and the
// BANCHO_PROTOCOL_VERSION packet.
const ProtocolVersionValue = 19

// LoginReply builds the login result packet: the user id on success, a
// negative LoginReplyCode on failure.
func LoginReply(code LoginReplyCode) []byte {
	return newPacket(BanchoLoginReply, AppendInt32(nil, int32(code)))
}

// ProtocolVersion announces the protocol revision to the client.
func ProtocolVersion(version int32) []byte {
	return newPacket(BanchoProtocolVersion, AppendInt32(nil, version))
}

// Notification shows a toast message in the client.
func Notification(msg string) []byte {
	return newPacket(BanchoNotification, AppendString(nil, msg))
}

// SendMessage relays a chat message to the client.
func SendMessage(m Message) []byte {
	return newPacket(BanchoSendMessage, AppendMessage(nil, m))
}

// Pong answers an OSU_PING keepalive.
func Pong() []byte {
	return emptyPacket(BanchoPong)
}

// ChangeUsername renames a user client-side, IRC style.
func ChangeUsername(oldName, newName string) []byte {
	return newPacket(BanchoHandleIrcChangeUsername,
		AppendString(nil, oldName+">>>>"+newName))
}

// StatsOf builds the user stats packet for the given snapshot.
func StatsOf(s UserStats) []byte {
	p := AppendInt32(nil, s.UserID)
	p = append(p, s.Action)
	p = AppendString(p, s.Info)
	p = AppendString(p, s.BeatmapMD5)
	p = AppendInt32(p, s.Mods)
	p = append(p, s.Mode)
	p = AppendInt32(p, s.BeatmapID)
	p = AppendInt64(p, s.RankedScore)
	p = AppendFloat32(p, s.Accuracy)
	p = AppendInt32(p, s.PlayCount)
	p = AppendInt64(p, s.TotalScore)
	p = AppendInt32(p, s.Rank)
	p = AppendInt16(p, s.PP)
	return newPacket(BanchoUserStats, p)
}

// PresenceOf builds the user presence packet for the given snapshot.
func PresenceOf(p UserPresence) []byte {
	buf := AppendInt32(nil, p.UserID)
	buf = AppendString(buf, p.Username)
	buf = append(buf, uint8(int16(p.UTCOffset)+utcOffsetBias), p.CountryCode, p.PrivilegesByte)
	buf = AppendFloat32(buf, p.Longitude)
	buf = AppendFloat32(buf, p.Latitude)
	buf = AppendInt32(buf, p.Rank)
	return newPacket(BanchoUserPresence, buf)
}

// UserLogoutNotice announces a user's logout to other clients.
func UserLogoutNotice(userID int32) []byte {
	p := AppendInt32(nil, userID)
	p = append(p, 0)
	return newPacket(BanchoUserLogout, p)
}

// SpectatorJoined notifies the host that userID started spectating.
func SpectatorJoined(userID int32) []byte {
	return newPacket(BanchoSpectatorJoined, AppendInt32(nil, userID))
}

// SpectatorLeft notifies the host that userID stopped spectating.
func SpectatorLeft(userID int32) []byte {
	return newPacket(BanchoSpectatorLeft, AppendInt32(nil, userID))
}

// FellowSpectatorJoined notifies co-spectators of a new arrival.
func FellowSpectatorJoined(userID int32) []byte {
	return newPacket(BanchoFellowSpectatorJoined, AppendInt32(nil, userID))
}

// FellowSpectatorLeft notifies co-spectators of a departure.
func FellowSpectatorLeft(userID int32) []byte {
	return newPacket(BanchoFellowSpectatorLeft, AppendInt32(nil, userID))
}

// SpectatorCantSpectate tells the host a spectator lacks the beatmap.
func SpectatorCantSpectate(userID int32) []byte {
	return newPacket(BanchoSpectatorCantSpectate, AppendInt32(nil, userID))
}

// SpectateFramesRaw relays an already-encoded replay frame bundle.
func SpectateFramesRaw(frames []byte) []byte {
	return newPacket(BanchoSpectateFrames, frames)
}

// ChannelInfo advertises a chat channel and its member count.
func ChannelInfo(name, topic string, memberCount int16) []byte {
	p := AppendString(nil, name)
	p = AppendString(p, topic)
	p = AppendInt16(p, memberCount)
	return newPacket(BanchoChannelInfo, p)
}

// ChannelInfoEnd terminates the channel listing of the login train.
func ChannelInfoEnd() []byte {
	return emptyPacket(BanchoChannelInfoEnd)
}

// ChannelJoinSuccess confirms a channel join.
func ChannelJoinSuccess(name string) []byte {
	return newPacket(BanchoChannelJoinSuccess, AppendString(nil, name))
}

// ChannelKick removes the client from a channel.
func ChannelKick(name string) []byte {
	return newPacket(BanchoChannelKick, AppendString(nil, name))
}

// FriendsList sends the user's friend ids.
func FriendsList(ids []int32) []byte {
	return newPacket(BanchoFriendsList, AppendInt32List(nil, ids))
}

// MainMenuIcon sets the client's menu banner: "image_url|click_url".
func MainMenuIcon(icon string) []byte {
	return newPacket(BanchoMainMenuIcon, AppendString(nil, icon))
}

// SilenceEnd reports the remaining silence in seconds (0 = not silenced).
func SilenceEnd(seconds int32) []byte {
	return newPacket(BanchoSilenceEnd, AppendInt32(nil, seconds))
}

// UserSilenced announces that a user has been silenced.
func UserSilenced(userID int32) []byte {
	return newPacket(BanchoUserSilenced, AppendInt32(nil, userID))
}

// Privileges sends the client-side privilege bitmask.
func Privileges(privileges int32) []byte {
	return newPacket(BanchoPrivileges, AppendInt32(nil, privileges))
}

// UserPresenceSingle asks the client to request presence for one user.
func UserPresenceSingle(userID int32) []byte {
	return newPacket(BanchoUserPresenceSingle, AppendInt32(nil, userID))
}

// UserPresenceBundle asks the client to request presence for many users.
func UserPresenceBundle(ids []int32) []byte {
	return newPacket(BanchoUserPresenceBundle, AppendInt32List(nil, ids))
}

// Restart instructs the client to disconnect and log in again after the
// given delay in milliseconds.
func Restart(delayMillis int32) []byte {
	return newPacket(BanchoRestart, AppendInt32(nil, delayMillis))
}

// Rtx flashes an alert message over the client.
func Rtx(msg string) []byte {
	return newPacket(BanchoRtx, AppendString(nil, msg))
}

// AccountRestricted informs the client its account is restricted.
func AccountRestricted() []byte {
	return emptyPacket(BanchoAccountRestricted)
}

// GetAttention flashes the client window.
func GetAttention() []byte {
	return emptyPacket(BanchoGetAttention)
}

// UserDmBlocked reports that the target only accepts friend PMs.
func UserDmBlocked(target string) []byte {
	return newPacket(BanchoUserDmBlocked,
		AppendMessage(nil, Message{Target: target}))
}

// TargetIsSilenced reports that the PM target is silenced.
func TargetIsSilenced(target string) []byte {
	return newPacket(BanchoTargetIsSilenced,
		AppendMessage(nil, Message{Target: target}))
}

// MatchUpdate broadcasts the current match state to its members.
func MatchUpdate(m MatchData) []byte {
	return newPacket(BanchoUpdateMatch, AppendMatchData(nil, m))
}

// MatchScore relays one in-match score frame.
func MatchScore(f ScoreFrame) []byte {
	return newPacket(BanchoMatchScoreUpdate, AppendScoreFrame(nil, f))
}
