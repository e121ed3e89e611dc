package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dantte-lp/gobancho/internal/bancho"
	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
)

// packetHandler processes one client packet for a session. Handlers
// enqueue side effects to target session queues and the notify queue;
// they never write to the HTTP response directly.
type packetHandler func(ctx context.Context, sess *state.Session, r *bancho.PayloadReader) error

// handlerTable maps client opcodes to their handlers. Pings are absent
// on purpose: they only bump last_active, which the request path does
// anyway.
func (g *Gateway) handlerTable() map[bancho.PacketID]packetHandler {
	return map[bancho.PacketID]packetHandler{
		bancho.OsuChangeAction:            g.handleChangeAction,
		bancho.OsuRequestStatusUpdate:     g.handleRequestStatusUpdate,
		bancho.OsuLogout:                  g.handleLogout,
		bancho.OsuSendPublicMessage:       g.handleSendMessage,
		bancho.OsuSendPrivateMessage:      g.handleSendMessage,
		bancho.OsuChannelJoin:             g.handleChannelJoin,
		bancho.OsuChannelPart:             g.handleChannelPart,
		bancho.OsuStartSpectating:         g.handleStartSpectating,
		bancho.OsuStopSpectating:          g.handleStopSpectating,
		bancho.OsuCantSpectate:            g.handleCantSpectate,
		bancho.OsuSpectateFrames:          g.handleSpectateFrames,
		bancho.OsuUserStatsRequest:        g.handleUserStatsRequest,
		bancho.OsuUserPresenceRequest:     g.handleUserPresenceRequest,
		bancho.OsuUserPresenceRequestAll:  g.handleUserPresenceRequestAll,
		bancho.OsuToggleBlockNonFriendDms: g.handleToggleBlockNonFriendDms,
		bancho.OsuReceiveUpdates:          g.handleReceiveUpdates,
		bancho.OsuFriendAdd:               g.handleFriendChange,
		bancho.OsuFriendRemove:            g.handleFriendChange,
		bancho.OsuJoinLobby:               g.handleJoinLobby,
		bancho.OsuPartLobby:               g.handlePartLobby,
		bancho.OsuSetAwayMessage:          g.handleSetAwayMessage,
	}
}

// dispatch runs the batch of client packets through the handler table.
// A malformed payload drops the offending packet and processing
// continues with the next one.
func (g *Gateway) dispatch(ctx context.Context, sess *state.Session, body []byte) {
	reader := bancho.NewPacketReader(body)
	for {
		pkt, ok := reader.Next()
		if !ok {
			break
		}

		g.metrics.PacketsIn.WithLabelValues(pkt.ID.String()).Inc()

		if pkt.ID == bancho.OsuPing {
			continue
		}
		if pkt.UnknownOpcode() {
			g.logger.Debug("skipping unknown opcode",
				slog.Uint64("opcode", uint64(pkt.ID)),
				slog.Int("user_id", int(sess.UserID)),
			)
			continue
		}

		handler, ok := g.handlers[pkt.ID]
		if !ok {
			g.logger.Debug("no handler for packet",
				slog.String("opcode", pkt.ID.String()),
				slog.Int("user_id", int(sess.UserID)),
			)
			continue
		}

		if err := handler(ctx, sess, bancho.NewPayloadReader(pkt.Payload)); err != nil {
			g.logger.Warn("packet handler failed, dropping packet",
				slog.String("opcode", pkt.ID.String()),
				slog.Int("user_id", int(sess.UserID)),
				slog.String("error", err.Error()),
			)
		}

		// A logout tears the session down; everything after it in the
		// batch is addressed to a dead session.
		if pkt.ID == bancho.OsuLogout {
			break
		}
	}

	if err := reader.Err(); err != nil {
		g.logger.Warn("packet batch truncated",
			slog.Int("user_id", int(sess.UserID)),
			slog.String("error", err.Error()),
		)
	}
}

// -------------------------------------------------------------------------
// Status + Presence
// -------------------------------------------------------------------------

// handleChangeAction updates the session's game status and broadcasts
// the new stats.
func (g *Gateway) handleChangeAction(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	var gs state.GameStatus
	var err error
	if gs.Action, err = r.ReadUint8(); err != nil {
		return err
	}
	if gs.Info, err = r.ReadString(); err != nil {
		return err
	}
	if gs.BeatmapMD5, err = r.ReadString(); err != nil {
		return err
	}
	if gs.Mods, err = r.ReadInt32(); err != nil {
		return err
	}
	if gs.Mode, err = r.ReadUint8(); err != nil {
		return err
	}
	if gs.BeatmapID, err = r.ReadInt32(); err != nil {
		return err
	}
	sess.SetStatus(gs)

	g.notify.Push(bancho.StatsOf(sess.StatsSnapshot()), g.sessionAlive(sess))
	return nil
}

// handleRequestStatusUpdate queues the session's own stats back to it.
func (g *Gateway) handleRequestStatusUpdate(_ context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	sess.Queue.Push(bancho.StatsOf(sess.StatsSnapshot()))
	return nil
}

// handleReceiveUpdates sets the presence filter.
func (g *Gateway) handleReceiveUpdates(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	v, err := r.ReadInt32()
	if err != nil {
		return err
	}
	sess.SetPresenceFilter(state.PresenceFilter(v))
	return nil
}

// handleToggleBlockNonFriendDms flips the friends-only PM flag.
func (g *Gateway) handleToggleBlockNonFriendDms(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	v, err := r.ReadInt32()
	if err != nil {
		return err
	}
	sess.SetOnlyFriendPM(v != 0)
	return nil
}

// handleUserStatsRequest queues the stats of each requested user.
func (g *Gateway) handleUserStatsRequest(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	ids, err := r.ReadInt32List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if target, ok := g.store.Get(state.ByUserID(id)); ok {
			sess.Queue.Push(bancho.StatsOf(target.StatsSnapshot()))
		}
	}
	return nil
}

// handleUserPresenceRequest queues the presence of each requested user.
func (g *Gateway) handleUserPresenceRequest(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	ids, err := r.ReadInt32List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if target, ok := g.store.Get(state.ByUserID(id)); ok {
			sess.Queue.Push(bancho.PresenceOf(target.Presence()))
		}
	}
	return nil
}

// handleUserPresenceRequestAll queues the presence of every online user.
func (g *Gateway) handleUserPresenceRequestAll(_ context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	for _, target := range g.store.Snapshot() {
		if target.UserID == sess.UserID {
			continue
		}
		sess.Queue.Push(bancho.PresenceOf(target.Presence()))
	}
	return nil
}

// -------------------------------------------------------------------------
// Chat
// -------------------------------------------------------------------------

// handleSendMessage routes public and private chat through the chat
// service. Offline or blocked targets surface as client notifications.
func (g *Gateway) handleSendMessage(ctx context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	m, err := r.ReadMessage()
	if err != nil {
		return err
	}

	if target, ok := g.store.Get(state.ByUsername(m.Target)); ok && target.OnlyFriendPM() {
		sess.Queue.Push(bancho.UserDmBlocked(m.Target))
		return nil
	}

	if err := g.chat.SendMessage(ctx, sess.UserID, sess.Username(), m); err != nil {
		if errors.Is(err, service.ErrChatSessionNotFound) || errors.Is(err, service.ErrChannelNotFound) {
			sess.Queue.Push(bancho.Notification("Could not deliver message to " + m.Target + "."))
			return nil
		}
		return err
	}
	return nil
}

// handleChannelJoin subscribes the session to a channel.
func (g *Gateway) handleChannelJoin(ctx context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	channel, err := r.ReadString()
	if err != nil {
		return err
	}
	packets, err := g.chat.JoinChannel(ctx, sess.UserID, channel)
	if err != nil {
		if errors.Is(err, service.ErrChannelNotFound) {
			sess.Queue.Push(bancho.ChannelKick(channel))
			return nil
		}
		return err
	}
	sess.Queue.Push(packets)
	return nil
}

// handleChannelPart unsubscribes the session from a channel.
func (g *Gateway) handleChannelPart(ctx context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	channel, err := r.ReadString()
	if err != nil {
		return err
	}
	if err := g.chat.PartChannel(ctx, sess.UserID, channel); err != nil && !errors.Is(err, service.ErrChannelNotFound) {
		return err
	}
	return nil
}

// -------------------------------------------------------------------------
// Spectating
// -------------------------------------------------------------------------

// handleStartSpectating attaches the session to a host's spectators.
func (g *Gateway) handleStartSpectating(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	hostID, err := r.ReadInt32()
	if err != nil {
		return err
	}
	host, ok := g.store.Get(state.ByUserID(hostID))
	if !ok {
		return nil
	}

	g.specMu.Lock()
	if g.spectators[hostID] == nil {
		g.spectators[hostID] = make(map[int32]struct{})
	}
	fellows := make([]int32, 0, len(g.spectators[hostID]))
	for id := range g.spectators[hostID] {
		fellows = append(fellows, id)
	}
	g.spectators[hostID][sess.UserID] = struct{}{}
	g.specMu.Unlock()

	host.Queue.Push(bancho.SpectatorJoined(sess.UserID))
	for _, id := range fellows {
		if fellow, ok := g.store.Get(state.ByUserID(id)); ok {
			fellow.Queue.Push(bancho.FellowSpectatorJoined(sess.UserID))
		}
	}
	return nil
}

// handleStopSpectating detaches the session from its host.
func (g *Gateway) handleStopSpectating(_ context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	g.detachSpectator(sess.UserID)
	return nil
}

// handleCantSpectate reports a missing beatmap to the host.
func (g *Gateway) handleCantSpectate(_ context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	g.specMu.Lock()
	var hostID int32 = -1
	for host, specs := range g.spectators {
		if _, ok := specs[sess.UserID]; ok {
			hostID = host
			break
		}
	}
	g.specMu.Unlock()

	if hostID < 0 {
		return nil
	}
	if host, ok := g.store.Get(state.ByUserID(hostID)); ok {
		host.Queue.Push(bancho.SpectatorCantSpectate(sess.UserID))
	}
	return nil
}

// handleSpectateFrames relays replay frames to the sender's spectators.
func (g *Gateway) handleSpectateFrames(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	frames := r.Rest()

	g.specMu.Lock()
	specs := make([]int32, 0, len(g.spectators[sess.UserID]))
	for id := range g.spectators[sess.UserID] {
		specs = append(specs, id)
	}
	g.specMu.Unlock()

	if len(specs) == 0 {
		return nil
	}
	packet := bancho.SpectateFramesRaw(frames)
	for _, id := range specs {
		if spec, ok := g.store.Get(state.ByUserID(id)); ok {
			spec.Queue.Push(packet)
		}
	}
	return nil
}

// detachSpectator removes userID from whichever host it spectates and
// notifies the host and remaining fellows.
func (g *Gateway) detachSpectator(userID int32) {
	g.specMu.Lock()
	var hostID int32 = -1
	var fellows []int32
	for host, specs := range g.spectators {
		if _, ok := specs[userID]; !ok {
			continue
		}
		delete(specs, userID)
		hostID = host
		for id := range specs {
			fellows = append(fellows, id)
		}
		if len(specs) == 0 {
			delete(g.spectators, host)
		}
		break
	}
	g.specMu.Unlock()

	if hostID < 0 {
		return
	}
	if host, ok := g.store.Get(state.ByUserID(hostID)); ok {
		host.Queue.Push(bancho.SpectatorLeft(userID))
	}
	for _, id := range fellows {
		if fellow, ok := g.store.Get(state.ByUserID(id)); ok {
			fellow.Queue.Push(bancho.FellowSpectatorLeft(userID))
		}
	}
}

// -------------------------------------------------------------------------
// Lobby + Friends + Logout
// -------------------------------------------------------------------------

// handleJoinLobby marks the session as a lobby viewer. Match listings
// are owned by the matchmaking subsystem; nothing to replay here.
func (g *Gateway) handleJoinLobby(_ context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	g.specMu.Lock()
	g.lobby[sess.UserID] = struct{}{}
	g.specMu.Unlock()
	return nil
}

// handlePartLobby clears the lobby flag.
func (g *Gateway) handlePartLobby(_ context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	g.specMu.Lock()
	delete(g.lobby, sess.UserID)
	g.specMu.Unlock()
	return nil
}

// handleFriendChange acknowledges a friend list mutation. Persistence
// belongs to the user repository service.
func (g *Gateway) handleFriendChange(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	friendID, err := r.ReadInt32()
	if err != nil {
		return err
	}
	g.logger.Debug("friend list change",
		slog.Int("user_id", int(sess.UserID)),
		slog.Int("friend_id", int(friendID)),
	)
	return nil
}

// handleSetAwayMessage records the away message.
func (g *Gateway) handleSetAwayMessage(_ context.Context, sess *state.Session, r *bancho.PayloadReader) error {
	m, err := r.ReadMessage()
	if err != nil {
		return err
	}
	if m.Content == "" {
		sess.Queue.Push(bancho.Notification("Away message cleared."))
		return nil
	}
	sess.Queue.Push(bancho.Notification("Away message set: " + m.Content))
	return nil
}

// handleLogout tears the session down: store delete, chat logout,
// spectator detach, and a logout broadcast that skips the user.
func (g *Gateway) handleLogout(ctx context.Context, sess *state.Session, _ *bancho.PayloadReader) error {
	// The client sends an i32 flag first; its value is irrelevant.
	g.detachSpectator(sess.UserID)

	if err := g.chat.Logout(ctx, sess.UserID); err != nil {
		g.logger.Warn("chat logout failed",
			slog.Int("user_id", int(sess.UserID)),
			slog.String("error", err.Error()),
		)
	}

	g.specMu.Lock()
	delete(g.lobby, sess.UserID)
	g.specMu.Unlock()

	if removed := g.store.Delete(state.BySessionID(sess.ID)); removed != nil {
		g.notify.PushExcluding(bancho.UserLogoutNotice(removed.UserID), []int32{removed.UserID}, nil)
	}
	return nil
}
