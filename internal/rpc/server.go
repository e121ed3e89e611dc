package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gobancho/internal/service"
	"github.com/dantte-lp/gobancho/internal/state"
)

// ErrSessionNotFound is returned by lookups that resolve nothing.
var ErrSessionNotFound = errors.New("session not found")

// subscriberChSize buffers each watcher so a slow consumer drops events
// instead of stalling the fan-out loop.
const subscriberChSize = 64

// Server exposes the session state engine over ConnectRPC.
//
// Each procedure is a thin adapter between the wire types and the
// store; no business logic lives here.
type Server struct {
	store    *state.Store
	queue    *state.NotifyQueue
	verifier service.Verifier
	logger   *slog.Logger

	subMu   sync.Mutex
	subs    map[int]chan state.SessionEvent
	nextSub int
}

// NewServer creates the state RPC server.
func NewServer(store *state.Store, queue *state.NotifyQueue, verifier service.Verifier, logger *slog.Logger) *Server {
	return &Server{
		store:    store,
		queue:    queue,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "rpc.server")),
		subs:     make(map[int]chan state.SessionEvent),
	}
}

// Run pumps store lifecycle events to stream subscribers until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.store.Events():
			s.subMu.Lock()
			for _, ch := range s.subs {
				select {
				case ch <- ev:
				default:
				}
			}
			s.subMu.Unlock()
		}
	}
}

// subscribe registers a watcher channel.
func (s *Server) subscribe() (int, <-chan state.SessionEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan state.SessionEvent, subscriberChSize)
	s.subs[id] = ch
	return id, ch
}

// unsubscribe removes a watcher channel.
func (s *Server) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subs, id)
}

// Register mounts every procedure on mux. The JSON codec is always
// registered alongside any caller-provided handler options.
func (s *Server) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux.Handle(ProcGetSession, connect.NewUnaryHandler(ProcGetSession, s.getSession, opts...))
	mux.Handle(ProcListSessions, connect.NewUnaryHandler(ProcListSessions, s.listSessions, opts...))
	mux.Handle(ProcDeleteSession, connect.NewUnaryHandler(ProcDeleteSession, s.deleteSession, opts...))
	mux.Handle(ProcCheckUserToken, connect.NewUnaryHandler(ProcCheckUserToken, s.checkUserToken, opts...))
	mux.Handle(ProcPushPackets, connect.NewUnaryHandler(ProcPushPackets, s.pushPackets, opts...))
	mux.Handle(ProcDequeuePackets, connect.NewUnaryHandler(ProcDequeuePackets, s.dequeuePackets, opts...))
	mux.Handle(ProcBroadcastNotify, connect.NewUnaryHandler(ProcBroadcastNotify, s.broadcastNotify, opts...))
	mux.Handle(ProcWatchSessionEvents, connect.NewServerStreamHandler(ProcWatchSessionEvents, s.watchSessionEvents, opts...))
}

// getSession resolves one session by any of its keys.
func (s *Server) getSession(_ context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[GetSessionResponse], error) {
	q, err := req.Msg.Query.ToQuery()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	sess, ok := s.store.Get(q)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound,
			fmt.Errorf("get session %s: %w", q, ErrSessionNotFound))
	}
	return connect.NewResponse(&GetSessionResponse{Session: SessionDataFrom(sess)}), nil
}

// listSessions returns every live session.
func (s *Server) listSessions(_ context.Context, _ *connect.Request[ListSessionsRequest]) (*connect.Response[ListSessionsResponse], error) {
	sessions := s.store.Snapshot()
	out := make([]SessionData, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionDataFrom(sess))
	}
	return connect.NewResponse(&ListSessionsResponse{Sessions: out}), nil
}

// deleteSession removes a session through the normal delete path.
func (s *Server) deleteSession(ctx context.Context, req *connect.Request[DeleteSessionRequest]) (*connect.Response[DeleteSessionResponse], error) {
	q, err := req.Msg.Query.ToQuery()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	removed := s.store.Delete(q)
	if removed != nil {
		s.logger.InfoContext(ctx, "session deleted via rpc",
			slog.String("session_id", removed.ID.String()),
			slog.Int("user_id", int(removed.UserID)),
		)
	}
	return connect.NewResponse(&DeleteSessionResponse{Deleted: removed != nil}), nil
}

// checkUserToken verifies the token signature and confirms a live
// session for (user_id, session_id).
func (s *Server) checkUserToken(ctx context.Context, req *connect.Request[CheckUserTokenRequest]) (*connect.Response[CheckUserTokenResponse], error) {
	msg := req.Msg
	payload := fmt.Sprintf("%d.%s", msg.UserID, msg.SessionID)

	valid, err := s.verifier.Verify(ctx, payload, msg.Signature)
	if err != nil {
		if errors.Is(err, service.ErrDecodeHex) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if !valid {
		return connect.NewResponse(&CheckUserTokenResponse{IsValid: false}), nil
	}

	q := RawUserQuery{Kind: QueryKindSessionID, SessionID: msg.SessionID}
	query, err := q.ToQuery()
	if err != nil {
		return connect.NewResponse(&CheckUserTokenResponse{IsValid: false}), nil
	}
	sess, ok := s.store.Get(query)
	return connect.NewResponse(&CheckUserTokenResponse{
		IsValid: ok && sess.UserID == msg.UserID,
	}), nil
}

// pushPackets enqueues packets to a session's outbound queue.
func (s *Server) pushPackets(_ context.Context, req *connect.Request[PushPacketsRequest]) (*connect.Response[PushPacketsResponse], error) {
	q, err := req.Msg.Query.ToQuery()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	sess, ok := s.store.Get(q)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound,
			fmt.Errorf("push packets %s: %w", q, ErrSessionNotFound))
	}
	sess.Queue.Push(req.Msg.Packets)
	return connect.NewResponse(&PushPacketsResponse{Queued: sess.Queue.Len()}), nil
}

// dequeuePackets drains a session's outbound queue.
func (s *Server) dequeuePackets(_ context.Context, req *connect.Request[DequeuePacketsRequest]) (*connect.Response[DequeuePacketsResponse], error) {
	q, err := req.Msg.Query.ToQuery()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	sess, ok := s.store.Get(q)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound,
			fmt.Errorf("dequeue packets %s: %w", q, ErrSessionNotFound))
	}
	return connect.NewResponse(&DequeuePacketsResponse{Data: sess.Queue.DequeueAll()}), nil
}

// broadcastNotify pushes a packet batch onto the notify queue.
func (s *Server) broadcastNotify(_ context.Context, req *connect.Request[BroadcastNotifyRequest]) (*connect.Response[BroadcastNotifyResponse], error) {
	id := s.queue.PushExcluding(req.Msg.Packets, req.Msg.Excludes, nil)
	return connect.NewResponse(&BroadcastNotifyResponse{MessageID: id.String()}), nil
}

// watchSessionEvents streams session lifecycle events until the client
// disconnects.
func (s *Server) watchSessionEvents(ctx context.Context, req *connect.Request[WatchSessionEventsRequest], stream *connect.ServerStream[SessionEventMessage]) error {
	id, ch := s.subscribe()
	defer s.unsubscribe(id)

	if req.Msg.IncludeCurrent {
		for _, sess := range s.store.Snapshot() {
			msg := &SessionEventMessage{
				Type:      state.EventCreated.String(),
				SessionID: sess.ID.String(),
				UserID:    sess.UserID,
				Username:  sess.Username(),
				Timestamp: sess.CreatedAt,
			}
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send current session event: %w", err)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("watch session events: %w", ctx.Err())
		case ev := <-ch:
			msg := &SessionEventMessage{
				Type:      ev.Type.String(),
				SessionID: ev.SessionID.String(),
				UserID:    ev.UserID,
				Username:  ev.Username,
				Timestamp: ev.Timestamp,
			}
			if err := stream.Send(msg); err != nil {
				return fmt.Errorf("send session event: %w", err)
			}
		}
	}
}
