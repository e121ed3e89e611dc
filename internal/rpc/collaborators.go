package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/netip"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gobancho/internal/bancho"
	"github.com/dantte-lp/gobancho/internal/service"
)

// RegisterCollaborators mounts the collaborator contracts over the
// given implementations. In the standalone deployment the daemon serves
// these itself; in the fleet deployment each peer microservice mounts
// only its own.
func RegisterCollaborators(
	mux *http.ServeMux,
	users service.UserRepository,
	signature service.SignatureService,
	geoip service.GeoIPService,
	chat service.ChatService,
	opts ...connect.HandlerOption,
) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	registerUserHandlers(mux, users, opts)
	registerSignatureHandlers(mux, signature, opts)
	registerGeoipHandlers(mux, geoip, opts)
	registerChatHandlers(mux, chat, opts)
}

// mapServiceError converts service sentinels to Connect codes.
func mapServiceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrGeoNotFound),
		errors.Is(err, service.ErrChannelNotFound),
		errors.Is(err, service.ErrChatSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, service.ErrNotSupported):
		return connect.NewError(connect.CodeUnimplemented, err)
	case errors.Is(err, service.ErrDecodeHex):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func registerUserHandlers(mux *http.ServeMux, users service.UserRepository, opts []connect.HandlerOption) {
	mux.Handle(ProcFindByUsername, connect.NewUnaryHandler(ProcFindByUsername,
		func(ctx context.Context, req *connect.Request[FindByUsernameRequest]) (*connect.Response[FindByUsernameResponse], error) {
			row, err := users.FindByUsername(ctx, req.Msg.Name, req.Msg.NameUnicode)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&FindByUsernameResponse{User: row}), nil
		}, opts...))

	mux.Handle(ProcChangePassword, connect.NewUnaryHandler(ProcChangePassword,
		func(ctx context.Context, req *connect.Request[ChangePasswordRequest]) (*connect.Response[ChangePasswordResponse], error) {
			if err := users.ChangeUserPassword(ctx, req.Msg.UserID, req.Msg.Argon2Hash); err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChangePasswordResponse{}), nil
		}, opts...))
}

func registerSignatureHandlers(mux *http.ServeMux, signature service.SignatureService, opts []connect.HandlerOption) {
	mux.Handle(ProcSignMessage, connect.NewUnaryHandler(ProcSignMessage,
		func(ctx context.Context, req *connect.Request[SignMessageRequest]) (*connect.Response[SignMessageResponse], error) {
			sig, err := signature.Sign(ctx, req.Msg.Message)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&SignMessageResponse{Signature: sig}), nil
		}, opts...))

	mux.Handle(ProcVerifyMessage, connect.NewUnaryHandler(ProcVerifyMessage,
		func(ctx context.Context, req *connect.Request[VerifyMessageRequest]) (*connect.Response[VerifyMessageResponse], error) {
			ok, err := signature.Verify(ctx, req.Msg.Message, req.Msg.Signature)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&VerifyMessageResponse{IsValid: ok}), nil
		}, opts...))

	mux.Handle(ProcReloadFromPem, connect.NewUnaryHandler(ProcReloadFromPem,
		func(ctx context.Context, req *connect.Request[ReloadFromPemRequest]) (*connect.Response[ReloadFromPemResponse], error) {
			var err error
			if req.Msg.Path != "" {
				err = signature.ReloadFromPemFile(ctx, req.Msg.Path)
			} else {
				err = signature.ReloadFromPem(ctx, req.Msg.Pem)
			}
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ReloadFromPemResponse{}), nil
		}, opts...))

	mux.Handle(ProcGetPublicKey, connect.NewUnaryHandler(ProcGetPublicKey,
		func(ctx context.Context, _ *connect.Request[GetPublicKeyRequest]) (*connect.Response[GetPublicKeyResponse], error) {
			key, err := signature.PublicKey(ctx)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&GetPublicKeyResponse{PublicKey: key}), nil
		}, opts...))
}

func registerGeoipHandlers(mux *http.ServeMux, geoip service.GeoIPService, opts []connect.HandlerOption) {
	mux.Handle(ProcGeoLookup, connect.NewUnaryHandler(ProcGeoLookup,
		func(ctx context.Context, req *connect.Request[GeoLookupRequest]) (*connect.Response[GeoLookupResponse], error) {
			addr, err := netip.ParseAddr(req.Msg.IP)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			loc, err := geoip.Lookup(ctx, addr)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&GeoLookupResponse{Location: loc}), nil
		}, opts...))
}

func registerChatHandlers(mux *http.ServeMux, chat service.ChatService, opts []connect.HandlerOption) {
	mux.Handle(ProcChatChannels, connect.NewUnaryHandler(ProcChatChannels,
		func(ctx context.Context, _ *connect.Request[ChatChannelsRequest]) (*connect.Response[ChatChannelsResponse], error) {
			channels, err := chat.Channels(ctx)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChatChannelsResponse{Channels: channels}), nil
		}, opts...))

	mux.Handle(ProcChatJoinChannel, connect.NewUnaryHandler(ProcChatJoinChannel,
		func(ctx context.Context, req *connect.Request[ChatJoinRequest]) (*connect.Response[ChatJoinResponse], error) {
			packets, err := chat.JoinChannel(ctx, req.Msg.UserID, req.Msg.Channel)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChatJoinResponse{Packets: packets}), nil
		}, opts...))

	mux.Handle(ProcChatPartChannel, connect.NewUnaryHandler(ProcChatPartChannel,
		func(ctx context.Context, req *connect.Request[ChatPartRequest]) (*connect.Response[ChatPartResponse], error) {
			if err := chat.PartChannel(ctx, req.Msg.UserID, req.Msg.Channel); err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChatPartResponse{}), nil
		}, opts...))

	mux.Handle(ProcChatSendMessage, connect.NewUnaryHandler(ProcChatSendMessage,
		func(ctx context.Context, req *connect.Request[ChatSendRequest]) (*connect.Response[ChatSendResponse], error) {
			m := bancho.Message{Content: req.Msg.Content, Target: req.Msg.Target}
			if err := chat.SendMessage(ctx, req.Msg.SenderID, req.Msg.SenderName, m); err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChatSendResponse{}), nil
		}, opts...))

	mux.Handle(ProcChatDequeuePackets, connect.NewUnaryHandler(ProcChatDequeuePackets,
		func(ctx context.Context, req *connect.Request[ChatDequeueRequest]) (*connect.Response[ChatDequeueResponse], error) {
			data, err := chat.DequeueChatPackets(ctx, req.Msg.UserID)
			if err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChatDequeueResponse{Data: data}), nil
		}, opts...))

	mux.Handle(ProcChatLogout, connect.NewUnaryHandler(ProcChatLogout,
		func(ctx context.Context, req *connect.Request[ChatLogoutRequest]) (*connect.Response[ChatLogoutResponse], error) {
			if err := chat.Logout(ctx, req.Msg.UserID); err != nil {
				return nil, mapServiceError(err)
			}
			return connect.NewResponse(&ChatLogoutResponse{}), nil
		}, opts...))
}
