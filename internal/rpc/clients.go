package rpc

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gobancho/internal/bancho"
	"github.com/dantte-lp/gobancho/internal/service"
)

// Remote ConnectRPC clients for the collaborator contracts. Each
// implements the matching interface from internal/service, so callers
// pick local or remote per service at wiring time and the rest of the
// code never knows the difference.

// clientOpts are the shared options for every collaborator client.
func clientOpts(extra ...connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, extra...)
}

// mapClientError converts a Connect error code back into the matching
// service sentinel so errors.Is works across the transport.
func mapClientError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if connect.CodeOf(err) == connect.CodeNotFound && notFound != nil {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return err
}

// -------------------------------------------------------------------------
// User Repository Client
// -------------------------------------------------------------------------

// RemoteUserRepository calls a peer user service.
type RemoteUserRepository struct {
	find   *connect.Client[FindByUsernameRequest, FindByUsernameResponse]
	change *connect.Client[ChangePasswordRequest, ChangePasswordResponse]
}

var _ service.UserRepository = (*RemoteUserRepository)(nil)

// NewRemoteUserRepository creates a client against baseURL.
func NewRemoteUserRepository(httpClient *http.Client, baseURL string, opts ...connect.ClientOption) *RemoteUserRepository {
	o := clientOpts(opts...)
	return &RemoteUserRepository{
		find:   connect.NewClient[FindByUsernameRequest, FindByUsernameResponse](httpClient, baseURL+ProcFindByUsername, o...),
		change: connect.NewClient[ChangePasswordRequest, ChangePasswordResponse](httpClient, baseURL+ProcChangePassword, o...),
	}
}

// FindByUsername implements service.UserRepository.
func (r *RemoteUserRepository) FindByUsername(ctx context.Context, name, nameUnicode string) (service.UserRow, error) {
	resp, err := r.find.CallUnary(ctx, connect.NewRequest(&FindByUsernameRequest{
		Name:        name,
		NameUnicode: nameUnicode,
	}))
	if err != nil {
		return service.UserRow{}, mapClientError(err, service.ErrUserNotFound)
	}
	return resp.Msg.User, nil
}

// ChangeUserPassword implements service.UserRepository.
func (r *RemoteUserRepository) ChangeUserPassword(ctx context.Context, userID int32, argon2Hash string) error {
	_, err := r.change.CallUnary(ctx, connect.NewRequest(&ChangePasswordRequest{
		UserID:     userID,
		Argon2Hash: argon2Hash,
	}))
	if err == nil {
		return nil
	}
	if connect.CodeOf(err) == connect.CodeUnimplemented {
		return fmt.Errorf("change password for user %d: %w", userID, service.ErrNotSupported)
	}
	return err
}

// -------------------------------------------------------------------------
// Signature Client
// -------------------------------------------------------------------------

// RemoteSignature calls a peer signature service.
type RemoteSignature struct {
	sign   *connect.Client[SignMessageRequest, SignMessageResponse]
	verify *connect.Client[VerifyMessageRequest, VerifyMessageResponse]
	reload *connect.Client[ReloadFromPemRequest, ReloadFromPemResponse]
	pubkey *connect.Client[GetPublicKeyRequest, GetPublicKeyResponse]
}

var _ service.SignatureService = (*RemoteSignature)(nil)

// NewRemoteSignature creates a client against baseURL.
func NewRemoteSignature(httpClient *http.Client, baseURL string, opts ...connect.ClientOption) *RemoteSignature {
	o := clientOpts(opts...)
	return &RemoteSignature{
		sign:   connect.NewClient[SignMessageRequest, SignMessageResponse](httpClient, baseURL+ProcSignMessage, o...),
		verify: connect.NewClient[VerifyMessageRequest, VerifyMessageResponse](httpClient, baseURL+ProcVerifyMessage, o...),
		reload: connect.NewClient[ReloadFromPemRequest, ReloadFromPemResponse](httpClient, baseURL+ProcReloadFromPem, o...),
		pubkey: connect.NewClient[GetPublicKeyRequest, GetPublicKeyResponse](httpClient, baseURL+ProcGetPublicKey, o...),
	}
}

// Sign implements service.Signer.
func (r *RemoteSignature) Sign(ctx context.Context, message string) (string, error) {
	resp, err := r.sign.CallUnary(ctx, connect.NewRequest(&SignMessageRequest{Message: message}))
	if err != nil {
		return "", fmt.Errorf("remote sign: %w", err)
	}
	return resp.Msg.Signature, nil
}

// Verify implements service.Verifier.
func (r *RemoteSignature) Verify(ctx context.Context, message, signatureHex string) (bool, error) {
	resp, err := r.verify.CallUnary(ctx, connect.NewRequest(&VerifyMessageRequest{
		Message:   message,
		Signature: signatureHex,
	}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeInvalidArgument {
			return false, fmt.Errorf("remote verify: %w: %w", service.ErrDecodeHex, err)
		}
		return false, fmt.Errorf("remote verify: %w", err)
	}
	return resp.Msg.IsValid, nil
}

// ReloadFromPem implements service.KeyReloader.
func (r *RemoteSignature) ReloadFromPem(ctx context.Context, pemBytes []byte) error {
	_, err := r.reload.CallUnary(ctx, connect.NewRequest(&ReloadFromPemRequest{Pem: pemBytes}))
	return err
}

// ReloadFromPemFile implements service.KeyReloader.
func (r *RemoteSignature) ReloadFromPemFile(ctx context.Context, path string) error {
	_, err := r.reload.CallUnary(ctx, connect.NewRequest(&ReloadFromPemRequest{Path: path}))
	return err
}

// PublicKey implements service.PublicKeyProvider.
func (r *RemoteSignature) PublicKey(ctx context.Context) (string, error) {
	resp, err := r.pubkey.CallUnary(ctx, connect.NewRequest(&GetPublicKeyRequest{}))
	if err != nil {
		return "", fmt.Errorf("remote public key: %w", err)
	}
	return resp.Msg.PublicKey, nil
}

// -------------------------------------------------------------------------
// GeoIP Client
// -------------------------------------------------------------------------

// RemoteGeoIP calls a peer geoip service.
type RemoteGeoIP struct {
	lookup *connect.Client[GeoLookupRequest, GeoLookupResponse]
}

var _ service.GeoIPService = (*RemoteGeoIP)(nil)

// NewRemoteGeoIP creates a client against baseURL.
func NewRemoteGeoIP(httpClient *http.Client, baseURL string, opts ...connect.ClientOption) *RemoteGeoIP {
	return &RemoteGeoIP{
		lookup: connect.NewClient[GeoLookupRequest, GeoLookupResponse](httpClient, baseURL+ProcGeoLookup, clientOpts(opts...)...),
	}
}

// Lookup implements service.GeoIPService.
func (r *RemoteGeoIP) Lookup(ctx context.Context, ip netip.Addr) (service.Location, error) {
	resp, err := r.lookup.CallUnary(ctx, connect.NewRequest(&GeoLookupRequest{IP: ip.String()}))
	if err != nil {
		return service.Location{}, mapClientError(err, service.ErrGeoNotFound)
	}
	return resp.Msg.Location, nil
}

// -------------------------------------------------------------------------
// Chat Client
// -------------------------------------------------------------------------

// RemoteChat calls a peer chat service.
type RemoteChat struct {
	channels *connect.Client[ChatChannelsRequest, ChatChannelsResponse]
	join     *connect.Client[ChatJoinRequest, ChatJoinResponse]
	part     *connect.Client[ChatPartRequest, ChatPartResponse]
	send     *connect.Client[ChatSendRequest, ChatSendResponse]
	dequeue  *connect.Client[ChatDequeueRequest, ChatDequeueResponse]
	logout   *connect.Client[ChatLogoutRequest, ChatLogoutResponse]
}

var _ service.ChatService = (*RemoteChat)(nil)

// NewRemoteChat creates a client against baseURL.
func NewRemoteChat(httpClient *http.Client, baseURL string, opts ...connect.ClientOption) *RemoteChat {
	o := clientOpts(opts...)
	return &RemoteChat{
		channels: connect.NewClient[ChatChannelsRequest, ChatChannelsResponse](httpClient, baseURL+ProcChatChannels, o...),
		join:     connect.NewClient[ChatJoinRequest, ChatJoinResponse](httpClient, baseURL+ProcChatJoinChannel, o...),
		part:     connect.NewClient[ChatPartRequest, ChatPartResponse](httpClient, baseURL+ProcChatPartChannel, o...),
		send:     connect.NewClient[ChatSendRequest, ChatSendResponse](httpClient, baseURL+ProcChatSendMessage, o...),
		dequeue:  connect.NewClient[ChatDequeueRequest, ChatDequeueResponse](httpClient, baseURL+ProcChatDequeuePackets, o...),
		logout:   connect.NewClient[ChatLogoutRequest, ChatLogoutResponse](httpClient, baseURL+ProcChatLogout, o...),
	}
}

// Channels implements service.ChatService.
func (r *RemoteChat) Channels(ctx context.Context) ([]service.ChannelSummary, error) {
	resp, err := r.channels.CallUnary(ctx, connect.NewRequest(&ChatChannelsRequest{}))
	if err != nil {
		return nil, fmt.Errorf("remote chat channels: %w", err)
	}
	return resp.Msg.Channels, nil
}

// JoinChannel implements service.ChatService.
func (r *RemoteChat) JoinChannel(ctx context.Context, userID int32, channel string) ([]byte, error) {
	resp, err := r.join.CallUnary(ctx, connect.NewRequest(&ChatJoinRequest{UserID: userID, Channel: channel}))
	if err != nil {
		return nil, mapClientError(err, service.ErrChannelNotFound)
	}
	return resp.Msg.Packets, nil
}

// PartChannel implements service.ChatService.
func (r *RemoteChat) PartChannel(ctx context.Context, userID int32, channel string) error {
	_, err := r.part.CallUnary(ctx, connect.NewRequest(&ChatPartRequest{UserID: userID, Channel: channel}))
	return mapClientError(err, service.ErrChannelNotFound)
}

// SendMessage implements service.ChatService.
func (r *RemoteChat) SendMessage(ctx context.Context, senderID int32, senderName string, m bancho.Message) error {
	_, err := r.send.CallUnary(ctx, connect.NewRequest(&ChatSendRequest{
		SenderID:   senderID,
		SenderName: senderName,
		Content:    m.Content,
		Target:     m.Target,
	}))
	return mapClientError(err, service.ErrChatSessionNotFound)
}

// DequeueChatPackets implements service.ChatService.
func (r *RemoteChat) DequeueChatPackets(ctx context.Context, userID int32) ([]byte, error) {
	resp, err := r.dequeue.CallUnary(ctx, connect.NewRequest(&ChatDequeueRequest{UserID: userID}))
	if err != nil {
		return nil, mapClientError(err, service.ErrChatSessionNotFound)
	}
	return resp.Msg.Data, nil
}

// Logout implements service.ChatService.
func (r *RemoteChat) Logout(ctx context.Context, userID int32) error {
	_, err := r.logout.CallUnary(ctx, connect.NewRequest(&ChatLogoutRequest{UserID: userID}))
	return err
}
