package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dantte-lp/gobancho/internal/bancho"
)

// -------------------------------------------------------------------------
// Chat Errors
// -------------------------------------------------------------------------

var (
	// ErrChannelNotFound indicates the named channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChatSessionNotFound indicates the user has no chat session.
	ErrChatSessionNotFound = errors.New("chat session not found")
)

// -------------------------------------------------------------------------
// Chat Contract
// -------------------------------------------------------------------------

// ChannelSummary describes one public channel for the login listing.
type ChannelSummary struct {
	Name        string `json:"name"`
	Topic       string `json:"topic"`
	MemberCount int16  `json:"member_count"`
	AutoJoin    bool   `json:"auto_join"`
}

// ChatService owns channels and chat routing. Delivery is pull-based:
// handlers enqueue packets per recipient and the gateway drains them
// with DequeueChatPackets on every poll.
type ChatService interface {
	// Channels lists the public channels for the login packet train.
	Channels(ctx context.Context) ([]ChannelSummary, error)

	// JoinChannel subscribes userID and returns the packets to queue to
	// the joining user (join success + updated channel info).
	JoinChannel(ctx context.Context, userID int32, channel string) ([]byte, error)

	// PartChannel unsubscribes userID.
	PartChannel(ctx context.Context, userID int32, channel string) error

	// SendMessage routes m from senderID. Public targets fan out to the
	// channel's other members, private targets to the named user.
	SendMessage(ctx context.Context, senderID int32, senderName string, m bancho.Message) error

	// DequeueChatPackets drains the pending chat packets for userID.
	DequeueChatPackets(ctx context.Context, userID int32) ([]byte, error)

	// Logout drops the user from every channel and clears their queue.
	Logout(ctx context.Context, userID int32) error
}

// -------------------------------------------------------------------------
// Local Implementation
// -------------------------------------------------------------------------

// channelState is one channel's membership.
type channelState struct {
	name     string
	topic    string
	autoJoin bool
	members  map[int32]struct{}
}

// LocalChat is the in-process chat service: public channels, private
// messages, and per-user outbound packet buffers.
type LocalChat struct {
	mu       sync.Mutex
	channels map[string]*channelState
	pending  map[int32][]byte
	resolve  func(username string) (int32, bool)
}

// NewLocalChat creates the service with the standard public channels.
// resolve maps a username to a live user id for private messages; nil
// disables PM routing.
func NewLocalChat(resolve func(username string) (int32, bool)) *LocalChat {
	c := &LocalChat{
		channels: make(map[string]*channelState),
		pending:  make(map[int32][]byte),
		resolve:  resolve,
	}
	for _, ch := range []struct {
		name, topic string
		autoJoin    bool
	}{
		{"#osu", "General discussion.", true},
		{"#announce", "Announcements from the server.", true},
		{"#lobby", "Multiplayer lobby chatter.", false},
	} {
		c.channels[ch.name] = &channelState{
			name:     ch.name,
			topic:    ch.topic,
			autoJoin: ch.autoJoin,
			members:  make(map[int32]struct{}),
		}
	}
	return c
}

// Channels implements ChatService.
func (c *LocalChat) Channels(_ context.Context) ([]ChannelSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelSummary, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ChannelSummary{
			Name:        ch.name,
			Topic:       ch.topic,
			MemberCount: int16(len(ch.members)),
			AutoJoin:    ch.autoJoin,
		})
	}
	return out, nil
}

// JoinChannel implements ChatService.
func (c *LocalChat) JoinChannel(_ context.Context, userID int32, channel string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[channel]
	if !ok {
		return nil, fmt.Errorf("join %q: %w", channel, ErrChannelNotFound)
	}
	ch.members[userID] = struct{}{}

	out := bancho.NewBuilder().
		Add(bancho.ChannelJoinSuccess(ch.name)).
		Add(bancho.ChannelInfo(ch.name, ch.topic, int16(len(ch.members)))).
		Build()
	return out, nil
}

// PartChannel implements ChatService.
func (c *LocalChat) PartChannel(_ context.Context, userID int32, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.channels[channel]
	if !ok {
		return fmt.Errorf("part %q: %w", channel, ErrChannelNotFound)
	}
	delete(ch.members, userID)
	return nil
}

// SendMessage implements ChatService.
func (c *LocalChat) SendMessage(_ context.Context, senderID int32, senderName string, m bancho.Message) error {
	m.Sender = senderName
	m.SenderID = senderID
	packet := bancho.SendMessage(m)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.channels[m.Target]; ok {
		for member := range ch.members {
			if member == senderID {
				continue
			}
			c.pending[member] = append(c.pending[member], packet...)
		}
		return nil
	}

	if c.resolve == nil {
		return fmt.Errorf("send to %q: %w", m.Target, ErrChatSessionNotFound)
	}
	target, ok := c.resolve(m.Target)
	if !ok {
		return fmt.Errorf("send to %q: %w", m.Target, ErrChatSessionNotFound)
	}
	c.pending[target] = append(c.pending[target], packet...)
	return nil
}

// DequeueChatPackets implements ChatService.
func (c *LocalChat) DequeueChatPackets(_ context.Context, userID int32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending[userID]
	delete(c.pending, userID)
	return out, nil
}

// Logout implements ChatService.
func (c *LocalChat) Logout(_ context.Context, userID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		delete(ch.members, userID)
	}
	delete(c.pending, userID)
	return nil
}
