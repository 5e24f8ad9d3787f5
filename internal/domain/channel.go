package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Channel is the processing mode a user picks for a video.
type Channel int

const (
	ChannelArchive Channel = iota + 1
	ChannelAgentReference
)

// Channels lists every known channel in selector order.
var Channels = []Channel{ChannelArchive, ChannelAgentReference}

var ErrUnknownChannel = errors.New("unknown channel")

// ParseChannel maps a wire key to a Channel. Anything other than the two
// known keys is rejected.
func ParseChannel(key string) (Channel, error) {
	switch key {
	case "archive":
		return ChannelArchive, nil
	case "agent-reference":
		return ChannelAgentReference, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, key)
	}
}

// Key is the value stored in the job record and in callback payloads.
func (c Channel) Key() string {
	switch c {
	case ChannelArchive:
		return "archive"
	case ChannelAgentReference:
		return "agent-reference"
	default:
		panic(fmt.Sprintf("domain: invalid channel %d", int(c)))
	}
}

// Label is the button text and the name shown in confirmations.
func (c Channel) Label() string {
	switch c {
	case ChannelArchive:
		return "📚 Archive (clean transcript)"
	case ChannelAgentReference:
		return "🤖 Agent Reference (AI insights)"
	default:
		panic(fmt.Sprintf("domain: invalid channel %d", int(c)))
	}
}

func (c Channel) String() string {
	if c != ChannelArchive && c != ChannelAgentReference {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return c.Key()
}

func (c Channel) MarshalText() ([]byte, error) {
	if c != ChannelArchive && c != ChannelAgentReference {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, int(c))
	}
	return []byte(c.Key()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
