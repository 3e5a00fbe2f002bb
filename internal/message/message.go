// ABOUTME: Chat message model shared by all platform adapters and the pipeline
// ABOUTME: Defines Seg, UserInfo, GroupInfo, Info and Message with JSON round-trip

package message

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment types understood by the pipeline. Platforms may produce others;
// unknown types are carried through untouched and ignored for plain text.
const (
	SegText    = "text"
	SegImage   = "image"
	SegEmoji   = "emoji"
	SegAt      = "at"
	SegReply   = "reply"
	SegSegList = "seglist"
)

// Seg is one segment of a message. A segment is either a leaf carrying
// string data (text content, image base64, target user id for "at") or a
// "seglist" nesting further segments.
type Seg struct {
	Type string
	Data string
	Segs []Seg
}

// Text returns a leaf text segment.
func Text(s string) Seg {
	return Seg{Type: SegText, Data: s}
}

// List returns a seglist segment wrapping the given segments.
func List(segs ...Seg) Seg {
	return Seg{Type: SegSegList, Segs: segs}
}

type segJSON struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes leaf data as a string and seglist data as an array.
func (s Seg) MarshalJSON() ([]byte, error) {
	if s.Type == SegSegList {
		data, err := json.Marshal(s.Segs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(segJSON{Type: s.Type, Data: data})
	}
	data, err := json.Marshal(s.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(segJSON{Type: s.Type, Data: data})
}

// UnmarshalJSON decodes the data field according to the segment type.
func (s *Seg) UnmarshalJSON(b []byte) error {
	var raw segJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Type = raw.Type
	if raw.Type == SegSegList {
		return json.Unmarshal(raw.Data, &s.Segs)
	}
	if len(raw.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Data, &s.Data); err != nil {
		return fmt.Errorf("segment %q data: %w", raw.Type, err)
	}
	return nil
}

// PlainText flattens the segment tree into displayable text. Non-text leaves
// contribute nothing; "at" segments render as @target so mentions survive.
func (s Seg) PlainText() string {
	var sb strings.Builder
	s.appendPlain(&sb)
	return sb.String()
}

func (s Seg) appendPlain(sb *strings.Builder) {
	switch s.Type {
	case SegText:
		sb.WriteString(s.Data)
	case SegAt:
		sb.WriteString("@")
		sb.WriteString(s.Data)
	case SegSegList:
		for _, child := range s.Segs {
			child.appendPlain(sb)
		}
	}
}

// UserInfo identifies a message author on a platform.
type UserInfo struct {
	Platform string `json:"platform,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Nickname string `json:"user_nickname,omitempty"`
	Cardname string `json:"user_cardname,omitempty"`
}

// DisplayName prefers the per-group cardname over the global nickname.
func (u *UserInfo) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Cardname != "" {
		return u.Cardname
	}
	return u.Nickname
}

// GroupInfo identifies the group a message was sent in. Nil for direct chats.
type GroupInfo struct {
	Platform string `json:"platform,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
	Name     string `json:"group_name,omitempty"`
}

// Info carries the envelope of a message: where it came from and when.
type Info struct {
	Platform  string     `json:"platform,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	Time      int64      `json:"time,omitempty"`
	Group     *GroupInfo `json:"group_info,omitempty"`
	User      *UserInfo  `json:"user_info,omitempty"`
}

// Message is the platform-neutral wire shape of a chat message.
type Message struct {
	Info    Info   `json:"message_info"`
	Segment Seg    `json:"message_segment"`
	Raw     string `json:"raw_message,omitempty"`
}

// Incoming is a received message after pipeline processing: the wire shape
// plus the derived plain text and classification flags.
type Incoming struct {
	Message

	// PlainText is the flattened displayable text of all segments.
	PlainText string `json:"processed_plain_text,omitempty"`

	// IsEmoji marks sticker/emoji-only messages, which are scored differently
	// by the willingness model and skipped for evaluation context.
	IsEmoji bool `json:"is_emoji,omitempty"`

	// StreamID is assigned once the conversation stream is resolved.
	StreamID string `json:"stream_id,omitempty"`
}

// NewIncoming wraps a wire message and derives the processed fields.
func NewIncoming(msg Message) *Incoming {
	in := &Incoming{Message: msg}
	in.Process()
	return in
}

// Process recomputes PlainText and IsEmoji from the segment tree.
func (in *Incoming) Process() {
	in.PlainText = strings.TrimSpace(in.Segment.PlainText())
	in.IsEmoji = isEmojiOnly(in.Segment)
}

func isEmojiOnly(seg Seg) bool {
	switch seg.Type {
	case SegEmoji, SegImage:
		return true
	case SegSegList:
		if len(seg.Segs) == 0 {
			return false
		}
		for _, child := range seg.Segs {
			if !isEmojiOnly(child) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SenderNickname returns the author's nickname, or "" when the message has
// no usable author. Callers building evaluation context skip such messages.
func (in *Incoming) SenderNickname() string {
	if in.Info.User == nil {
		return ""
	}
	return in.Info.User.Nickname
}

// Mentions reports whether the message addresses the bot: an "at" segment
// targeting selfID, or any of the given names appearing in the text.
func (in *Incoming) Mentions(selfID string, names []string) bool {
	if selfID != "" && hasAt(in.Segment, selfID) {
		return true
	}
	for _, name := range names {
		if name != "" && strings.Contains(in.PlainText, name) {
			return true
		}
	}
	return false
}

func hasAt(seg Seg, target string) bool {
	if seg.Type == SegAt && seg.Data == target {
		return true
	}
	for _, child := range seg.Segs {
		if hasAt(child, target) {
			return true
		}
	}
	return false
}
