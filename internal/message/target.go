// ABOUTME: Delivery target for outgoing messages: the platform plus either
// ABOUTME: a group or a direct-chat destination

package message

// Target addresses an outgoing message. GroupID takes precedence; a target
// with only UserID set is a direct chat.
type Target struct {
	Platform string `json:"platform"`
	GroupID  string `json:"group_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// IsGroup reports whether the target is a group destination.
func (t Target) IsGroup() bool { return t.GroupID != "" }
