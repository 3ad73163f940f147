// Package render projects the client state into a display model. Project
// is a pure function: the same state always yields the same view.
package render

import (
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/message"

	"chatclient/internal/i18n"
	"chatclient/pkg/types"
)

const timeLayout = "15:04"

// State is everything the view depends on.
type State struct {
	Self           types.Identity
	Active         types.Conversation
	HasActive      bool
	Entries        []types.Entry
	Roster         []types.RosterEntry
	Groups         []types.Group
	Members        []types.User
	MembersVisible bool
}

// Line is one transcript line.
type Line struct {
	Key    string
	Author string
	Time   string
	Text   string
	Own    bool
	Notice bool
}

// RosterItem is one counterpart in the user list.
type RosterItem struct {
	UserID int64
	Label  string
	Online bool
	Active bool
}

// GroupItem is one group in the group list.
type GroupItem struct {
	GroupID int64
	Label   string
	Active  bool
}

// MemberItem is one member of the active group.
type MemberItem struct {
	UserID   int64
	Label    string
	Owner    bool
	Kickable bool
}

// View is the projected display model.
type View struct {
	Title          string
	Lines          []Line
	Roster         []RosterItem
	Groups         []GroupItem
	Members        []MemberItem
	MembersVisible bool
	CanInvite      bool
}

// Renderer holds the sanitizer policy and the label printer.
type Renderer struct {
	policy  *bluemonday.Policy
	printer *message.Printer
}

// NewRenderer creates a renderer. A nil printer uses the default locale.
func NewRenderer(printer *message.Printer) *Renderer {
	if printer == nil {
		printer = i18n.Printer(i18n.DefaultLocale)
	}
	return &Renderer{
		policy:  bluemonday.StrictPolicy(),
		printer: printer,
	}
}

// Sanitize strips markup from user content, leaving plain text.
func (r *Renderer) Sanitize(s string) string {
	return html.UnescapeString(r.policy.Sanitize(s))
}

// Project builds the view for s.
func (r *Renderer) Project(s State) View {
	v := View{
		Title:          r.title(s),
		MembersVisible: s.HasActive && s.Active.Kind == types.ScopeGroup && s.MembersVisible,
		CanInvite:      s.HasActive && s.Active.Kind == types.ScopeGroup,
	}

	v.Lines = make([]Line, 0, len(s.Entries))
	for _, e := range s.Entries {
		v.Lines = append(v.Lines, r.line(s.Self, e))
	}

	v.Roster = r.roster(s)

	v.Groups = make([]GroupItem, 0, len(s.Groups))
	for _, g := range s.Groups {
		v.Groups = append(v.Groups, GroupItem{
			GroupID: g.ID,
			Label:   r.Sanitize(g.Name),
			Active:  s.HasActive && s.Active.Kind == types.ScopeGroup && s.Active.PeerID == g.ID,
		})
	}

	if v.MembersVisible {
		v.Members = r.members(s)
	}
	return v
}

func (r *Renderer) title(s State) string {
	if !s.HasActive {
		return r.printer.Sprintf(i18n.ViewNoConversation)
	}
	name := r.Sanitize(s.Active.DisplayName)
	if s.Active.Kind == types.ScopeGroup {
		return r.printer.Sprintf(i18n.ViewTitleGroup, name)
	}
	return r.printer.Sprintf(i18n.ViewTitleDirect, name)
}

func (r *Renderer) line(self types.Identity, e types.Entry) Line {
	l := Line{Key: e.Key, Time: e.Timestamp.Format(timeLayout)}
	if e.Kind == types.EntryNotice || e.Message == nil {
		l.Notice = true
		l.Text = r.Sanitize(e.Text)
		return l
	}
	m := e.Message
	l.Text = r.Sanitize(m.Content)
	if self.ID != 0 && m.SenderID == self.ID {
		l.Own = true
		l.Author = r.printer.Sprintf(i18n.ViewSelf)
	} else {
		l.Author = r.Sanitize(m.SenderUsername)
	}
	return l
}

// roster lists online users first, each half sorted by username.
func (r *Renderer) roster(s State) []RosterItem {
	entries := make([]types.RosterEntry, 0, len(s.Roster))
	for _, e := range s.Roster {
		if e.UserID != s.Self.ID {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Online != entries[j].Online {
			return entries[i].Online
		}
		return entries[i].Username < entries[j].Username
	})

	online := r.printer.Sprintf(i18n.ViewOnline)
	offline := r.printer.Sprintf(i18n.ViewOffline)
	out := make([]RosterItem, 0, len(entries))
	for _, e := range entries {
		status := offline
		if e.Online {
			status = online
		}
		out = append(out, RosterItem{
			UserID: e.UserID,
			Label:  r.Sanitize(e.Username) + " " + status,
			Online: e.Online,
			Active: s.HasActive && s.Active.Kind == types.ScopeDirect && s.Active.PeerID == e.UserID,
		})
	}
	return out
}

// members marks the owner and offers kick only to the owner, never on
// themselves.
func (r *Renderer) members(s State) []MemberItem {
	viewerIsOwner := s.Self.ID != 0 && s.Active.OwnerID == s.Self.ID
	ownerTag := r.printer.Sprintf(i18n.ViewOwner)

	out := make([]MemberItem, 0, len(s.Members))
	for _, m := range s.Members {
		isOwner := m.ID == s.Active.OwnerID
		var label strings.Builder
		label.WriteString(r.Sanitize(m.Username))
		if isOwner {
			label.WriteString(" ")
			label.WriteString(ownerTag)
		}
		out = append(out, MemberItem{
			UserID:   m.ID,
			Label:    label.String(),
			Owner:    isOwner,
			Kickable: viewerIsOwner && m.ID != s.Self.ID,
		})
	}
	return out
}
