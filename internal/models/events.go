package models

// RosterEvent is a membership change decoded from a chat service update.
// Implementations: MemberJoined, MemberLeft, MemberKicked.
type RosterEvent interface {
	Group() int64
	User() int64
	rosterEvent()
}

type MemberJoined struct {
	GroupID  int64
	UserID   int64
	Username string
}

type MemberLeft struct {
	GroupID int64
	UserID  int64
}

// MemberKicked is a removal by someone else; UserID may be the bot itself.
type MemberKicked struct {
	GroupID int64
	UserID  int64
}

func (e MemberJoined) Group() int64 { return e.GroupID }
func (e MemberJoined) User() int64  { return e.UserID }
func (MemberJoined) rosterEvent()   {}

func (e MemberLeft) Group() int64 { return e.GroupID }
func (e MemberLeft) User() int64  { return e.UserID }
func (MemberLeft) rosterEvent()   {}

func (e MemberKicked) Group() int64 { return e.GroupID }
func (e MemberKicked) User() int64  { return e.UserID }
func (MemberKicked) rosterEvent()   {}
