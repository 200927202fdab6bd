package dto

import (
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
)

// Session is a freshly issued session token for a user.
type Session struct {
	UserID    uint64
	Token     string
	ExpiresAt time.Time
}

type UpdateUserResult struct {
	User    *entity.User
	Session *Session
}

type LastNameCount struct {
	LastName string
	Users    int64
}

type UserStats struct {
	TotalUsers    int64
	PendingResets int64
	MinUserID     *uint64
	MaxUserID     *uint64
	TopLastNames  []LastNameCount
}
