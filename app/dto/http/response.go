package http

import "github.com/vibast-solutions/ms-go-accounts/app/entity"

type UserResponse struct {
	ID        uint64 `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

func NewUserResponse(user *entity.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
	}
}

func NewUserListResponse(users []*entity.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, NewUserResponse(u))
	}
	return out
}

type UserIDResponse struct {
	UserID uint64 `json:"user_id"`
}

type CurrentUserResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type UpdateUserResponse struct {
	Message string       `json:"message"`
	Data    UserResponse `json:"data"`
}

type LastNameCountResponse struct {
	LastName string `json:"last_name"`
	Users    int64  `json:"users"`
}

type UserStatsResponse struct {
	TotalUsers    int64                   `json:"total_users"`
	PendingResets int64                   `json:"pending_resets"`
	MinUserID     *uint64                 `json:"min_user_id"`
	MaxUserID     *uint64                 `json:"max_user_id"`
	TopLastNames  []LastNameCountResponse `json:"top_last_names"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
