package upstream

import (
	"encoding/json"

	"github.com/hamoodtechit/hamoodsoft/internal/session"
)

// envelope is the response wrapper the upstream API uses for every endpoint.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Success bool            `json:"success"`
}

// LoginRequest carries login credentials. Credentials pass through to the
// upstream unchanged; the gateway never stores them.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest carries a new account registration.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the shape of login and register responses.
type AuthResponse struct {
	Token        string             `json:"token"`
	RefreshToken string             `json:"refreshToken,omitempty"`
	User         *session.User      `json:"user"`
	Businesses   []session.Business `json:"businesses,omitempty"`
}

// UserPatch is a partial user update. Only non-nil fields are sent.
type UserPatch struct {
	Name              *string `json:"name,omitempty"`
	Avatar            *string `json:"avatar,omitempty"`
	RoleID            *string `json:"roleId,omitempty"`
	CurrentBusinessID *string `json:"currentBusinessId,omitempty"`
}

// CreateBusinessRequest registers a new business for the current user.
type CreateBusinessRequest struct {
	Name    string   `json:"name"`
	Modules []string `json:"modules,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}
