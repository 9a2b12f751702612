package auth

import (
	"crypto/subtle"
	"errors"
)

var (
	ErrTokenRequired = errors.New("token required")
	ErrInvalidToken  = errors.New("invalid token")
)

// Service authenticates the chat gateway. The gateway holds the bot
// credential and acts on behalf of the users named in request paths.
type Service struct {
	token      string
	headerName string
}

// NewService constructs an auth service that accepts botToken as bearer.
func NewService(botToken string) *Service {
	return &Service{
		token:      botToken,
		headerName: "Authorization",
	}
}

// ValidateToken compares the presented token with the bot credential in
// constant time.
func (s *Service) ValidateToken(token string) error {
	if token == "" {
		return ErrTokenRequired
	}
	if s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}
