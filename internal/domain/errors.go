package domain

import "errors"

var (
	ErrUnknownBot            = errors.New("unknown bot")
	ErrInvalidInput          = errors.New("invalid input")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrInvalidEdit           = errors.New("only user messages can be edited")
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailTaken            = errors.New("email already exists")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
)
