package identity

import "errors"

var (
	ErrNotFound         = errors.New("identity: not found")
	ErrAlreadyExists    = errors.New("identity: already exists")
	ErrInvalidInput     = errors.New("identity: invalid input")
	ErrInvalidKey       = errors.New("identity: invalid public key")
	ErrBadSignature     = errors.New("identity: signature verification failed")
	ErrInvalidToken     = errors.New("identity: invalid token")
	ErrForbidden        = errors.New("identity: forbidden")
	ErrChallengeExpired = errors.New("identity: challenge expired")
	ErrEncryption       = errors.New("identity: encryption failed")
)
