package social

import "errors"

var (
	ErrSelfRelationship   = errors.New("cannot befriend yourself")
	ErrAlreadyExists      = errors.New("relationship already exists")
	ErrUnauthorizedAction = errors.New("action not allowed for this identity")
	ErrNotFound           = errors.New("not found")
	ErrInvalidStatus      = errors.New("invalid relationship status")
	ErrInvalidTransition  = errors.New("relationship already answered")
	ErrIdentityDisabled   = errors.New("identity disabled")
	ErrVetoed             = errors.New("request rejected by policy")
)
