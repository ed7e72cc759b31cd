package auth

import "errors"

var (
	ErrMissingToken    = errors.New("missing_bearer_token")
	ErrInvalidToken    = errors.New("invalid_token")
	ErrInvalidClaims   = errors.New("invalid_token_claims")
	ErrMemberMismatch  = errors.New("business_member_mismatch")
	ErrSecretMissing   = errors.New("auth_jwt_secret_missing")
	ErrUnsupportedKind = errors.New("unsupported_principal_kind")
)
