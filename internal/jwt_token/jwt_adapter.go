package jwttoken

import (
	"warden/pkg/platform/middleware/auth"
)

func ToMiddlewareClaims(claims *ReviewerClaims) *auth.JWTClaims {
	return &auth.JWTClaims{
		Reviewer: claims.Subject,
		Scopes:   claims.Scope,
		JTI:      claims.ID,
	}
}

type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*auth.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
