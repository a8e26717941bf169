// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides the Gin middleware for the annotation
// service: bearer-token authentication resolving to an Identity with a
// role, pluggable via the IdentityProvider interface.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/seqlab/annohub/services/annotation/datatypes"
)

// ErrUnauthorized is returned when token validation fails.
var ErrUnauthorized = errors.New("unauthorized")

// identityKey is the Gin context key for the authenticated identity.
const identityKey = "annotation:identity"

// SessionHeader carries the client's websocket session id on change
// submissions, used to suppress the broadcast echo.
const SessionHeader = "X-Session-ID"

// IdentityProvider validates a bearer token and resolves the identity
// behind it. Implementations must be safe for concurrent use.
type IdentityProvider interface {
	Validate(ctx context.Context, token string) (datatypes.Identity, error)
}

// SetIdentity stores the authenticated identity in the Gin context.
func SetIdentity(c *gin.Context, id datatypes.Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the authenticated identity, or a zero Identity
// with RoleNone if authentication did not run.
func GetIdentity(c *gin.Context) datatypes.Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(datatypes.Identity); ok {
			return id
		}
	}
	return datatypes.Identity{Role: datatypes.RoleNone}
}

// Auth authenticates every request with the provider. The token comes
// from "Authorization: Bearer <token>", with a "token" query parameter
// fallback for websocket clients that cannot set headers.
func Auth(provider IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			token = c.Query("token")
		}

		identity, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		SetIdentity(c, identity)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// --- JWT provider ---

// jwtClaims are the claims the service issues and accepts.
type jwtClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTProvider validates HMAC-signed tokens. The subject claim is the user
// id and the custom "role" claim carries the access level.
type JWTProvider struct {
	secret []byte
	issuer string
}

func NewJWTProvider(secret []byte, issuer string) (*JWTProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWTProvider{secret: secret, issuer: issuer}, nil
}

func (p *JWTProvider) Validate(ctx context.Context, token string) (datatypes.Identity, error) {
	if token == "" {
		return datatypes.Identity{}, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return datatypes.Identity{}, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}

	role := datatypes.Role(claims.Role)
	if !role.Valid() {
		return datatypes.Identity{}, fmt.Errorf("unknown role %q: %w", claims.Role, ErrUnauthorized)
	}
	if claims.Subject == "" {
		return datatypes.Identity{}, fmt.Errorf("token missing subject: %w", ErrUnauthorized)
	}
	return datatypes.Identity{
		UserID: claims.Subject,
		Name:   claims.Name,
		Role:   role,
	}, nil
}

// Issue mints a token for an identity. Used by the CLI token command and
// by the tests.
func (p *JWTProvider) Issue(identity datatypes.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		Name: identity.Name,
		Role: string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// --- static provider ---

// StaticProvider maps fixed tokens to identities, for single-tenant and
// development deployments without an identity server.
type StaticProvider struct {
	tokens map[string]datatypes.Identity
}

func NewStaticProvider(tokens map[string]datatypes.Identity) *StaticProvider {
	if tokens == nil {
		tokens = make(map[string]datatypes.Identity)
	}
	return &StaticProvider{tokens: tokens}
}

func (p *StaticProvider) Validate(ctx context.Context, token string) (datatypes.Identity, error) {
	id, ok := p.tokens[token]
	if !ok {
		return datatypes.Identity{}, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	return id, nil
}
