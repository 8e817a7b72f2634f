package service

import (
	"errors"
	"fmt"
	"time"

	"farm-payments/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenLeeway = 30 * time.Second

// accessClaims is what the identity service puts in a bearer token.
// A token without org_id is scoped to the user alone.
type accessClaims struct {
	OrgID string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTTokenService validates HS256 bearer tokens. It never mints them.
type JWTTokenService struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTTokenService(secret string, issuer string) *JWTTokenService {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &JWTTokenService{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	var claims accessClaims
	_, err := s.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	if claims.Subject == "" {
		return nil, errors.New("missing subject claim")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject is not a user id: %w", err)
	}

	orgID := userID
	if claims.OrgID != "" {
		if orgID, err = uuid.Parse(claims.OrgID); err != nil {
			return nil, fmt.Errorf("org_id is not an id: %w", err)
		}
	}
	return &ports.TokenClaims{UserID: userID, OrgID: orgID}, nil
}
