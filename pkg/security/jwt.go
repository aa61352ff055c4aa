package security

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bitechdev/tagstream/pkg/config"
)

const DefaultTokenQueryParam = "token"

// JWTAuthenticator validates signed bearer tokens. Browsers cannot set
// headers on a websocket handshake, so the token is read from a query
// parameter first and the Authorization header second.
type JWTAuthenticator struct {
	secret     []byte
	method     jwt.SigningMethod
	queryParam string
	now        func() time.Time
}

// NewJWTAuthenticator creates an authenticator for HMAC signed tokens.
// An empty algorithm means HS256.
func NewJWTAuthenticator(cfg config.AuthConfig) (*JWTAuthenticator, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}

	alg := cfg.JWTAlgorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm: %s", alg)
	}

	param := cfg.TokenQueryParam
	if param == "" {
		param = DefaultTokenQueryParam
	}

	return &JWTAuthenticator{
		secret:     []byte(cfg.JWTSecret),
		method:     method,
		queryParam: param,
		now:        time.Now,
	}, nil
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (*UserContext, error) {
	raw := a.extractToken(r)
	if raw == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != a.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{a.method.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user, err := userFromClaims(claims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	user.RemoteID = r.RemoteAddr
	return user, nil
}

// Sign issues a token for user valid for ttl. Used by tooling and tests.
func (a *JWTAuthenticator) Sign(user *UserContext, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"user_id": user.UserID,
		"sub":     strconv.Itoa(user.UserID),
		"roles":   user.Roles,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if user.UserName != "" {
		claims["username"] = user.UserName
	}
	if user.Email != "" {
		claims["email"] = user.Email
	}
	if user.SessionID != "" {
		claims["sid"] = user.SessionID
	}
	return jwt.NewWithClaims(a.method, claims).SignedString(a.secret)
}

func (a *JWTAuthenticator) extractToken(r *http.Request) string {
	if tok := r.URL.Query().Get(a.queryParam); tok != "" {
		return tok
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func userFromClaims(claims jwt.MapClaims) (*UserContext, error) {
	id, err := claimInt(claims, "user_id")
	if err != nil {
		sub, serr := claims.GetSubject()
		if serr != nil || sub == "" {
			return nil, errors.New("token has no user id")
		}
		if id, err = strconv.Atoi(sub); err != nil {
			return nil, fmt.Errorf("invalid subject %q", sub)
		}
	}

	user := &UserContext{
		UserID: id,
		Roles:  claimStrings(claims, "roles"),
		Claims: map[string]any(claims),
	}
	user.UserName, _ = claims["username"].(string)
	user.Email, _ = claims["email"].(string)
	user.SessionID, _ = claims["sid"].(string)
	return user, nil
}

func claimInt(claims jwt.MapClaims, key string) (int, error) {
	switch v := claims[key].(type) {
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	case nil:
		return 0, fmt.Errorf("claim %s missing", key)
	default:
		return 0, fmt.Errorf("claim %s has type %T", key, v)
	}
}

// claimStrings accepts a JSON array or a comma separated string
func claimStrings(claims jwt.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return []string{}
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return []string{}
	}
}
