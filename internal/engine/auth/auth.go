package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"appbee/internal/domain"
	"appbee/internal/repo"
)

const (
	SourceJWT    = "jwt"
	SourceAPIKey = "api_key"
	SourceLocal  = "local"
)

// Principal is the resolved caller. It is passed explicitly to every
// operation; nothing reads identity from ambient state.
type Principal struct {
	AccountID     string               `json:"account_id"`
	Email         string               `json:"email"`
	Role          domain.Role          `json:"role"`
	ApprovalState domain.ApprovalState `json:"approval_state"`
	CompanyID     string               `json:"company_id,omitempty"`
	Source        string               `json:"source"`
}

// Eligible reports whether the principal may act at all.
func (p Principal) Eligible() bool {
	return p.AccountID != "" && p.ApprovalState == domain.StateApproved
}

func (p Principal) Is(role domain.Role) bool {
	return p.Role == role
}

// Require fails with an authorization error unless the principal is approved
// and holds one of roles. With no roles, any approved principal passes.
func (p Principal) Require(roles ...domain.Role) error {
	if p.AccountID == "" {
		return domain.Errorf(domain.KindUnauthenticated, "authentication required")
	}
	if !p.Eligible() {
		return domain.Errorf(domain.KindAuthorization, "account %s is %s; only approved accounts may act", p.AccountID, strings.ToLower(string(p.ApprovalState)))
	}
	if len(roles) == 0 {
		return nil
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return domain.Errorf(domain.KindAuthorization, "role %s required", strings.Join(names, " or "))
}

// FromAccount builds a principal from the stored account.
func FromAccount(a domain.Account, source string) Principal {
	p := Principal{
		AccountID:     a.ID,
		Email:         a.Email,
		Role:          a.Role,
		ApprovalState: a.ApprovalState,
		Source:        source,
	}
	if a.CompanyID != nil {
		p.CompanyID = *a.CompanyID
	}
	return p
}

func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Gate resolves credentials to principals. Role and approval state are always
// read from the account store, never trusted from the credential.
type Gate struct {
	Repo   repo.Repo
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func (g Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// IssueToken signs an HS256 token whose subject is the account id.
func (g Gate) IssueToken(a domain.Account) (string, time.Time, error) {
	if len(g.Secret) == 0 {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := g.now().UTC()
	exp := now.Add(ttl)
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			Issuer:    g.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: a.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ResolveToken validates a bearer token and loads its account.
func (g Gate) ResolveToken(ctx context.Context, token string) (Principal, error) {
	if len(g.Secret) == 0 {
		return Principal{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
	}
	if g.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.Issuer))
	}
	claims := &jwtClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return g.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return Principal{}, domain.Errorf(domain.KindUnauthenticated, "invalid credentials")
	}
	if claims.Subject == "" {
		return Principal{}, domain.Errorf(domain.KindUnauthenticated, "subject claim required")
	}
	return g.ResolveAccount(ctx, claims.Subject, SourceJWT)
}

// ResolveAPIKey looks up a hashed API key and loads its account.
func (g Gate) ResolveAPIKey(ctx context.Context, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, domain.Errorf(domain.KindUnauthenticated, "api key required")
	}
	apiKey, err := g.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, domain.Errorf(domain.KindUnauthenticated, "invalid credentials")
		}
		return Principal{}, err
	}
	return g.ResolveAccount(ctx, apiKey.AccountID, SourceAPIKey)
}

// ResolveAccount loads an account as a principal. Rejected or missing
// accounts do not resolve.
func (g Gate) ResolveAccount(ctx context.Context, accountID, source string) (Principal, error) {
	a, err := g.Repo.GetAccount(ctx, nil, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, domain.Errorf(domain.KindUnauthenticated, "account not recognized")
		}
		return Principal{}, err
	}
	return FromAccount(a, source), nil
}

// Login checks an email and password pair and issues a token.
func (g Gate) Login(ctx context.Context, email, password string) (string, time.Time, Principal, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return "", time.Time{}, Principal{}, domain.Errorf(domain.KindValidation, "email and password are required")
	}
	a, err := g.Repo.GetAccountByEmail(ctx, nil, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", time.Time{}, Principal{}, domain.Errorf(domain.KindUnauthenticated, "invalid email or password")
		}
		return "", time.Time{}, Principal{}, err
	}
	if !CheckPassword(a.PasswordHash, password) {
		return "", time.Time{}, Principal{}, domain.Errorf(domain.KindUnauthenticated, "invalid email or password")
	}
	token, exp, err := g.IssueToken(a)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	return token, exp, FromAccount(a, SourceJWT), nil
}
