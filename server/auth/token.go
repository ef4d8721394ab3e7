package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/indieinfra/mediavault/config"
)

type tokenKeyType struct{}

var tokenKey = tokenKeyType{}

type TokenDetails struct {
	Me       string `json:"me"`
	ClientId string `json:"client_id"`
	Scope    string `json:"scope"`
	IssuedAt uint   `json:"issued_at"`
	Nonce    int    `json:"nonce"`
}

// ExtractBearerToken extracts a Bearer token from an Authorization header value.
// Returns an empty string if the header is not present, malformed, or not a Bearer token.
func ExtractBearerToken(auth string) string {
	if auth == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

func AddToken(ctx context.Context, details *TokenDetails) context.Context {
	return context.WithValue(ctx, tokenKey, details)
}

func GetToken(ctx context.Context) *TokenDetails {
	token, ok := ctx.Value(tokenKey).(*TokenDetails)
	if !ok {
		return nil
	}

	return token
}

func (details *TokenDetails) String() string {
	return fmt.Sprintf("TokenDetails{me=%v, clientId=%v, scope=%v, issuedAt=%v, nonce=%v}", details.Me, details.ClientId, details.Scope, details.IssuedAt, details.Nonce)
}

func (details *TokenDetails) HasScope(scope Scope) bool {
	return slices.Contains(strings.Fields(strings.ToLower(details.Scope)), strings.ToLower(scope.String()))
}

func (details *TokenDetails) HasMe(me string) bool {
	me = strings.TrimSuffix(strings.TrimSpace(me), "/") + "/"
	meDetails := strings.TrimSuffix(strings.TrimSpace(details.Me), "/") + "/"
	return strings.EqualFold(me, meDetails)
}

var (
	ErrEmptyToken        = errors.New("received empty token")
	ErrTokenEndpointFail = errors.New("failed to contact token endpoint")
)

var tokenClient = &http.Client{Timeout: 10 * time.Second}

// VerifyAccessToken asks the configured token endpoint about token. A nil
// result with a nil error means the endpoint rejected it or it belongs to
// someone else.
func VerifyAccessToken(ctx context.Context, cfg *config.Config, token string) (*TokenDetails, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Auth.TokenEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create http request for token endpoint: %w", err)
	}

	req.Header.Add("Accept", "application/json")
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %v", token))

	resp, err := tokenClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenEndpointFail, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if cfg.Debug {
			log.Printf("debug: token failed validation at token endpoint (status %d)", resp.StatusCode)
		}

		return nil, nil
	}

	details := &TokenDetails{}
	if err := json.NewDecoder(resp.Body).Decode(details); err != nil {
		log.Println(fmt.Errorf("warning: token endpoint provided bad data, can not verify token: %w", err))
		return nil, nil
	}

	if details.Me == "" {
		log.Println("warning: token endpoint did not include \"me\" information - cannot verify token")
		return nil, nil
	}

	if !details.HasMe(cfg.Auth.MeUrl) {
		if cfg.Debug {
			log.Printf("debug: received a valid token for %q, which is not this instance", details.Me)
		}

		return nil, nil
	}

	return details, nil
}
