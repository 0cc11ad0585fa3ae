package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"animaforge/internal/models"
	"animaforge/internal/pkg/caching"

	"github.com/gojek/heimdall/v7"
	"github.com/gojek/heimdall/v7/httpclient"
	"github.com/hiendaovinh/toolkit/pkg/errorx"
)

// Authentication exchanges bearer credentials with the identity provider and
// enforces the provider allow-list. Verification is read-only; results are
// cached briefly so polling loops don't hammer the provider.
type Authentication struct {
	baseURL    string
	serviceKey string
	client     *httpclient.Client
	cache      caching.Cache
}

func NewAuthentication(baseURL string, serviceKey string, cache caching.Cache) (*Authentication, error) {
	client := httpclient.NewClient(
		httpclient.WithHTTPTimeout(10*time.Second),
		httpclient.WithRetryCount(2),
		httpclient.WithRetrier(heimdall.NewRetrier(heimdall.NewConstantBackoff(300*time.Millisecond, 100*time.Millisecond))),
	)
	return &Authentication{baseURL, serviceKey, client, cache}, nil
}

// Verify exchanges the bearer token for the provider's user record. Any
// provider failure is an authentication failure to the caller.
func (authentication *Authentication) Verify(ctx context.Context, token string) (*models.AuthUser, error) {
	if token == "" {
		return nil, errorx.Wrap(errors.New("missing access token"), errorx.Authn)
	}

	hash := sha256.Sum256([]byte(token))
	key := DBKeyAuthUser(hex.EncodeToString(hash[:]))

	callback := func() (*models.AuthUser, error) {
		return authentication.fetchUser(ctx, token)
	}

	user, err := caching.UseCache(ctx, authentication.cache, key, CACHE_TTL_1_MIN, callback)
	if err != nil {
		return nil, errorx.Wrap(errors.New("invalid access token"), errorx.Authn)
	}
	return user, nil
}

// RequireAccepted gates ledger-mutating operations on the single accepted
// identity provider.
func (authentication *Authentication) RequireAccepted(user *models.AuthUser) error {
	if user == nil {
		return errorx.Wrap(errors.New("missing session"), errorx.Authn)
	}
	if !user.UsesProvider(ACCEPTED_PROVIDER) {
		return ErrWrongProvider
	}
	return nil
}

func (authentication *Authentication) fetchUser(ctx context.Context, token string) (*models.AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/auth/v1/user", authentication.baseURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", authentication.serviceKey)

	res, err := authentication.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity provider returned %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var user models.AuthUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("identity provider returned no user")
	}

	return &user, nil
}
