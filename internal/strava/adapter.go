// Package strava fetches and normalizes activities from the Strava v3 API.
package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fdg312/trailmate/internal/activities"
	"github.com/fdg312/trailmate/internal/credentials"
	"github.com/fdg312/trailmate/internal/gateway"
	"github.com/fdg312/trailmate/internal/logging"
	"github.com/fdg312/trailmate/internal/storage"
)

const Provider = "strava"

const (
	defaultBaseURL  = "https://www.strava.com/api/v3"
	defaultPageSize = 100
	defaultMaxPages = 10
)

// Invoker sends requests through the quota of the user's credential.
type Invoker interface {
	InvokeForUser(ctx context.Context, userID string, fn gateway.RequestFunc) (*http.Response, credentials.Resolution, error)
}

type Options struct {
	BaseURL    string
	TokenURL   string
	PageSize   int
	MaxPages   int
	HTTPClient *http.Client
}

type Adapter struct {
	invoker    Invoker
	tokens     storage.ConnectionsStorage
	baseURL    string
	tokenURL   string
	pageSize   int
	maxPages   int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewAdapter(invoker Invoker, tokens storage.ConnectionsStorage, opts Options, logger *zap.Logger) *Adapter {
	a := &Adapter{
		invoker:    invoker,
		tokens:     tokens,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		tokenURL:   opts.TokenURL,
		pageSize:   opts.PageSize,
		maxPages:   opts.MaxPages,
		httpClient: opts.HTTPClient,
		logger:     logging.OrNop(logger),
	}
	if a.baseURL == "" {
		a.baseURL = defaultBaseURL
	}
	if a.tokenURL == "" {
		a.tokenURL = TokenURL
	}
	if a.pageSize <= 0 {
		a.pageSize = defaultPageSize
	}
	if a.maxPages <= 0 {
		a.maxPages = defaultMaxPages
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return a
}

func (a *Adapter) Provider() string {
	return Provider
}

// FetchRaw pages through /athlete/activities, newest history first from since (nil for everything).
// Every page is one gateway invocation.
func (a *Adapter) FetchRaw(ctx context.Context, conn storage.ProviderConnection, since *time.Time) ([]json.RawMessage, error) {
	var all []json.RawMessage
	sess := newSession(conn)

	for page := 1; page <= a.maxPages; page++ {
		items, err := a.fetchPage(ctx, sess, since, page)
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", page, err)
		}
		all = append(all, items...)

		if len(items) < a.pageSize {
			return all, nil
		}
	}

	a.logger.Info("strava_page_limit_reached",
		zap.String("user_id", sess.userID),
		zap.Int("pages", a.maxPages),
		zap.Int("activities", len(all)),
	)
	return all, nil
}

func (a *Adapter) fetchPage(ctx context.Context, sess *session, since *time.Time, page int) ([]json.RawMessage, error) {
	params := url.Values{}
	if since != nil && !since.IsZero() {
		params.Set("after", strconv.FormatInt(since.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(a.pageSize))
	reqURL := a.baseURL + "/athlete/activities?" + params.Encode()

	resp, _, err := a.invoker.InvokeForUser(ctx, sess.userID, func(callCtx context.Context, cred storage.CredentialConfig) (*http.Response, error) {
		req, err := http.NewRequestWithContext(callCtx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		return a.clientFor(callCtx, cred, sess).Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding activities: %w", err)
	}
	return items, nil
}

// session carries the connection's live token across the pages of one fetch.
type session struct {
	userID   string
	provider string

	mu  sync.Mutex
	tok *oauth2.Token
}

func newSession(conn storage.ProviderConnection) *session {
	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiry != nil {
		tok.Expiry = *conn.TokenExpiry
	}
	return &session{userID: conn.UserID, provider: conn.Provider, tok: tok}
}

func (s *session) token() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tok
}

func (s *session) setToken(t *oauth2.Token) {
	s.mu.Lock()
	s.tok = t
	s.mu.Unlock()
}

// clientFor returns an HTTP client that authenticates as the session's athlete and refreshes
// its token with cred's client id and secret.
func (a *Adapter) clientFor(ctx context.Context, cred storage.CredentialConfig, sess *session) *http.Client {
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  a.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	ts := newTokenSource(ctx, cfg, sess.token(), func(t *oauth2.Token) error {
		var expiry *time.Time
		if !t.Expiry.IsZero() {
			e := t.Expiry
			expiry = &e
		}
		if err := a.tokens.UpdateConnectionTokens(ctx, sess.userID, sess.provider, t.AccessToken, t.RefreshToken, expiry); err != nil {
			return fmt.Errorf("persist refreshed token: %w", err)
		}
		sess.setToken(t)
		a.logger.Info("strava_token_refreshed", zap.String("user_id", sess.userID), zap.String("credential_id", cred.ID))
		return nil
	})

	return oauth2.NewClient(ctx, ts)
}

// Normalize converts a raw batch, skipping items that do not parse.
func (a *Adapter) Normalize(userID string, raws []json.RawMessage) ([]storage.ActivityRecord, []error) {
	return activities.NormalizeBatch(a, userID, raws)
}

// NormalizeActivity maps one Strava SummaryActivity onto the canonical record.
func (a *Adapter) NormalizeActivity(userID string, raw json.RawMessage) (storage.ActivityRecord, error) {
	var act Activity
	if err := json.Unmarshal(raw, &act); err != nil {
		return storage.ActivityRecord{}, fmt.Errorf("decode strava activity: %w", err)
	}
	if act.ID == 0 {
		return storage.ActivityRecord{}, fmt.Errorf("%w: strava activity without id", activities.ErrInvalidRecord)
	}

	sport := act.SportType
	if sport == "" {
		sport = act.Type
	}

	duration := act.MovingTime
	if duration <= 0 {
		duration = act.ElapsedTime
	}

	rec := storage.ActivityRecord{
		UserID:             userID,
		Provider:           Provider,
		ProviderActivityID: strconv.FormatInt(act.ID, 10),
		ActivityType:       activities.CanonicalType(sport),
		StartTime:          act.StartDate.UTC(),
		UTCOffsetSeconds:   int(act.UTCOffset),
		DurationSeconds:    duration,
	}
	if act.Distance > 0 {
		d := act.Distance
		rec.DistanceMeters = &d
	}
	switch {
	case act.Calories != nil:
		c := *act.Calories
		rec.Calories = &c
	case act.Kilojoules != nil:
		// Strava's own convention: mechanical kJ approximate kcal burned.
		c := *act.Kilojoules
		rec.Calories = &c
	}
	if act.HasHeartrate {
		if act.AverageHeartrate > 0 {
			hr := act.AverageHeartrate
			rec.HeartRateAvg = &hr
		}
		if act.MaxHeartrate > 0 {
			hr := act.MaxHeartrate
			rec.HeartRateMax = &hr
		}
	}
	return rec, nil
}
