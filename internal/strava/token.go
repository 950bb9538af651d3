package strava

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

const (
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"
)

// persistingTokenSource refreshes through base and hands every new token to onRefresh.
type persistingTokenSource struct {
	mu        sync.Mutex
	base      oauth2.TokenSource
	current   *oauth2.Token
	onRefresh func(*oauth2.Token) error
}

func (ts *persistingTokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	tok, err := ts.base.Token()
	if err != nil {
		return nil, err
	}
	if ts.current == nil || tok.AccessToken != ts.current.AccessToken {
		if ts.onRefresh != nil {
			if err := ts.onRefresh(tok); err != nil {
				return nil, err
			}
		}
		ts.current = tok
	}
	return tok, nil
}

func newTokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, onRefresh func(*oauth2.Token) error) oauth2.TokenSource {
	return &persistingTokenSource{
		base:      oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		current:   tok,
		onRefresh: onRefresh,
	}
}
