package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	twitterAPIBase    = "https://api.twitter.com/2"
	twitterAuthURL    = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL   = "https://api.twitter.com/2/oauth2/token"
	oauthCodeVerifier = "opinion-market-challenge"
)

// MetricsProvider returns follower/engagement metrics for a handle.
type MetricsProvider interface {
	GetMetrics(ctx context.Context, handle string) (*TwitterProfile, error)
}

// TwitterProfile is what the metrics provider returns for a handle.
type TwitterProfile struct {
	Handle          string  `json:"handle"`
	UserID          string  `json:"user_id,omitempty"`
	DisplayName     string  `json:"display_name,omitempty"`
	ProfileImageURL string  `json:"profile_image_url,omitempty"`
	FollowersCount  int     `json:"followers_count"`
	EngagementRate  float64 `json:"engagement_rate"`
}

// OAuthState is the payload round-tripped through the OAuth redirect,
// encoded as base64 JSON.
type OAuthState struct {
	WalletAddress string `json:"wallet_address"`
}

// TwitterService talks to the Twitter API: public metrics for eligibility
// checks and the OAuth2 redirect flow for linking a handle to a wallet.
type TwitterService struct {
	clientID     string
	clientSecret string
	callbackURL  string
	client       *http.Client
}

// NewTwitterService creates a new Twitter service
func NewTwitterService(clientID, clientSecret, callbackURL string) *TwitterService {
	return &TwitterService{
		clientID:     clientID,
		clientSecret: clientSecret,
		callbackURL:  callbackURL,
		client:       &http.Client{Timeout: 15 * time.Second},
	}
}

type twitterUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
		PublicMetrics   struct {
			FollowersCount int `json:"followers_count"`
			FollowingCount int `json:"following_count"`
			TweetCount     int `json:"tweet_count"`
			ListedCount    int `json:"listed_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

type twitterTweetsResponse struct {
	Data []struct {
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
			QuoteCount   int `json:"quote_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// GetMetrics fetches a handle's follower count and engagement rate. The
// engagement rate is the average interactions per recent tweet relative to
// the follower count, in percentage points.
func (s *TwitterService) GetMetrics(ctx context.Context, handle string) (*TwitterProfile, error) {
	handle = strings.TrimPrefix(handle, "@")

	token, err := s.appBearerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain bearer token: %w", err)
	}

	var user twitterUserResponse
	endpoint := fmt.Sprintf("%s/users/by/username/%s?user.fields=public_metrics,profile_image_url",
		twitterAPIBase, url.PathEscape(handle))
	if err := s.getJSON(ctx, endpoint, token, &user); err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user.Data.ID == "" {
		return nil, fmt.Errorf("no such handle: %s", handle)
	}

	profile := &TwitterProfile{
		Handle:          user.Data.Username,
		UserID:          user.Data.ID,
		DisplayName:     user.Data.Name,
		ProfileImageURL: user.Data.ProfileImageURL,
		FollowersCount:  user.Data.PublicMetrics.FollowersCount,
	}

	// Engagement from the last few tweets; a handle with no reachable
	// tweets simply scores 0.
	var tweets twitterTweetsResponse
	endpoint = fmt.Sprintf("%s/users/%s/tweets?tweet.fields=public_metrics&max_results=10",
		twitterAPIBase, user.Data.ID)
	if err := s.getJSON(ctx, endpoint, token, &tweets); err == nil && len(tweets.Data) > 0 && profile.FollowersCount > 0 {
		total := 0
		for _, t := range tweets.Data {
			m := t.PublicMetrics
			total += m.RetweetCount + m.ReplyCount + m.LikeCount + m.QuoteCount
		}
		avg := float64(total) / float64(len(tweets.Data))
		profile.EngagementRate = avg / float64(profile.FollowersCount) * 100
	}

	return profile, nil
}

// appBearerToken exchanges the client credentials for an app-only token.
func (s *TwitterService) appBearerToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.twitter.com/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("empty access token")
	}
	return payload.AccessToken, nil
}

// AuthURL builds the OAuth2 authorize redirect for linking a wallet.
func (s *TwitterService) AuthURL(walletAddress string) string {
	state, _ := json.Marshal(OAuthState{WalletAddress: strings.ToLower(walletAddress)})

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {s.clientID},
		"redirect_uri":          {s.callbackURL},
		"scope":                 {"users.read tweet.read"},
		"state":                 {base64.StdEncoding.EncodeToString(state)},
		"code_challenge":        {oauthCodeVerifier},
		"code_challenge_method": {"plain"},
	}
	return twitterAuthURL + "?" + params.Encode()
}

// DecodeState decodes the base64 JSON state from the OAuth callback.
func (s *TwitterService) DecodeState(state string) (*OAuthState, error) {
	raw, err := base64.StdEncoding.DecodeString(state)
	if err != nil {
		return nil, fmt.Errorf("invalid state encoding: %w", err)
	}
	var decoded OAuthState
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("invalid state payload: %w", err)
	}
	if decoded.WalletAddress == "" {
		return nil, fmt.Errorf("state carries no wallet address")
	}
	return &decoded, nil
}

// ExchangeCode swaps the callback code for the authenticated user's
// profile.
func (s *TwitterService) ExchangeCode(ctx context.Context, code string) (*TwitterProfile, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {s.callbackURL},
		"code_verifier": {oauthCodeVerifier},
		"client_id":     {s.clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, twitterTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("code exchange returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("code exchange parse error: %w", err)
	}

	var user twitterUserResponse
	endpoint := twitterAPIBase + "/users/me?user.fields=public_metrics,profile_image_url"
	if err := s.getJSON(ctx, endpoint, payload.AccessToken, &user); err != nil {
		return nil, fmt.Errorf("authenticated user lookup failed: %w", err)
	}

	return &TwitterProfile{
		Handle:          user.Data.Username,
		UserID:          user.Data.ID,
		DisplayName:     user.Data.Name,
		ProfileImageURL: user.Data.ProfileImageURL,
		FollowersCount:  user.Data.PublicMetrics.FollowersCount,
	}, nil
}

func (s *TwitterService) getJSON(ctx context.Context, endpoint, bearer string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
