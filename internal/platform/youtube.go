package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// YouTubeClient calls the YouTube Data API v3.
type YouTubeClient struct {
	BaseURL string // e.g. https://www.googleapis.com/youtube/v3
	APIKey  string // used for public search; identity uses the bearer token
	HTTP    *http.Client
}

func (c *YouTubeClient) Name() string { return YouTube }

// Identity returns the channel owned by the token's account.
func (c *YouTubeClient) Identity(ctx context.Context, token string) (Identity, error) {
	q := url.Values{"part": {"snippet"}, "mine": {"true"}}
	req, err := c.newRequest(ctx, "/channels", q)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var body struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := getJSON(httpClient(c.HTTP), YouTube, req, &body); err != nil {
		return Identity{}, err
	}
	if len(body.Items) == 0 {
		return Identity{}, errors.New("youtube api: account has no channel")
	}
	item := body.Items[0]
	return Identity{ID: item.ID, Username: item.Snippet.Title}, nil
}

// LiveStream finds the live broadcast on a channel id. The search endpoint
// is public and authenticated with the API key; token is ignored.
func (c *YouTubeClient) LiveStream(ctx context.Context, channel, token string) (Stream, error) {
	if c.APIKey == "" {
		return Stream{}, errors.New("youtube api key not configured")
	}
	q := url.Values{
		"part":      {"snippet"},
		"channelId": {channel},
		"eventType": {"live"},
		"type":      {"video"},
		"key":       {c.APIKey},
	}
	req, err := c.newRequest(ctx, "/search", q)
	if err != nil {
		return Stream{}, err
	}

	var body struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := getJSON(httpClient(c.HTTP), YouTube, req, &body); err != nil {
		return Stream{}, err
	}
	if len(body.Items) == 0 {
		return Stream{}, ErrNotLive
	}
	return Stream{ID: body.Items[0].ID.VideoID, Title: body.Items[0].Snippet.Title}, nil
}

func (c *YouTubeClient) newRequest(ctx context.Context, path string, q url.Values) (*http.Request, error) {
	u := strings.TrimSuffix(c.BaseURL, "/") + path + "?" + q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}
