// Package platform talks to the YouTube Data API and the Twitch Helix API on
// behalf of an authorized user.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Platform identifiers.
const (
	YouTube = "youtube"
	Twitch  = "twitch"
)

// Names lists the supported platforms.
var Names = []string{YouTube, Twitch}

// ErrNotLive is returned by LiveStream when the channel has no live broadcast.
var ErrNotLive = errors.New("no live stream found")

const defaultTimeout = 10 * time.Second

// Identity is the account an access token belongs to.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Stream is a live broadcast. ID is the value the backend expects as its
// stream id: the video id on YouTube, the channel login on Twitch.
type Stream struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Client is implemented by each platform.
type Client interface {
	Name() string
	Identity(ctx context.Context, token string) (Identity, error)
	LiveStream(ctx context.Context, channel, token string) (Stream, error)
}

// APIError is a non-2xx response from a platform API.
type APIError struct {
	Platform string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api: HTTP %d: %s", e.Platform, e.Status, e.Body)
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}

// getJSON performs req and decodes a 2xx JSON body into v.
func getJSON(client *http.Client, platform string, req *http.Request, v any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s api: %w", platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Platform: platform, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s api: decoding response: %w", platform, err)
	}
	return nil
}
