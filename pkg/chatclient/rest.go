package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// restClient talks to the messaging service's HTTP surface. The websocket
// carries live events; history, chat list and unread counts are fetched
// over REST so a fresh session can be seeded without replaying the stream.
type restClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newRESTClient(cfg *Config, token string) *restClient {
	return &restClient{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		token:      token,
		httpClient: cfg.HTTPClient,
	}
}

func (rc *restClient) correspondents(ctx context.Context) ([]Correspondent, error) {
	var out struct {
		Conversations []Correspondent `json:"conversations"`
	}
	if err := rc.getJSON(ctx, "/messages", &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (rc *restClient) history(ctx context.Context, peerID string) (string, []Message, error) {
	var out struct {
		RoomID   string    `json:"roomId"`
		Messages []Message `json:"messages"`
	}
	if err := rc.getJSON(ctx, "/messages/"+url.PathEscape(peerID), &out); err != nil {
		return "", nil, err
	}
	return out.RoomID, out.Messages, nil
}

func (rc *restClient) unreadCounts(ctx context.Context) (map[string]int, error) {
	var out struct {
		Unread map[string]int `json:"unread"`
	}
	if err := rc.getJSON(ctx, "/unread", &out); err != nil {
		return nil, err
	}
	return out.Unread, nil
}

func (rc *restClient) pin(ctx context.Context, peerID string) error {
	return rc.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(peerID)+"/pin")
}

func (rc *restClient) unpin(ctx context.Context, peerID string) error {
	return rc.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(peerID)+"/pin")
}

func (rc *restClient) hide(ctx context.Context, peerID string) error {
	return rc.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(peerID))
}

func (rc *restClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+rc.token)

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (rc *restClient) do(ctx context.Context, method, path string) error {
	req, err := http.NewRequestWithContext(ctx, method, rc.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+rc.token)

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrAuthRejected
	case resp.StatusCode >= 400:
		return fmt.Errorf("messaging service returned %d", resp.StatusCode)
	}
	return nil
}
