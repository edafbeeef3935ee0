// Package gmail creates email drafts through the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
)

const defaultBaseURL = "https://gmail.googleapis.com"

type Client struct {
	accessToken string
	baseURL     string
	httpClient  *http.Client
}

func NewClient(accessToken, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		accessToken: strings.TrimSpace(accessToken),
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.accessToken) != ""
}

// CreateDraft builds an RFC822 message and saves it as a draft in the
// authenticated user's mailbox. It returns the draft id.
func (c *Client) CreateDraft(ctx context.Context, recipient, subject, body string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("gmail access token is not configured")
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", fmt.Errorf("recipient is required")
	}
	if _, err := mail.ParseAddress(recipient); err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}

	raw := base64.URLEncoding.EncodeToString(buildRFC822(recipient, subject, body))
	payload, err := json.Marshal(map[string]any{
		"message": map[string]any{"raw": raw},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/gmail/v1/users/me/drafts", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return "", fmt.Errorf("gmail error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", fmt.Errorf("gmail: draft response missing id")
	}
	return decoded.ID, nil
}

func buildRFC822(recipient, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}

// sanitizeHeader strips CR and LF so body text cannot inject extra headers.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(v)
}
