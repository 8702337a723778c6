package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// LinkedInConfig holds the configuration for the LinkedIn adapter.
type LinkedInConfig struct {
	BaseURL string        `env:"LINKEDIN_API_BASE_URL" envDefault:"https://api.linkedin.com"`
	Timeout time.Duration `env:"LINKEDIN_API_TIMEOUT" envDefault:"30s"`
}

// Credentials are the per-account secrets needed to post on LinkedIn.
type Credentials struct {
	AccessToken string
	// AuthorURN identifies the posting member or organization,
	// e.g. "urn:li:person:abc123".
	AuthorURN string
}

// CredentialSource looks up LinkedIn credentials for a connected account.
// Implementations return ErrNoCredentials when the account has no valid
// token; the failure is permanent for the post being delivered.
type CredentialSource interface {
	Credentials(ctx context.Context, accountID uuid.UUID) (*Credentials, error)
}

// LinkedInPublisher implements Publisher against the LinkedIn UGC Posts
// API.
type LinkedInPublisher struct {
	config LinkedInConfig
	creds  CredentialSource
	client *http.Client
}

// LinkedInOption configures the LinkedIn publisher.
type LinkedInOption func(*LinkedInPublisher)

// WithLinkedInHTTPClient sets a custom HTTP client. Useful for testing.
func WithLinkedInHTTPClient(client *http.Client) LinkedInOption {
	return func(p *LinkedInPublisher) {
		p.client = client
	}
}

// NewLinkedInPublisher creates a LinkedIn publisher.
func NewLinkedInPublisher(config LinkedInConfig, creds CredentialSource, opts ...LinkedInOption) (*LinkedInPublisher, error) {
	if creds == nil {
		return nil, fmt.Errorf("linkedin publisher: nil credential source")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.linkedin.com"
	}

	p := &LinkedInPublisher{
		config: config,
		creds:  creds,
		client: &http.Client{Timeout: config.Timeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type ugcShareCommentary struct {
	Text string `json:"text"`
}

type ugcMedia struct {
	Status      string `json:"status"`
	OriginalURL string `json:"originalUrl"`
}

type ugcShareContent struct {
	ShareCommentary    ugcShareCommentary `json:"shareCommentary"`
	ShareMediaCategory string             `json:"shareMediaCategory"`
	Media              []ugcMedia         `json:"media,omitempty"`
}

type ugcPostRequest struct {
	Author          string                     `json:"author"`
	LifecycleState  string                     `json:"lifecycleState"`
	SpecificContent map[string]ugcShareContent `json:"specificContent"`
	Visibility      map[string]string          `json:"visibility"`
}

type ugcPostResponse struct {
	ID string `json:"id"`
}

type ugcErrorResponse struct {
	Message string `json:"message"`
}

// Publish implements Publisher. Failures carry retry classification:
// network errors, rate limits and 5xx come back transient, auth and
// validation rejections permanent.
func (p *LinkedInPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	creds, err := p.creds.Credentials(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("lookup credentials: %w", err)
	}

	body := ugcPostRequest{
		Author:         creds.AuthorURN,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]ugcShareContent{
			"com.linkedin.ugc.ShareContent": buildShareContent(req),
		},
		Visibility: map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v2/ugcPosts", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, Transient("linkedin request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient("failed to read linkedin response", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg := "linkedin rejected the post"
		var errResp ugcErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return nil, statusError(resp.StatusCode, msg)
	}

	var created ugcPostResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, Transient("failed to parse linkedin response", err)
	}

	return &PublishResult{
		ExternalID:  created.ID,
		PublishedAt: time.Now(),
	}, nil
}

func buildShareContent(req PublishRequest) ugcShareContent {
	content := ugcShareContent{
		ShareCommentary:    ugcShareCommentary{Text: req.Content},
		ShareMediaCategory: "NONE",
	}
	if len(req.MediaURLs) > 0 {
		content.ShareMediaCategory = "IMAGE"
		content.Media = make([]ugcMedia, len(req.MediaURLs))
		for i, url := range req.MediaURLs {
			content.Media[i] = ugcMedia{Status: "READY", OriginalURL: url}
		}
	}
	return content
}
