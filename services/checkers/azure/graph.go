package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"golang.org/x/oauth2"
)

const (
	graphScope    = "https://graph.microsoft.com/.default"
	graphTimeout  = 30 * time.Second
	maxGraphPages = 100
)

// APIError is a non-2xx response from Microsoft Graph
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("graph: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// tokenSource serves Graph tokens from the service principal credential
type tokenSource struct {
	ctx  context.Context
	cred azcore.TokenCredential
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cred.GetToken(s.ctx, policy.TokenRequestOptions{Scopes: []string{graphScope}})
	if err != nil {
		return nil, fmt.Errorf("graph: acquire token: %w", err)
	}
	return &oauth2.Token{AccessToken: tok.Token, TokenType: "Bearer", Expiry: tok.ExpiresOn}, nil
}

type graphClient struct {
	http *http.Client
	base *url.URL
}

func newGraphClient(ctx context.Context, endpoint string, cred azcore.TokenCredential, base *http.Client) (*graphClient, error) {
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("graph: invalid endpoint %q", endpoint)
	}
	if base == nil {
		base = &http.Client{Timeout: graphTimeout}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return &graphClient{
		http: oauth2.NewClient(ctx, oauth2.ReuseTokenSource(nil, tokenSource{ctx: ctx, cred: cred})),
		base: u,
	}, nil
}

func (c *graphClient) get(ctx context.Context, target *url.URL, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("graph: failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("graph: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("graph: failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(body, &env) == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

type graphPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// graphList follows @odata.nextLink. A listing that is still paging after
// maxGraphPages, or that links off the Graph host, is an error rather than a
// partial result.
func graphList[T any](ctx context.Context, c *graphClient, path string) ([]T, error) {
	next := c.base.String() + path
	var all []T
	for page := 0; next != ""; page++ {
		if page == maxGraphPages {
			return nil, fmt.Errorf("graph: %s still paging after %d pages", path, maxGraphPages)
		}
		target, err := url.Parse(next)
		if err != nil {
			return nil, fmt.Errorf("graph: invalid next link: %w", err)
		}
		if !strings.EqualFold(target.Scheme, c.base.Scheme) || !strings.EqualFold(target.Host, c.base.Host) {
			return nil, fmt.Errorf("graph: refusing next link to %q", target.Host)
		}

		var out graphPage[T]
		if err := c.get(ctx, target, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Value...)
		next = out.NextLink
	}
	return all, nil
}
