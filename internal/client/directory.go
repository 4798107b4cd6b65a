package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

const defaultDirectoryTimeout = 5 * time.Second

// DirectoryClient talks to the tenant/user directory service. It answers
// existence checks and resolves job filters into candidate items.
type DirectoryClient struct {
	client  *resty.Client
	baseURL string
}

type itemsResponse struct {
	Items []map[string]any `json:"items"`
}

type resolveUsersRequest struct {
	Filters map[string]any `json:"filters,omitempty"`
}

type resolveCategoriesRequest struct {
	Categories []map[string]any `json:"categories,omitempty"`
	Filters    map[string]any   `json:"filters,omitempty"`
}

func NewDirectoryClient(baseURL string) (*DirectoryClient, error) {
	client := resty.New()
	client.SetTimeout(defaultDirectoryTimeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(100 * time.Millisecond)
	client.SetRetryMaxWaitTime(time.Second)

	return NewDirectoryClientWithClient(baseURL, client)
}

func NewDirectoryClientWithClient(baseURL string, client *resty.Client) (*DirectoryClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("directory url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid directory url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDirectoryTimeout)
	}

	return &DirectoryClient{
		client:  client,
		baseURL: trimmed,
	}, nil
}

// Exists reports whether the user or category id is known to the directory.
func (c *DirectoryClient) Exists(ctx context.Context, kind domain.DataSourceType, id string) (bool, error) {
	resource, err := resourceFor(kind)
	if err != nil {
		return false, err
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get(c.baseURL + "/v1/" + resource + "/{id}")
	if err != nil {
		return false, fmt.Errorf("directory lookup failed: %w", err)
	}

	switch response.StatusCode() {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		return false, nil
	default:
		return false, fmt.Errorf("directory lookup returned status %d", response.StatusCode())
	}
}

// ResolveUsers returns the user items matching the job filters.
func (c *DirectoryClient) ResolveUsers(ctx context.Context, filters map[string]any) ([]domain.Item, error) {
	var out itemsResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(resolveUsersRequest{Filters: filters}).
		SetResult(&out).
		Post(c.baseURL + "/v1/users/search")
	if err != nil {
		return nil, fmt.Errorf("resolve users failed: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("resolve users returned status %d", response.StatusCode())
	}
	return toItems(out.Items), nil
}

// ResolveCategories returns the category items for the configured categories.
// Each returned item may embed user_ids or member_ids.
func (c *DirectoryClient) ResolveCategories(ctx context.Context, categories []map[string]any, filters map[string]any) ([]domain.Item, error) {
	var out itemsResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(resolveCategoriesRequest{Categories: categories, Filters: filters}).
		SetResult(&out).
		Post(c.baseURL + "/v1/categories/resolve")
	if err != nil {
		return nil, fmt.Errorf("resolve categories failed: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("resolve categories returned status %d", response.StatusCode())
	}
	return toItems(out.Items), nil
}

func resourceFor(kind domain.DataSourceType) (string, error) {
	switch kind {
	case domain.SourceUsers:
		return "users", nil
	case domain.SourceCategories:
		return "categories", nil
	}
	return "", fmt.Errorf("%w: unsupported data source %q", domain.ErrValidation, kind)
}

func toItems(raw []map[string]any) []domain.Item {
	items := make([]domain.Item, 0, len(raw))
	for _, m := range raw {
		items = append(items, domain.Item(m))
	}
	return items
}
