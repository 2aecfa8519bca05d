package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/c360/smartcache/config"
	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/pkg/binding"
	"github.com/c360/smartcache/pkg/tlsutil"
)

// Product is one storefront listing as served by the catalog backend.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	InStock  bool    `json:"in_stock"`
}

// maxCatalogBody caps a backend response.
const maxCatalogBody = 4 << 20

// Catalog fetches product listings per shop from the upstream backend.
type Catalog struct {
	base   *url.URL
	client *http.Client
}

// NewCatalog creates a client for cfg.BackendURL. RequestTimeout bounds
// each request; TLS settings apply to https backends.
func NewCatalog(cfg config.CatalogConfig) (*Catalog, error) {
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "catalog", "NewCatalog",
			fmt.Sprintf("backend url %q", cfg.BackendURL))
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}
	if !cfg.TLS.IsZero() {
		tlsConfig, err := tlsutil.ClientTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		client.Transport = transport
	}
	return &Catalog{base: u, client: client}, nil
}

// ProductsKey is the cache key for a shop's listing.
func ProductsKey(shopID string) string {
	return binding.Key("shop", shopID, "products")
}

// validateShopID rejects ids that would escape the products path or the
// cache key namespace.
func validateShopID(shopID string) error {
	if shopID == "" || strings.ContainsAny(shopID, "/:?# ") {
		return errors.WrapInvalid(errors.ErrInvalidKey, "catalog", "validateShopID", fmt.Sprintf("shop id %q", shopID))
	}
	return nil
}

// Products fetches GET {backend}/shops/{id}/products.
func (c *Catalog) Products(ctx context.Context, shopID string) ([]Product, error) {
	if err := validateShopID(shopID); err != nil {
		return nil, err
	}

	endpoint := c.base.JoinPath("shops", shopID, "products")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "catalog", "Products", "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "catalog", "Products", "request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.WrapTransient(fmt.Errorf("%w: backend returned %s", errors.ErrFetchFailed, resp.Status),
			"catalog", "Products", "shop "+shopID)
	case resp.StatusCode != http.StatusOK:
		return nil, errors.WrapInvalid(fmt.Errorf("backend returned %s", resp.Status),
			"catalog", "Products", "shop "+shopID)
	}

	var products []Product
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogBody)).Decode(&products); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"catalog", "Products", "decode shop "+shopID)
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

// Fetcher binds Products to one shop.
func (c *Catalog) Fetcher(shopID string) binding.Fetcher[[]Product] {
	return func(ctx context.Context) ([]Product, error) {
		return c.Products(ctx, shopID)
	}
}
