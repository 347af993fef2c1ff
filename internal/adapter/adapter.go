// Package adapter turns vendor listing HTML into normalized products.
// Adapters are pure: they never perform network I/O.
package adapter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
)

// Selectors locates product fields inside a listing page.
type Selectors struct {
	ProductCard     string
	ProductLink     string
	ProductImage    string
	StrainType      string
	Badge           string
	Rating          string
	ReviewCount     string
	THC             string
	CBD             string
	FloweringTime   string
	GrowingLevel    string
	AttributeText   string
	VariationInputs string
	Pagination      string
	ResultCount     string
	PageSize        int
}

// Extraction is what an adapter returns for one page. MaxPage is nil when
// the page carries no pagination signal.
type Extraction struct {
	Products []crawler.Product
	MaxPage  *int
}

// Adapter is implemented once per supported vendor.
type Adapter interface {
	Key() string
	Selectors() Selectors
	PageURL(baseURL, sourcePath string, page int) (string, error)
	Extract(html []byte, sel Selectors, baseURL string) (Extraction, error)
}

// ErrUnknownAdapter is returned for keys with no registered adapter.
var ErrUnknownAdapter = errors.New("unknown adapter")

// Registry resolves adapters by key.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Key()] = a
	}
	return r
}

// DefaultRegistry returns every built-in vendor adapter.
func DefaultRegistry() *Registry {
	return NewRegistry(NewVancouver(), NewSunWest())
}

// Lookup returns the adapter registered under key.
func (r *Registry) Lookup(key string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, key)
	}
	return a, nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, err := r.Lookup(key)
	return err == nil
}

// Keys lists registered adapter keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that every vendor references a known adapter and carries
// at least one source.
func (r *Registry) Validate(vendors []crawler.Vendor) error {
	var errs []error
	for _, v := range vendors {
		if _, err := r.Lookup(v.Adapter); err != nil {
			errs = append(errs, fmt.Errorf("vendor %s: %w", v.ID, err))
		}
		if len(v.Sources) == 0 {
			errs = append(errs, fmt.Errorf("vendor %s: no sources configured", v.ID))
		}
		if v.BaseURL == "" {
			errs = append(errs, fmt.Errorf("vendor %s: base url required", v.ID))
		}
	}
	return errors.Join(errs...)
}
