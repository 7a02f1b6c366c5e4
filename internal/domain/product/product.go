// Package product defines the catalog item read model used for price
// validation at order time.
package product

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vietcart/fulfillment/internal/domain/payment"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// ErrInvalidImageURL is returned when a catalog integrity check finds a
// malformed product image URL.
var ErrInvalidImageURL = errors.New("invalid product image url")

// Product is a catalog item. Price is the list price; FinalPrice is the
// currently advertised (possibly discounted) price a client may have seen.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	FinalPrice decimal.Decimal
	Currency   payment.Currency
	ImageURL   string
}

// ValidateImageURL checks that the product's image URL is an absolute
// http(s) URL. Used on ad-hoc checkout paths where the catalog entry was
// not vetted by the cart flow.
func (p *Product) ValidateImageURL() error {
	u, err := url.Parse(p.ImageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidImageURL
	}
	return nil
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
