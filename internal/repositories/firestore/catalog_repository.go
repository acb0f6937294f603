package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/shopnest/api/internal/domain"
	pfirestore "github.com/shopnest/api/internal/platform/firestore"
)

const productsCollection = "products"

// CatalogRepository reads product documents maintained by the admin surface.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[domain.Product]
}

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[domain.Product](provider, productsCollection, nil, nil),
	}, nil
}

// FindProduct fetches a product by its document reference.
func (r *CatalogRepository) FindProduct(ctx context.Context, productRef string) (domain.Product, error) {
	id := strings.TrimSpace(productRef)
	if id == "" {
		return domain.Product{}, pfirestore.WrapError("products.find", errors.New("product ref is required"))
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data
	product.ID = doc.ID
	return product, nil
}
