package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of products per catalog page
const DefaultPageSize = 3

// CatalogService serves the paginated product listing
type CatalogService struct {
	products ProductReader
	cache    CountCache
	pageSize int
	countTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service; cache may be nil
func NewCatalogService(products ProductReader, cache CountCache, pageSize int, countTTL time.Duration) *CatalogService {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &CatalogService{
		products: products,
		cache:    cache,
		pageSize: pageSize,
		countTTL: countTTL,
		logger:   util.ComponentLogger("catalog"),
	}
}

// PageSize returns the configured page size
func (s *CatalogService) PageSize() int {
	return s.pageSize
}

// ListProducts counts the catalog, then fetches the requested page.
// The two reads are not transactionally consistent.
func (s *CatalogService) ListProducts(ctx context.Context, page int) (*models.ProductPage, error) {
	if page < 1 {
		page = 1
	}
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts", attribute.Int("page", page))
	defer span.End()

	total, err := s.countProducts(ctx)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load products", err)
	}

	size := int64(s.pageSize)
	lastPage := int((total + size - 1) / size)

	result := &models.ProductPage{
		Items:        []models.Product{},
		TotalCount:   total,
		CurrentPage:  page,
		HasPrevious:  page > 1,
		PreviousPage: page - 1,
		LastPage:     lastPage,
	}

	// page-1 > total already puts the offset past the end and keeps the products below in range
	if int64(page-1) > total {
		util.CatalogPagesServed.Inc()
		return result, nil
	}

	offset := int64(page-1) * size
	result.HasNext = offset+size < total
	if result.HasNext {
		result.NextPage = page + 1
	}
	if offset >= total {
		util.CatalogPagesServed.Inc()
		return result, nil
	}

	items, err := s.products.ListProducts(ctx, int(offset), s.pageSize)
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load products", err)
	}
	result.Items = items

	util.CatalogPagesServed.Inc()
	return result, nil
}

// GetProduct retrieves one product
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct", attribute.Int64("product_id", id))
	defer span.End()

	product, err := s.products.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Product not found")
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, apperr.Retrievable("Failed to load product", err)
	}
	return product, nil
}

func (s *CatalogService) countProducts(ctx context.Context) (int64, error) {
	if s.cache != nil {
		count, ok, err := s.cache.GetProductCount(ctx)
		switch {
		case err != nil:
			util.CatalogCountCache.WithLabelValues("error").Inc()
			s.logger.Warn("Product count cache read failed, falling back to DB", zap.Error(err))
		case ok:
			util.CatalogCountCache.WithLabelValues("hit").Inc()
			return count, nil
		default:
			util.CatalogCountCache.WithLabelValues("miss").Inc()
		}
	}

	count, err := s.products.CountProducts(ctx)
	if err != nil {
		return 0, err
	}

	if s.cache != nil && s.countTTL > 0 {
		if err := s.cache.SetProductCount(ctx, count, s.countTTL); err != nil {
			s.logger.Warn("Failed to cache product count", zap.Error(err))
		}
	}
	return count, nil
}
