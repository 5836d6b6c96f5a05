package services

import (
	"context"
	"strings"

	"toko-catalog/internal/apperror"
	"toko-catalog/internal/models"
	"toko-catalog/internal/repositories"
)

// StatsService summarises the catalog.
type StatsService struct {
	repo repositories.ProductRepository
}

// NewStatsService creates a new StatsService.
func NewStatsService(repo repositories.ProductRepository) *StatsService {
	return &StatsService{repo: repo}
}

// StatsByField groups every product by field with count and price figures per group.
func (s *StatsService) StatsByField(ctx context.Context, field string) ([]models.StatsBucket, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, apperror.InvalidQuery("a field to group by is required")
	}
	return s.repo.AggregateByField(ctx, field)
}
