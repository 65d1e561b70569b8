package service

import (
	"context"
	"fmt"
	"strings"

	"rental-service/internal/models"
	"rental-service/internal/rental"
	"rental-service/internal/store"
	"rental-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CatalogService maintains product templates, recurrences and pricelists
type CatalogService struct {
	store           *store.Store
	defaultCurrency string
	logger          *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store, defaultCurrency string) *CatalogService {
	return &CatalogService{
		store:           store,
		defaultCurrency: defaultCurrency,
		logger:          util.GetLogger(),
	}
}

// CreateTemplateRequest represents a request to create a product template
type CreateTemplateRequest struct {
	Name        string          `json:"name" binding:"required"`
	DefaultCode string          `json:"default_code"`
	ListPrice   decimal.Decimal `json:"list_price"`
	ExpansionOf *int64          `json:"expansion_of"`
	Variants    []string        `json:"variants"`
	Pieces      []PieceRequest  `json:"pieces"`
}

// PieceRequest describes a piece of a new template
type PieceRequest struct {
	Name       string          `json:"name" binding:"required"`
	Qty        int             `json:"qty"`
	GroupValue decimal.Decimal `json:"group_value"`
}

// PieceView is a piece with its derived individual value
type PieceView struct {
	models.ProductPiece
	IndividualValue decimal.Decimal `json:"individual_value"`
}

// TemplateView is a template with its variants and valued pieces
type TemplateView struct {
	*models.ProductTemplate
	Variants []models.ProductVariant `json:"variants"`
	Pieces   []PieceView             `json:"pieces"`
}

// CreateTemplate creates a template with its variants and pieces
func (s *CatalogService) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*TemplateView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateTemplate")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if err = validateTemplateRequest(req); err != nil {
		return nil, err
	}

	tmpl := &models.ProductTemplate{
		Name:        req.Name,
		DefaultCode: req.DefaultCode,
		ListPrice:   req.ListPrice,
		ExpansionOf: req.ExpansionOf,
	}
	for _, p := range req.Pieces {
		tmpl.Pieces = append(tmpl.Pieces, models.ProductPiece{Name: p.Name, Qty: p.Qty, GroupValue: p.GroupValue})
	}

	variants := make([]models.ProductVariant, 0, len(req.Variants))
	for _, name := range req.Variants {
		variants = append(variants, models.ProductVariant{Name: name})
	}

	err = s.store.RunInTx(ctx, func(tx *store.Store) error {
		if tmpl.ExpansionOf != nil {
			if _, err := tx.GetTemplate(ctx, *tmpl.ExpansionOf); err != nil {
				return fmt.Errorf("base product: %w", err)
			}
		}
		return tx.CreateTemplate(ctx, tmpl, variants)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Product template created",
		zap.Int64("template_id", tmpl.ID),
		zap.String("name", tmpl.Name),
		zap.Int("variants", len(tmpl.VariantIDs)))

	return s.GetTemplate(ctx, tmpl.ID)
}

func validateTemplateRequest(req *CreateTemplateRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.ListPrice.IsNegative() {
		return fmt.Errorf("%w: list price must not be negative", ErrInvalidInput)
	}
	for _, p := range req.Pieces {
		if p.Qty < 0 || p.GroupValue.IsNegative() {
			return fmt.Errorf("%w: piece %q has a negative quantity or value", ErrInvalidInput, p.Name)
		}
	}
	return nil
}

// GetTemplate retrieves a template with its variants and valued pieces
func (s *CatalogService) GetTemplate(ctx context.Context, id int64) (*TemplateView, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetTemplate", attribute.Int64("template_id", id))
	defer span.End()

	tmpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	variants, err := s.store.ListVariants(ctx, id)
	if err != nil {
		return nil, err
	}

	return &TemplateView{
		ProductTemplate: tmpl,
		Variants:        variants,
		Pieces:          valuePieces(tmpl.Pieces, tmpl.ListPrice),
	}, nil
}

// ListPieces lists the pieces of a template with their individual value
func (s *CatalogService) ListPieces(ctx context.Context, templateID int64) ([]PieceView, error) {
	tmpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return valuePieces(tmpl.Pieces, tmpl.ListPrice), nil
}

func valuePieces(pieces []models.ProductPiece, listPrice decimal.Decimal) []PieceView {
	views := make([]PieceView, 0, len(pieces))
	for _, piece := range pieces {
		views = append(views, PieceView{
			ProductPiece:    piece,
			IndividualValue: rental.PieceValue(piece, listPrice),
		})
	}
	return views
}

// CreateRecurrence creates a billing recurrence
func (s *CatalogService) CreateRecurrence(ctx context.Context, duration decimal.Decimal, unit models.Unit) (*models.Recurrence, error) {
	if !duration.IsPositive() {
		return nil, fmt.Errorf("%w: recurrence duration must be positive", ErrInvalidInput)
	}
	if !unit.Valid() {
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidInput, unit)
	}

	rec := &models.Recurrence{Duration: duration, Unit: unit}
	if err := s.store.CreateRecurrence(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create recurrence: %w", err)
	}
	return rec, nil
}

// ListRecurrences lists all recurrences
func (s *CatalogService) ListRecurrences(ctx context.Context) ([]models.Recurrence, error) {
	return s.store.ListRecurrences(ctx)
}

// CreatePricelist creates a pricelist. The configured company currency is
// used when none is given.
func (s *CatalogService) CreatePricelist(ctx context.Context, name, currency string) (*models.Pricelist, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: pricelist name is required", ErrInvalidInput)
	}
	if currency == "" {
		currency = s.defaultCurrency
	}

	pl := &models.Pricelist{Name: name, Currency: strings.ToUpper(currency)}
	if err := s.store.CreatePricelist(ctx, pl); err != nil {
		return nil, fmt.Errorf("failed to create pricelist: %w", err)
	}
	return pl, nil
}

// GetPricelist retrieves a pricelist
func (s *CatalogService) GetPricelist(ctx context.Context, id int64) (*models.Pricelist, error) {
	return s.store.GetPricelist(ctx, id)
}
