package store

import (
	"context"
	"fmt"

	"rental-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// CreateTemplate inserts a template with its variants and pieces. A template
// created without variants gets a single variant named after it.
func (s *Store) CreateTemplate(ctx context.Context, tmpl *models.ProductTemplate, variants []models.ProductVariant) error {
	query := `
		INSERT INTO product_templates (name, default_code, list_price, expansion_of)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := s.q.QueryRowxContext(ctx, query,
		tmpl.Name, tmpl.DefaultCode, tmpl.ListPrice, tmpl.ExpansionOf,
	).Scan(&tmpl.ID, &tmpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}

	if len(variants) == 0 {
		variants = []models.ProductVariant{{Name: tmpl.Name}}
	}

	tmpl.VariantIDs = tmpl.VariantIDs[:0]
	for i := range variants {
		variants[i].TemplateID = tmpl.ID
		err := s.q.QueryRowxContext(ctx,
			"INSERT INTO product_variants (product_template_id, name) VALUES ($1, $2) RETURNING id",
			tmpl.ID, variants[i].Name,
		).Scan(&variants[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert variant: %w", err)
		}
		tmpl.VariantIDs = append(tmpl.VariantIDs, variants[i].ID)
	}

	for i := range tmpl.Pieces {
		piece := &tmpl.Pieces[i]
		piece.TemplateID = tmpl.ID
		err := s.q.QueryRowxContext(ctx,
			"INSERT INTO product_pieces (product_template_id, name, qty, group_value) VALUES ($1, $2, $3, $4) RETURNING id",
			tmpl.ID, piece.Name, piece.Qty, piece.GroupValue,
		).Scan(&piece.ID)
		if err != nil {
			return fmt.Errorf("failed to insert piece: %w", err)
		}
	}

	return nil
}

// GetTemplate retrieves a template with its variant ids and pieces
func (s *Store) GetTemplate(ctx context.Context, id int64) (*models.ProductTemplate, error) {
	var tmpl models.ProductTemplate
	err := sqlx.GetContext(ctx, s.q, &tmpl,
		"SELECT id, name, default_code, list_price, expansion_of, created_at FROM product_templates WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product template", id)
	}

	if err := sqlx.SelectContext(ctx, s.q, &tmpl.VariantIDs,
		"SELECT id FROM product_variants WHERE product_template_id = $1 ORDER BY id", id); err != nil {
		return nil, err
	}

	pieces, err := s.ListPieces(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl.Pieces = pieces

	return &tmpl, nil
}

// GetTemplates retrieves templates by id, keyed by id. Variants and pieces
// are not loaded.
func (s *Store) GetTemplates(ctx context.Context, ids []int64) (map[int64]models.ProductTemplate, error) {
	var templates []models.ProductTemplate
	err := sqlx.SelectContext(ctx, s.q, &templates,
		"SELECT id, name, default_code, list_price, expansion_of, created_at FROM product_templates WHERE id = ANY($1)",
		pq.Array(ids))
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]models.ProductTemplate, len(templates))
	for _, tmpl := range templates {
		byID[tmpl.ID] = tmpl
	}
	return byID, nil
}

// LockTemplate takes a row lock on the template for the rest of the
// transaction. Pricing rule writes for one template are serialized on it.
func (s *Store) LockTemplate(ctx context.Context, id int64) error {
	var locked int64
	err := sqlx.GetContext(ctx, s.q, &locked,
		"SELECT id FROM product_templates WHERE id = $1 FOR UPDATE", id)
	return notFound(err, "product template", id)
}

// GetVariant retrieves a variant by ID
func (s *Store) GetVariant(ctx context.Context, id int64) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := sqlx.GetContext(ctx, s.q, &variant, "SELECT * FROM product_variants WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product variant", id)
	}
	return &variant, nil
}

// ListVariants retrieves the variants of a template
func (s *Store) ListVariants(ctx context.Context, templateID int64) ([]models.ProductVariant, error) {
	var variants []models.ProductVariant
	err := sqlx.SelectContext(ctx, s.q, &variants,
		"SELECT * FROM product_variants WHERE product_template_id = $1 ORDER BY id", templateID)
	return variants, err
}

// GetPiece retrieves a piece by ID
func (s *Store) GetPiece(ctx context.Context, id int64) (*models.ProductPiece, error) {
	var piece models.ProductPiece
	err := sqlx.GetContext(ctx, s.q, &piece, "SELECT * FROM product_pieces WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "product piece", id)
	}
	return &piece, nil
}

// ListPieces retrieves the pieces of a template
func (s *Store) ListPieces(ctx context.Context, templateID int64) ([]models.ProductPiece, error) {
	var pieces []models.ProductPiece
	err := sqlx.SelectContext(ctx, s.q, &pieces,
		"SELECT * FROM product_pieces WHERE product_template_id = $1 ORDER BY id", templateID)
	return pieces, err
}

// CreateRecurrence creates a new recurrence
func (s *Store) CreateRecurrence(ctx context.Context, rec *models.Recurrence) error {
	return s.q.QueryRowxContext(ctx,
		"INSERT INTO recurrences (duration, unit) VALUES ($1, $2) RETURNING id",
		rec.Duration, rec.Unit,
	).Scan(&rec.ID)
}

// GetRecurrence retrieves a recurrence by ID
func (s *Store) GetRecurrence(ctx context.Context, id int64) (*models.Recurrence, error) {
	var rec models.Recurrence
	err := sqlx.GetContext(ctx, s.q, &rec, "SELECT * FROM recurrences WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "recurrence", id)
	}
	return &rec, nil
}

// ListRecurrences retrieves all recurrences
func (s *Store) ListRecurrences(ctx context.Context) ([]models.Recurrence, error) {
	var recs []models.Recurrence
	err := sqlx.SelectContext(ctx, s.q, &recs, "SELECT * FROM recurrences ORDER BY id")
	return recs, err
}

// CreatePricelist creates a new pricelist
func (s *Store) CreatePricelist(ctx context.Context, pl *models.Pricelist) error {
	return s.q.QueryRowxContext(ctx,
		"INSERT INTO pricelists (name, currency) VALUES ($1, $2) RETURNING id",
		pl.Name, pl.Currency,
	).Scan(&pl.ID)
}

// GetPricelist retrieves a pricelist by ID
func (s *Store) GetPricelist(ctx context.Context, id int64) (*models.Pricelist, error) {
	var pl models.Pricelist
	err := sqlx.GetContext(ctx, s.q, &pl, "SELECT * FROM pricelists WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "pricelist", id)
	}
	return &pl, nil
}
