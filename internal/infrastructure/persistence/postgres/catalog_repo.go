package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// CatalogRepository reads the content_items read model. The catalog service
// owns the table; the engagement core never writes it.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

var _ catalog.Catalog = (*CatalogRepository)(nil)

const contentItemColumns = `
	content_id, course_id, title, kind, nominal_duration_seconds, total_pages,
	is_required, module_order, content_order`

// Lookup returns a content item by ID.
func (r *CatalogRepository) Lookup(ctx context.Context, id shared.ContentID) (*catalog.Item, error) {
	item, err := scanContentItem(r.conn.QueryRow(ctx, `
		SELECT `+contentItemColumns+`
		FROM content_items
		WHERE content_id = $1`,
		id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to lookup content item: %w", err)
	}
	return item, nil
}

// ListRequired returns the required items of a course in catalog order.
func (r *CatalogRepository) ListRequired(ctx context.Context, course shared.CourseID) ([]catalog.Item, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+contentItemColumns+`
		FROM content_items
		WHERE course_id = $1 AND is_required
		ORDER BY module_order, content_order, content_id`,
		course.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list required items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanContentItem(row pgx.Row) (*catalog.Item, error) {
	var (
		item                  catalog.Item
		content, course, kind string
		seconds               *int64
	)

	err := row.Scan(
		&content, &course, &item.Title, &kind, &seconds, &item.TotalPages,
		&item.IsRequired, &item.ModuleOrder, &item.ContentOrder,
	)
	if err != nil {
		return nil, err
	}

	item.ContentID = shared.ContentID(content)
	item.CourseID = shared.CourseID(course)
	item.Kind = catalog.Kind(kind)
	if seconds != nil {
		d := time.Duration(*seconds) * time.Second
		item.NominalDuration = &d
	}
	return &item, nil
}
