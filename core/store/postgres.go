package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/supportdesk/core/csql"
	"github.com/relabs-tech/supportdesk/core/logger"
)

var validResourceName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Postgres is a Store on top of a postgres database. Every resource gets its own table in
// the database's schema, with the properties stored as jsonb.
type Postgres struct {
	db *csql.DB
}

// NewPostgres returns a new postgres store
func NewPostgres(db *csql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) table(resource string) (string, error) {
	if !validResourceName.MatchString(resource) {
		return "", fmt.Errorf("invalid resource name '%s'", resource)
	}
	return fmt.Sprintf(`"%s"."%s"`, p.db.Schema, resource), nil
}

// EnsureCollection creates the table for resource if it does not exist yet
func (p *Postgres) EnsureCollection(ctx context.Context, resource string) error {
	table, err := p.table(resource)
	if err != nil {
		return err
	}
	createQuery := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
%[2]s_id uuid PRIMARY KEY,
owner uuid,
created_at timestamptz NOT NULL,
updated_at timestamptz NOT NULL,
revision integer NOT NULL DEFAULT 1,
properties jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS %[2]s_owner_created_at ON %[1]s(owner, created_at);
CREATE INDEX IF NOT EXISTS %[2]s_created_at ON %[1]s(created_at);`, table, resource)

	logger.FromContext(ctx).Debugf("ensure collection %s", table)
	if _, err = p.db.ExecContext(ctx, createQuery); err != nil {
		return fmt.Errorf("cannot create collection %s: %w", resource, err)
	}
	return nil
}

func nullableOwner(owner uuid.UUID) interface{} {
	if owner == uuid.Nil {
		return nil
	}
	return owner
}

// Create implements Store
func (p *Postgres) Create(ctx context.Context, doc *Document) error {
	table, err := p.table(doc.Resource)
	if err != nil {
		return err
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	properties, err := json.Marshal(cloneProperties(doc.Properties))
	if err != nil {
		return fmt.Errorf("cannot marshal properties: %w", err)
	}

	insertQuery := fmt.Sprintf(`INSERT INTO %s (%s_id, owner, created_at, updated_at, revision, properties)
VALUES($1, $2, $3, $3, 1, $4);`, table, doc.Resource)
	createdAt := now()
	_, err = p.db.ExecContext(ctx, insertQuery, doc.ID, nullableOwner(doc.Owner), createdAt, string(properties))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return ErrAlreadyExists
		}
		return fmt.Errorf("cannot insert into %s: %w", doc.Resource, err)
	}
	doc.CreatedAt = createdAt
	doc.UpdatedAt = createdAt
	doc.Revision = 1
	doc.Properties = cloneProperties(doc.Properties)
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner, doc *Document, extra ...interface{}) error {
	var (
		owner      uuid.NullUUID
		properties []byte
	)
	dest := append([]interface{}{&doc.ID, &owner, &doc.CreatedAt, &doc.UpdatedAt, &doc.Revision, &properties}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	if owner.Valid {
		doc.Owner = owner.UUID
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	doc.Properties = map[string]interface{}{}
	return json.Unmarshal(properties, &doc.Properties)
}

// Read implements Store
func (p *Postgres) Read(ctx context.Context, resource string, id uuid.UUID) (*Document, error) {
	table, err := p.table(resource)
	if err != nil {
		return nil, err
	}
	readQuery := fmt.Sprintf(`SELECT %s_id, owner, created_at, updated_at, revision, properties FROM %s WHERE %s_id = $1;`,
		resource, table, resource)
	doc := &Document{Resource: resource}
	err = scanDocument(p.db.QueryRowContext(ctx, readQuery, id), doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s %s: %w", resource, id, err)
	}
	return doc, nil
}

// Update implements Store. The update is a single statement, so concurrent updates of the
// same document are serialized by the database.
func (p *Postgres) Update(ctx context.Context, doc *Document) error {
	table, err := p.table(doc.Resource)
	if err != nil {
		return err
	}
	properties, err := json.Marshal(cloneProperties(doc.Properties))
	if err != nil {
		return fmt.Errorf("cannot marshal properties: %w", err)
	}
	updateQuery := fmt.Sprintf(`UPDATE %s SET properties = $2, updated_at = GREATEST($3, updated_at), revision = revision + 1
WHERE %s_id = $1
RETURNING %s_id, owner, created_at, updated_at, revision, properties;`, table, doc.Resource, doc.Resource)

	updated := &Document{Resource: doc.Resource}
	err = scanDocument(p.db.QueryRowContext(ctx, updateQuery, doc.ID, string(properties), now()), updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cannot update %s %s: %w", doc.Resource, doc.ID, err)
	}
	*doc = *updated
	return nil
}

// Delete implements Store
func (p *Postgres) Delete(ctx context.Context, resource string, id uuid.UUID) error {
	table, err := p.table(resource)
	if err != nil {
		return err
	}
	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE %s_id = $1;`, table, resource)
	res, err := p.db.ExecContext(ctx, deleteQuery, id)
	if err != nil {
		return fmt.Errorf("cannot delete %s %s: %w", resource, id, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store
func (p *Postgres) List(ctx context.Context, resource string, query Query) (*Page, error) {
	table, err := p.table(resource)
	if err != nil {
		return nil, err
	}

	var (
		conditions []string
		parameters []interface{}
	)
	param := func(v interface{}) string {
		parameters = append(parameters, v)
		return "$" + strconv.Itoa(len(parameters))
	}
	if query.Owner != uuid.Nil {
		conditions = append(conditions, "owner = "+param(query.Owner))
	}
	for _, filter := range query.Filters {
		switch filter.Operator {
		case Equal:
			conditions = append(conditions, fmt.Sprintf("properties->>(%s::text) = %s", param(filter.Property), param(filter.Value)))
		case Like:
			pattern := strings.ReplaceAll(filter.Value, "*", "%")
			conditions = append(conditions, fmt.Sprintf("properties->>(%s::text) LIKE %s", param(filter.Property), param(pattern)))
		default:
			return nil, fmt.Errorf("unsupported filter operator '%s'", filter.Operator)
		}
	}
	if !query.From.IsZero() {
		conditions = append(conditions, "created_at >= "+param(query.From))
	}
	if !query.Until.IsZero() {
		conditions = append(conditions, "created_at <= "+param(query.Until))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	order := "DESC"
	if query.Ascending {
		order = "ASC"
	}
	countParameters := len(parameters)

	listQuery := fmt.Sprintf(`SELECT %[1]s_id, owner, created_at, updated_at, revision, properties, count(*) OVER() AS full_count
FROM %[2]s %[3]s ORDER BY created_at %[4]s, %[1]s_id %[4]s LIMIT %[5]s OFFSET %[6]s;`,
		resource, table, where, order, param(query.limit()), param(query.offset()))

	rows, err := p.db.QueryContext(ctx, listQuery, parameters...)
	if err != nil {
		return nil, fmt.Errorf("cannot list %s: %w", resource, err)
	}
	defer rows.Close()

	page := &Page{Documents: []*Document{}}
	for rows.Next() {
		doc := &Document{Resource: resource}
		if err := scanDocument(rows, doc, &page.TotalCount); err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", resource, err)
		}
		page.Documents = append(page.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Documents) == 0 && query.offset() > 0 {
		// the window count is not available beyond the last page
		countQuery := fmt.Sprintf(`SELECT count(*) FROM %s %s;`, table, where)
		if err := p.db.QueryRowContext(ctx, countQuery, parameters[:countParameters]...).Scan(&page.TotalCount); err != nil {
			return nil, fmt.Errorf("cannot count %s: %w", resource, err)
		}
	}
	return page, nil
}
