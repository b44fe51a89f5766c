package docstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xxxsen/mflix/internal/pkg/dbutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type postgresConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	SSLMode  string `json:"sslmode"`
}

func init() {
	Register("postgres", createPostgresDatabase)
}

// postgresDatabase keeps every collection in its own table of (id, doc jsonb).
// Documents are stored as canonical extended JSON so they decode back into
// the same bson tagged structs the mongo backend uses.
type postgresDatabase struct {
	db *sqlx.DB
}

func createPostgresDatabase(ctx context.Context, dbName string, args interface{}) (Database, error) {
	cfg := &postgresConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	dsn := cfg.DSN
	if dsn == "" {
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, port, cfg.User, cfg.Password, dbName, sslmode)
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &postgresDatabase{db: db}, nil
}

func ApplyMigrations(ctx context.Context, db *sqlx.DB) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return err
		}
		for _, q := range strings.Split(string(content), ";") {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, q); err != nil {
				if strings.Contains(err.Error(), "already exists") {
					continue
				}
				return fmt.Errorf("execute query in %s: %w", file, err)
			}
		}
	}
	return nil
}

func (d *postgresDatabase) Collection(name string) Collection {
	return &postgresCollection{db: d.db, name: name}
}

func (d *postgresDatabase) Close(ctx context.Context) error {
	return d.db.Close()
}

type postgresCollection struct {
	db   *sqlx.DB
	name string
}

func (c *postgresCollection) Name() string {
	return c.name
}

func (c *postgresCollection) table() (string, error) {
	if !validIdent(c.name) {
		return "", fmt.Errorf("invalid collection name: %q", c.name)
	}
	return c.name, nil
}

func (c *postgresCollection) FindOne(ctx context.Context, filter Filter, out interface{}) error {
	table, err := c.table()
	if err != nil {
		return err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return err
	}
	var raw []byte
	query := dbutil.Rebind(fmt.Sprintf("SELECT doc FROM %s WHERE %s LIMIT 1", table, where))
	if err := c.db.GetContext(ctx, &raw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoDocuments
		}
		return err
	}
	return bson.UnmarshalExtJSON(raw, true, out)
}

func (c *postgresCollection) Find(ctx context.Context, filter Filter, opts FindOptions, out interface{}) error {
	table, err := c.table()
	if err != nil {
		return err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT doc FROM %s WHERE %s", table, where)
	if opts.SortField != "" {
		if !validIdent(opts.SortField) {
			return fmt.Errorf("invalid sort field: %q", opts.SortField)
		}
		query += " ORDER BY " + orderBy(opts.SortField, opts.Desc)
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Skip > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Skip)
	}
	var raws [][]byte
	if err := c.db.SelectContext(ctx, &raws, dbutil.Rebind(query), args...); err != nil {
		return err
	}
	target := reflect.ValueOf(out)
	if target.Kind() != reflect.Ptr || target.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("docstore: out must be a pointer to a slice, got %T", out)
	}
	slice := target.Elem()
	result := reflect.MakeSlice(slice.Type(), 0, len(raws))
	for _, raw := range raws {
		item := reflect.New(slice.Type().Elem())
		if err := bson.UnmarshalExtJSON(raw, true, item.Interface()); err != nil {
			return err
		}
		result = reflect.Append(result, item.Elem())
	}
	slice.Set(result)
	return nil
}

func (c *postgresCollection) InsertOne(ctx context.Context, doc interface{}) error {
	table, err := c.table()
	if err != nil {
		return err
	}
	m, err := toDoc(doc)
	if err != nil {
		return err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = uuid.NewString()
	}
	body, err := bson.MarshalExtJSON(m, true, false)
	if err != nil {
		return err
	}
	query := dbutil.Rebind(fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (?, ?::jsonb)", table))
	if _, err := c.db.ExecContext(ctx, query, idString(m["_id"]), string(body)); err != nil {
		if dbutil.IsConflict(err) {
			return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return err
	}
	return nil
}

func (c *postgresCollection) UpdateOne(ctx context.Context, filter Filter, set map[string]interface{}, upsert bool) (UpdateResult, error) {
	if upsert {
		return c.upsert(ctx, filter, set)
	}
	table, err := c.table()
	if err != nil {
		return UpdateResult{}, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	patch, err := bson.MarshalExtJSON(set, true, false)
	if err != nil {
		return UpdateResult{}, err
	}
	query := fmt.Sprintf(`WITH target AS (SELECT id, doc FROM %s WHERE %s LIMIT 1 FOR UPDATE)
		UPDATE %s AS t SET doc = t.doc || ?::jsonb FROM target WHERE t.id = target.id
		RETURNING target.doc IS DISTINCT FROM t.doc`, table, where, table)
	args = append(args, string(patch))
	var modified []bool
	if err := c.db.SelectContext(ctx, &modified, dbutil.Rebind(query), args...); err != nil {
		if dbutil.IsConflict(err) {
			return UpdateResult{}, fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return UpdateResult{}, err
	}
	res := UpdateResult{MatchedCount: int64(len(modified))}
	for _, m := range modified {
		if m {
			res.ModifiedCount++
		}
	}
	return res, nil
}

// upsert is one INSERT ... ON CONFLICT statement against the unique index of
// the filter field. The conflict branch only fires when the patch changes the
// stored document, so no returned row means matched but unmodified.
func (c *postgresCollection) upsert(ctx context.Context, filter Filter, set map[string]interface{}) (UpdateResult, error) {
	table, err := c.table()
	if err != nil {
		return UpdateResult{}, err
	}
	if len(filter) != 1 {
		return UpdateResult{}, fmt.Errorf("%w: upsert needs a single key filter", ErrUnsupported)
	}
	var field string
	for k := range filter {
		field = k
	}
	if !validIdent(field) {
		return UpdateResult{}, fmt.Errorf("invalid key field: %q", field)
	}
	target := fmt.Sprintf("((doc->>'%s'))", field)
	if field == "_id" {
		target = "(id)"
	}
	doc, err := toDoc(map[string]interface{}(filter))
	if err != nil {
		return UpdateResult{}, err
	}
	patchDoc, err := toDoc(set)
	if err != nil {
		return UpdateResult{}, err
	}
	for k, v := range patchDoc {
		doc[k] = v
	}
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = uuid.NewString()
	}
	body, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return UpdateResult{}, err
	}
	patch, err := bson.MarshalExtJSON(patchDoc, true, false)
	if err != nil {
		return UpdateResult{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s AS t (id, doc) VALUES (?, ?::jsonb)
		ON CONFLICT %s DO UPDATE SET doc = t.doc || ?::jsonb
		WHERE t.doc IS DISTINCT FROM t.doc || ?::jsonb
		RETURNING (xmax = 0)`, table, target)
	var inserted []bool
	err = c.db.SelectContext(ctx, &inserted, dbutil.Rebind(query),
		idString(doc["_id"]), string(body), string(patch), string(patch))
	if err != nil {
		if dbutil.IsConflict(err) {
			return UpdateResult{}, fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return UpdateResult{}, err
	}
	switch {
	case len(inserted) == 0:
		return UpdateResult{MatchedCount: 1}, nil
	case inserted[0]:
		return UpdateResult{UpsertedCount: 1}, nil
	default:
		return UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
}

func (c *postgresCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	table, err := c.table()
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE %s LIMIT 1)", table, table, where)
	return c.exec(ctx, query, args)
}

func (c *postgresCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	table, err := c.table()
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), args)
}

func (c *postgresCollection) exec(ctx context.Context, query string, args []interface{}) (int64, error) {
	result, err := c.db.ExecContext(ctx, dbutil.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GroupCount runs in a read only repeatable read transaction so the ranking
// is computed from one consistent snapshot.
func (c *postgresCollection) GroupCount(ctx context.Context, field string, limit int64) ([]GroupCount, error) {
	table, err := c.table()
	if err != nil {
		return nil, err
	}
	if !validIdent(field) {
		return nil, fmt.Errorf("invalid group field: %q", field)
	}
	query := fmt.Sprintf(`SELECT doc->>'%[1]s' AS key, COUNT(*) AS count FROM %[2]s
		WHERE jsonb_typeof(doc->'%[1]s') = 'string'
		GROUP BY 1
		ORDER BY COUNT(*) DESC, (doc->>'%[1]s') COLLATE "C" ASC`, field, table)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	items := make([]GroupCount, 0)
	if err := tx.SelectContext(ctx, &items, dbutil.Rebind(query), args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *postgresCollection) EnsureUniqueIndex(ctx context.Context, field string) error {
	table, err := c.table()
	if err != nil {
		return err
	}
	if !validIdent(field) {
		return fmt.Errorf("invalid index field: %q", field)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)", table)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	if field == "_id" {
		return nil
	}
	ddl = fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_%s_uniq ON %s ((doc->>'%s'))", table, field, table, field)
	_, err = c.db.ExecContext(ctx, ddl)
	return err
}

// orderBy sorts dates and numbers by value before falling back to the raw
// jsonb. Canonical extended JSON stores both as strings, e.g.
// {"$date":{"$numberLong":"915148800000"}}, which would compare as text.
// Ties are broken by id.
func orderBy(field string, desc bool) string {
	direction := "ASC"
	if desc {
		direction = "DESC"
	}
	numeric := fmt.Sprintf(`COALESCE((doc->'%[1]s'->'$date'->>'$numberLong')::float8, `+
		`(doc->'%[1]s'->>'$numberLong')::float8, `+
		`(doc->'%[1]s'->>'$numberInt')::float8, `+
		`(doc->'%[1]s'->>'$numberDouble')::float8)`, field)
	return fmt.Sprintf(`%[1]s %[2]s NULLS LAST, doc->'%[3]s' %[2]s NULLS LAST, id COLLATE "C"`, numeric, direction, field)
}

// buildWhere turns an equality filter into a predicate over the doc column.
// String values compare as text so expression indexes on doc->>'field' apply.
func buildWhere(filter Filter) (string, []interface{}, error) {
	if len(filter) == 0 {
		return "TRUE", nil, nil
	}
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	clauses := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields))
	for _, field := range fields {
		if !validIdent(field) {
			return "", nil, fmt.Errorf("invalid filter field: %q", field)
		}
		value := filter[field]
		if s, ok := value.(string); ok {
			if field == "_id" {
				clauses = append(clauses, "id = ?")
			} else {
				clauses = append(clauses, fmt.Sprintf("doc->>'%s' = ?", field))
			}
			args = append(args, s)
			continue
		}
		encoded, err := bson.MarshalExtJSON(bson.M{field: value}, true, false)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "doc @> ?::jsonb")
		args = append(args, string(encoded))
	}
	return strings.Join(clauses, " AND "), args, nil
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(id)
	}
}
