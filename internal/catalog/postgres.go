package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
)

const (
	querySourceSystemForBottler = `SELECT src_sys_id FROM t_src_sys WHERE src_btlr_name = $1 AND azr_blob_cntr = $2`

	querySourceSystemForFilePattern = `SELECT src_sys_id FROM t_cnfg_src_sys WHERE file_nm_ptrn = $1 AND file_type LIKE '%bottler%'`

	queryFactTypeForFile = `SELECT fact_type FROM t_audit_file_sub
		WHERE src_sys_id = $1 AND src_file_nm = $2
		ORDER BY file_id DESC LIMIT 1`

	queryModuleFactType = `SELECT b.fact_type FROM t_src_sys a
		INNER JOIN t_dmm_module b ON a.module_id = b.module_id
		WHERE a.src_sys_id = $1 LIMIT 1`

	queryModuleIDForFile = `SELECT module_id FROM t_audit_file_sub
		WHERE src_sys_id = $1 AND src_file_nm = $2
		ORDER BY file_set_id DESC LIMIT 1`

	queryFileType = `SELECT DISTINCT file_type FROM t_cnfg_src_sys WHERE src_sys_id = $1 ORDER BY file_type`

	queryBottlerFileType = `SELECT DISTINCT file_type FROM t_cnfg_src_sys
		WHERE src_sys_id = $1 AND fact_type = $2 AND file_mask = $3
		ORDER BY file_type`

	queryFieldSpecs = `SELECT f.col_nm, f.data_type, f.max_data_length, f.is_mandatory
		FROM t_cnfg_file f
		INNER JOIN (SELECT DISTINCT src_sys_id, file_type, fact_type, file_vrsn FROM t_cnfg_src_sys) s
			ON f.file_type = s.file_type AND f.file_vrsn = s.file_vrsn
		WHERE f.file_type = $1 AND s.src_sys_id = $2
			AND (f.file_type = 'DSC-MUL' OR s.fact_type = $3)
		ORDER BY f.col_seq_no`
)

// Postgres implements Lookup against the configuration database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// SourceSystemID resolves the owning source system. Exchange-rate files are
// keyed by their file pattern, everything else by bottler and container.
func (p *Postgres) SourceSystemID(ctx context.Context, d model.Descriptor) (string, error) {
	if d.Kind == model.KindExchangeRate {
		pattern := fmt.Sprintf("%s_yyyymmdd_hhmmss_%s.csv", d.ContainerName, d.FiletypePrefix)
		return p.scalar(ctx, "source system", pattern, querySourceSystemForFilePattern, pattern)
	}
	key := d.ContainerName + "/" + d.BottlerName
	return p.scalar(ctx, "source system", key, querySourceSystemForBottler, d.BottlerName, d.ContainerName)
}

// FactType returns the fact type recorded for the most recent audit row of a file.
func (p *Postgres) FactType(ctx context.Context, srcSysID, filename string) (string, error) {
	return p.scalar(ctx, "fact type", srcSysID+"/"+filename, queryFactTypeForFile, srcSysID, filename)
}

// ModuleFactType returns the fact type of the module a source system belongs to.
func (p *Postgres) ModuleFactType(ctx context.Context, srcSysID string) (string, error) {
	return p.scalar(ctx, "module fact type", srcSysID, queryModuleFactType, srcSysID)
}

func (p *Postgres) ModuleID(ctx context.Context, srcSysID, filename string) (int, error) {
	var id sql.NullInt64
	err := p.db.QueryRowContext(ctx, queryModuleIDForFile, srcSysID, filename).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, notFound("module id", srcSysID+"/"+filename)
	}
	if err != nil {
		return 0, fmt.Errorf("query module id: %w", err)
	}
	return int(id.Int64), nil
}

func (p *Postgres) FileType(ctx context.Context, srcSysID string) (string, error) {
	return p.first(ctx, "file type", srcSysID, queryFileType, srcSysID)
}

// BottlerFileType resolves the file type for a bottler submission by mask.
func (p *Postgres) BottlerFileType(ctx context.Context, srcSysID, factType, fileMask string) (string, error) {
	if factType == "" {
		factType = "NA"
	}
	key := strings.Join([]string{srcSysID, factType, fileMask}, "/")
	return p.first(ctx, "bottler file type", key, queryBottlerFileType, srcSysID, factType, fileMask)
}

// FieldSpecs returns the expected column layout in sequence order.
func (p *Postgres) FieldSpecs(ctx context.Context, fileType, srcSysID, factType string) ([]model.FieldSpec, error) {
	rows, err := p.db.QueryContext(ctx, queryFieldSpecs, strings.ToLower(fileType), srcSysID, strings.ToLower(factType))
	if err != nil {
		return nil, fmt.Errorf("query field specs: %w", err)
	}
	defer rows.Close()

	var specs []model.FieldSpec
	for rows.Next() {
		var (
			spec      model.FieldSpec
			maxLength sql.NullInt32
			required  sql.NullBool
		)
		if err := rows.Scan(&spec.Name, &spec.DataType, &maxLength, &required); err != nil {
			return nil, fmt.Errorf("scan field spec: %w", err)
		}
		if maxLength.Valid {
			n := int(maxLength.Int32)
			spec.MaxLength = &n
		}
		if required.Valid {
			b := required.Bool
			spec.Required = &b
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field specs: %w", err)
	}
	if len(specs) == 0 {
		return nil, notFound("field specs", strings.Join([]string{fileType, srcSysID, factType}, "/"))
	}
	return specs, nil
}

func (p *Postgres) scalar(ctx context.Context, lookup, key, query string, args ...any) (string, error) {
	var v sql.NullString
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return "", notFound(lookup, key)
	}
	if err != nil {
		return "", fmt.Errorf("query %s: %w", lookup, err)
	}
	return v.String, nil
}

// first returns the first value of a lookup that should be single-valued.
// With several values the first wins and the ambiguity is logged.
func (p *Postgres) first(ctx context.Context, lookup, key, query string, args ...any) (string, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", lookup, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", fmt.Errorf("scan %s: %w", lookup, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate %s: %w", lookup, err)
	}

	switch len(values) {
	case 0:
		return "", notFound(lookup, key)
	case 1:
		return values[0], nil
	default:
		slog.WarnContext(ctx, "ambiguous catalog rows, using first", "lookup", lookup, "key", key, "values", values)
		return values[0], nil
	}
}
