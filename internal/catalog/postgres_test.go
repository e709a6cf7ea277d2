package catalog

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacper-wojtaszczyk/jackfruit/filecoord-go/internal/model"
)

var _ Lookup = (*Postgres)(nil)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db), mock
}

func TestPostgres_SourceSystemID_Bottler(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(querySourceSystemForBottler).
		WithArgs("acme", "cnt1").
		WillReturnRows(sqlmock.NewRows([]string{"src_sys_id"}).AddRow(42))

	id, err := p.SourceSystemID(context.Background(), model.Descriptor{Kind: model.KindInbound, ContainerName: "cnt1", BottlerName: "acme"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestPostgres_SourceSystemID_ExchangeRateUsesFilePattern(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(querySourceSystemForFilePattern).
		WithArgs("cnt1_yyyymmdd_hhmmss_curr.csv").
		WillReturnRows(sqlmock.NewRows([]string{"src_sys_id"}).AddRow("7"))

	id, err := p.SourceSystemID(context.Background(), model.Descriptor{Kind: model.KindExchangeRate, ContainerName: "cnt1", FiletypePrefix: "curr"})
	require.NoError(t, err)
	assert.Equal(t, "7", id)
}

func TestPostgres_SourceSystemID_NotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(querySourceSystemForBottler).
		WithArgs("ghost", "cnt1").
		WillReturnError(sql.ErrNoRows)

	_, err := p.SourceSystemID(context.Background(), model.Descriptor{Kind: model.KindInbound, ContainerName: "cnt1", BottlerName: "ghost"})
	require.ErrorIs(t, err, ErrNotFound)

	var lookupErr *LookupError
	require.True(t, errors.As(err, &lookupErr))
	assert.Equal(t, "source system", lookupErr.Lookup)
	assert.Equal(t, "cnt1/ghost", lookupErr.Key)
}

func TestPostgres_ModuleID(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryModuleIDForFile).
		WithArgs("42", "acme_20240101_120000_volume_offdisc.csv").
		WillReturnRows(sqlmock.NewRows([]string{"module_id"}).AddRow(3))

	id, err := p.ModuleID(context.Background(), "42", "acme_20240101_120000_volume_offdisc.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, id)
}

func TestPostgres_ModuleID_NullIsNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryModuleIDForFile).
		WithArgs("42", "f.csv").
		WillReturnRows(sqlmock.NewRows([]string{"module_id"}).AddRow(nil))

	_, err := p.ModuleID(context.Background(), "42", "f.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_FactType_QueryError(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryFactTypeForFile).
		WithArgs("42", "f.csv").
		WillReturnError(errors.New("connection reset"))

	_, err := p.FactType(context.Background(), "42", "f.csv")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgres_BottlerFileType_AmbiguousReturnsFirst(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryBottlerFileType).
		WithArgs("42", "NA", "channel").
		WillReturnRows(sqlmock.NewRows([]string{"file_type"}).AddRow("CHN-A").AddRow("CHN-B"))

	got, err := p.BottlerFileType(context.Background(), "42", "", "channel")
	require.NoError(t, err)
	assert.Equal(t, "CHN-A", got)
}

func TestPostgres_FileType_NoRows(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryFileType).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"file_type"}))

	_, err := p.FileType(context.Background(), "42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_FieldSpecs(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryFieldSpecs).
		WithArgs("txn", "42", "act-vol").
		WillReturnRows(sqlmock.NewRows([]string{"col_nm", "data_type", "max_data_length", "is_mandatory"}).
			AddRow("customer_id", "varchar", 20, true).
			AddRow("volume", "decimal", nil, nil))

	specs, err := p.FieldSpecs(context.Background(), "TXN", "42", "ACT-VOL")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "customer_id", specs[0].Name)
	require.NotNil(t, specs[0].MaxLength)
	assert.Equal(t, 20, *specs[0].MaxLength)
	require.NotNil(t, specs[0].Required)
	assert.True(t, *specs[0].Required)

	assert.Equal(t, "volume", specs[1].Name)
	assert.Nil(t, specs[1].MaxLength)
	assert.Nil(t, specs[1].Required)
}

func TestPostgres_FieldSpecs_Empty(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(queryFieldSpecs).
		WithArgs("txn", "42", "act-vol").
		WillReturnRows(sqlmock.NewRows([]string{"col_nm", "data_type", "max_data_length", "is_mandatory"}))

	_, err := p.FieldSpecs(context.Background(), "txn", "42", "act-vol")
	assert.ErrorIs(t, err, ErrNotFound)
}
