package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"

	"hostwatch-agent/internal/model"
)

var sqlDrivers = map[model.EngineType]string{
	model.EnginePostgres: "pgx",
	model.EngineMySQL:    "mysql",
	model.EngineMSSQL:    "sqlserver",
	model.EngineOracle:   "oracle",
}

type metadataRow struct {
	Name              sql.NullString `db:"name"`
	IP                sql.NullString `db:"ip"`
	Size              int64          `db:"size"`
	Indexes           int64          `db:"indexes"`
	Functions         int64          `db:"functions"`
	Triggers          int64          `db:"triggers"`
	Views             int64          `db:"views"`
	MaterializedViews int64          `db:"materialized_views"`
	Users             int64          `db:"users"`
	Roles             int64          `db:"roles"`
	Extensions        int64          `db:"extensions"`
	Procedures        int64          `db:"procedures"`
	ActiveConnections int64          `db:"active_connections"`
	Status            sql.NullString `db:"status"`
}

func (r metadataRow) detail() model.DatabaseDetail {
	return model.DatabaseDetail{
		Name:                  r.Name.String,
		IP:                    r.IP.String,
		Size:                  r.Size,
		IndexCount:            r.Indexes,
		FunctionCount:         r.Functions,
		TriggerCount:          r.Triggers,
		ViewCount:             r.Views,
		MaterializedViewCount: r.MaterializedViews,
		UserCount:             r.Users,
		RoleCount:             r.Roles,
		ExtensionCount:        r.Extensions,
		ProcedureCount:        r.Procedures,
		ActiveConnectionCount: r.ActiveConnections,
		Status:                r.Status.String,
	}
}

// SQLCollector opens a short-lived connection per probe and runs the engine's
// metadata query, expecting exactly one row.
type SQLCollector struct {
	engine  model.EngineType
	driver  string
	queries QueryProvider
	open    func(driver, dsn string) (*sqlx.DB, error)
}

func NewSQLCollector(engine model.EngineType, driver string, queries QueryProvider) *SQLCollector {
	return &SQLCollector{engine: engine, driver: driver, queries: queries, open: sqlx.Open}
}

func (c *SQLCollector) Collect(ctx context.Context, t Target) (model.DatabaseDetail, error) {
	query, err := c.queries.MetadataQuery(c.engine)
	if err != nil {
		return model.DatabaseDetail{}, err
	}
	db, err := c.open(c.driver, t.Connection)
	if err != nil {
		return model.DatabaseDetail{}, fmt.Errorf("open %s: %w", c.driver, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var row metadataRow
	if err := db.QueryRowxContext(ctx, query).StructScan(&row); err != nil {
		return model.DatabaseDetail{}, fmt.Errorf("query metadata: %w", err)
	}
	return row.detail(), nil
}
