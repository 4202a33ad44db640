package model

import (
	"strings"
	"time"

	"hostwatch-agent/internal/wire"
)

// EngineType names a database engine a probe target runs.
type EngineType string

const (
	EnginePostgres EngineType = "postgres"
	EngineMySQL    EngineType = "mysql"
	EngineMSSQL    EngineType = "mssql"
	EngineOracle   EngineType = "oracle"
	EngineRedis    EngineType = "redis"
)

// ParseEngineType normalizes the aliases operators commonly write.
func ParseEngineType(raw string) EngineType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg":
		return EnginePostgres
	case "mysql", "mariadb":
		return EngineMySQL
	case "mssql", "sqlserver":
		return EngineMSSQL
	case "oracle":
		return EngineOracle
	case "redis":
		return EngineRedis
	default:
		return EngineType(strings.ToLower(strings.TrimSpace(raw)))
	}
}

type DatabaseDetail struct {
	Name                  string
	IP                    string
	Size                  int64
	IndexCount            int64
	FunctionCount         int64
	TriggerCount          int64
	ViewCount             int64
	MaterializedViewCount int64
	UserCount             int64
	RoleCount             int64
	ExtensionCount        int64
	ProcedureCount        int64
	ActiveConnectionCount int64
	Status                string
	DatabaseType          EngineType
}

// DatabaseList is the db_metric payload.
type DatabaseList struct {
	Timestamp time.Time
	Databases []DatabaseDetail
}

func (l DatabaseList) MarshalWire(w *wire.Writer) error {
	if err := w.Field(func(e *wire.Encoder) { e.Timestamp(1, l.Timestamp) }); err != nil {
		return err
	}
	for i := range l.Databases {
		d := &l.Databases[i]
		if err := w.Field(func(e *wire.Encoder) { e.Message(2, d.encode) }); err != nil {
			return err
		}
	}
	return nil
}

func (d *DatabaseDetail) encode(e *wire.Encoder) {
	e.String(1, d.Name)
	e.String(2, d.IP)
	e.Int64(3, d.Size)
	e.Int64(4, d.IndexCount)
	e.Int64(5, d.FunctionCount)
	e.Int64(6, d.TriggerCount)
	e.Int64(7, d.ViewCount)
	e.Int64(8, d.MaterializedViewCount)
	e.Int64(9, d.UserCount)
	e.Int64(10, d.RoleCount)
	e.Int64(11, d.ExtensionCount)
	e.Int64(12, d.ProcedureCount)
	e.Int64(13, d.ActiveConnectionCount)
	e.String(14, d.Status)
	e.String(15, string(d.DatabaseType))
}
