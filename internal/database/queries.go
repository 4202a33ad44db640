package database

import (
	"fmt"
	"strings"

	"hostwatch-agent/internal/model"
)

// QueryProvider supplies the metadata query for an engine. Every query returns
// one row with the columns name, ip, size, indexes, functions, triggers,
// views, materialized_views, users, roles, extensions, procedures,
// active_connections and status.
type QueryProvider interface {
	MetadataQuery(engine model.EngineType) (string, error)
}

type StaticQueries map[model.EngineType]string

func (q StaticQueries) MetadataQuery(engine model.EngineType) (string, error) {
	if s := strings.TrimSpace(q[engine]); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: no metadata query for %q", ErrUnsupportedEngine, engine)
}

// WithOverrides returns a copy of q where each override replaces the built-in
// query of its engine. Keys accept the same aliases as engine types.
func (q StaticQueries) WithOverrides(overrides map[string]string) StaticQueries {
	out := make(StaticQueries, len(q)+len(overrides))
	for k, v := range q {
		out[k] = v
	}
	for k, v := range overrides {
		if strings.TrimSpace(v) != "" {
			out[model.ParseEngineType(k)] = v
		}
	}
	return out
}

func DefaultQueries() StaticQueries {
	return StaticQueries{
		model.EnginePostgres: postgresMetadataQuery,
		model.EngineMySQL:    mysqlMetadataQuery,
		model.EngineMSSQL:    mssqlMetadataQuery,
		model.EngineOracle:   oracleMetadataQuery,
	}
}

const postgresMetadataQuery = `
SELECT current_database() AS name,
       COALESCE(host(inet_server_addr()), '127.0.0.1') AS ip,
       pg_database_size(current_database()) AS size,
       (SELECT count(*) FROM pg_indexes WHERE schemaname NOT IN ('pg_catalog', 'information_schema')) AS indexes,
       (SELECT count(*) FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace
         WHERE n.nspname NOT IN ('pg_catalog', 'information_schema') AND p.prokind = 'f') AS functions,
       (SELECT count(*) FROM pg_trigger WHERE NOT tgisinternal) AS triggers,
       (SELECT count(*) FROM pg_views WHERE schemaname NOT IN ('pg_catalog', 'information_schema')) AS views,
       (SELECT count(*) FROM pg_matviews) AS materialized_views,
       (SELECT count(*) FROM pg_roles WHERE rolcanlogin) AS users,
       (SELECT count(*) FROM pg_roles WHERE NOT rolcanlogin AND rolname NOT LIKE 'pg\_%') AS roles,
       (SELECT count(*) FROM pg_extension) AS extensions,
       (SELECT count(*) FROM pg_proc p JOIN pg_namespace n ON n.oid = p.pronamespace
         WHERE n.nspname NOT IN ('pg_catalog', 'information_schema') AND p.prokind = 'p') AS procedures,
       (SELECT count(*) FROM pg_stat_activity WHERE datname = current_database() AND state = 'active') AS active_connections,
       CASE WHEN pg_is_in_recovery() THEN 'standby' ELSE 'online' END AS status`

const mysqlMetadataQuery = `
SELECT COALESCE(DATABASE(), '') AS name,
       @@hostname AS ip,
       CAST((SELECT COALESCE(SUM(data_length + index_length), 0) FROM information_schema.tables
              WHERE table_schema = DATABASE()) AS UNSIGNED) AS size,
       (SELECT COUNT(DISTINCT table_name, index_name) FROM information_schema.statistics
         WHERE table_schema = DATABASE()) AS indexes,
       (SELECT COUNT(*) FROM information_schema.routines
         WHERE routine_schema = DATABASE() AND routine_type = 'FUNCTION') AS functions,
       (SELECT COUNT(*) FROM information_schema.triggers WHERE trigger_schema = DATABASE()) AS triggers,
       (SELECT COUNT(*) FROM information_schema.views WHERE table_schema = DATABASE()) AS views,
       0 AS materialized_views,
       (SELECT COUNT(DISTINCT grantee) FROM information_schema.user_privileges) AS users,
       0 AS roles,
       (SELECT COUNT(*) FROM information_schema.plugins WHERE plugin_status = 'ACTIVE') AS extensions,
       (SELECT COUNT(*) FROM information_schema.routines
         WHERE routine_schema = DATABASE() AND routine_type = 'PROCEDURE') AS procedures,
       (SELECT COUNT(*) FROM information_schema.processlist WHERE command <> 'Sleep') AS active_connections,
       'online' AS status`

const mssqlMetadataQuery = `
SELECT DB_NAME() AS name,
       CAST(COALESCE(CONNECTIONPROPERTY('local_net_address'), '') AS nvarchar(64)) AS ip,
       (SELECT COALESCE(SUM(CAST(size AS bigint)), 0) * 8192 FROM sys.database_files) AS size,
       (SELECT COUNT_BIG(*) FROM sys.indexes i JOIN sys.objects o ON o.object_id = i.object_id
         WHERE o.is_ms_shipped = 0 AND i.index_id > 0) AS indexes,
       (SELECT COUNT_BIG(*) FROM sys.objects WHERE type IN ('FN', 'IF', 'TF', 'FS', 'FT') AND is_ms_shipped = 0) AS functions,
       (SELECT COUNT_BIG(*) FROM sys.triggers WHERE is_ms_shipped = 0) AS triggers,
       (SELECT COUNT_BIG(*) FROM sys.views WHERE is_ms_shipped = 0) AS views,
       CAST(0 AS bigint) AS materialized_views,
       (SELECT COUNT_BIG(*) FROM sys.database_principals WHERE type IN ('S', 'U', 'G', 'E', 'X') AND principal_id > 4) AS users,
       (SELECT COUNT_BIG(*) FROM sys.database_principals WHERE type = 'R' AND is_fixed_role = 0 AND principal_id > 0) AS roles,
       CAST(0 AS bigint) AS extensions,
       (SELECT COUNT_BIG(*) FROM sys.procedures WHERE is_ms_shipped = 0) AS procedures,
       (SELECT COUNT_BIG(*) FROM sys.dm_exec_sessions WHERE database_id = DB_ID() AND status = 'running') AS active_connections,
       CAST(DATABASEPROPERTYEX(DB_NAME(), 'Status') AS nvarchar(60)) AS status`

const oracleMetadataQuery = `
SELECT SYS_CONTEXT('USERENV', 'DB_NAME') AS "name",
       SYS_CONTEXT('USERENV', 'SERVER_HOST') AS "ip",
       (SELECT NVL(SUM(bytes), 0) FROM user_segments) AS "size",
       (SELECT COUNT(*) FROM user_indexes) AS "indexes",
       (SELECT COUNT(*) FROM user_objects WHERE object_type = 'FUNCTION') AS "functions",
       (SELECT COUNT(*) FROM user_triggers) AS "triggers",
       (SELECT COUNT(*) FROM user_views) AS "views",
       (SELECT COUNT(*) FROM user_mviews) AS "materialized_views",
       (SELECT COUNT(*) FROM all_users) AS "users",
       (SELECT COUNT(*) FROM session_roles) AS "roles",
       0 AS "extensions",
       (SELECT COUNT(*) FROM user_objects WHERE object_type = 'PROCEDURE') AS "procedures",
       (SELECT COUNT(*) FROM v$session WHERE status = 'ACTIVE' AND type = 'USER') AS "active_connections",
       'online' AS "status"
FROM dual`
