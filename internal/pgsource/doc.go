// Package pgsource reads raw heap tuples and transaction status from a live
// PostgreSQL server.
//
// Source scans a table page by page through pageinspect's get_raw_page,
// inside a read-only transaction that holds ACCESS SHARE on the table for
// the life of the scan. Oracle answers commit status through
// pg_xact_status. Both need a role allowed to call those functions
// (superuser, or pg_read_server_files plus EXECUTE on get_raw_page).
package pgsource
