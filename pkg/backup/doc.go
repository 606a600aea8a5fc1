/*
Package backup snapshots the live artifact tree before every release
transition and restores it on rollback.

Each backup is a directory under the backup root:

	<BackupDir>/backup-20240601T100000.000000000Z/
	    backup.json   metadata (release ID, file count, optional checksums)
	    data/         copy of the live tree

Backup IDs embed a fixed-width UTC timestamp, so lexical order is creation
order and List returns newest first without reading metadata. Cleanup keeps
the N newest and is idempotent.

Restore never writes to the live directory. It materializes the backup as a
staged types.Release; the supervisor owns the swap into place.

When Checksums is enabled a SHA-256 digest is recorded per file. They are
only compared on restore when VerifyOnRestore is also set.

An optional Mirror (S3Mirror, aws-sdk-go-v2) copies each finished backup
off-host. Mirror errors are logged and never fail the backup.
*/
package backup
