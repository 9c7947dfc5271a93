package store

import "database/sql"

// Schema is portable between MySQL and sqlite so the repository tests can run
// against an in-memory database with the same statements.
const Schema = `
CREATE TABLE IF NOT EXISTS meetings (
    meeting_id                VARCHAR(128) PRIMARY KEY,
    file_name                 VARCHAR(512) NOT NULL,
    storage_key               VARCHAR(1024) NOT NULL,
    storage_container         VARCHAR(255) NOT NULL,
    file_size                 BIGINT NOT NULL,
    content_type              VARCHAR(255) NOT NULL,
    upload_timestamp          DATETIME NOT NULL,
    status                    VARCHAR(32) NOT NULL,
    transcription_job_id      VARCHAR(255) NULL,
    transcription_job_status  VARCHAR(32) NOT NULL,
    full_transcript           TEXT NULL,
    meeting_summary           TEXT NULL,
    meeting_type              VARCHAR(64) NULL,
    extracted_tasks           TEXT NULL,
    extraction_method         VARCHAR(32) NULL,
    task_generation_status    VARCHAR(32) NOT NULL,
    task_generation_timestamp DATETIME NULL,
    task_generation_error     TEXT NULL,
    jira_sync_status          VARCHAR(32) NOT NULL,
    jira_tickets              TEXT NULL,
    jira_sync_errors          TEXT NULL,
    sync_version              INT NOT NULL DEFAULT 0,
    error_message             TEXT NULL,
    created_at                DATETIME NOT NULL,
    updated_at                DATETIME NOT NULL
)
`

func Migrate(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
