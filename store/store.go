// Package store persists graded batches so that results can be audited
// later.
package store

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"time"

	// Supported database drivers.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/omegaup/replgrader/common"
	"github.com/omegaup/replgrader/grader"
	"github.com/pkg/errors"
)

var schemas = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id INTEGER PRIMARY KEY AUTOINCREMENT,
			program_digest varchar(40) NOT NULL,
			comparator varchar(32) NOT NULL,
			file_system_scope varchar(16) NOT NULL,
			cases int NOT NULL,
			failure varchar(32) DEFAULT NULL,
			failure_detail text DEFAULT NULL,
			created int NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS case_results (
			batch_id int NOT NULL,
			case_index int NOT NULL,
			outcome varchar(16) NOT NULL,
			transcript blob NOT NULL,
			PRIMARY KEY (batch_id, case_index)
		);`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id bigint NOT NULL AUTO_INCREMENT,
			program_digest varchar(40) NOT NULL,
			comparator varchar(32) NOT NULL,
			file_system_scope varchar(16) NOT NULL,
			cases int NOT NULL,
			failure varchar(32) DEFAULT NULL,
			failure_detail text DEFAULT NULL,
			created bigint NOT NULL,
			PRIMARY KEY (batch_id),
			KEY (program_digest)
		);`,
		`CREATE TABLE IF NOT EXISTS case_results (
			batch_id bigint NOT NULL,
			case_index int NOT NULL,
			outcome varchar(16) NOT NULL,
			transcript mediumblob NOT NULL,
			PRIMARY KEY (batch_id, case_index)
		);`,
	},
}

// A Batch is one stored grading invocation.
type Batch struct {
	ID              int64
	ProgramDigest   string
	Comparator      common.ComparatorPolicy
	FileSystemScope common.FileSystemScope
	Cases           int
	// Failure is the reason why the batch was cut short, if it was.
	Failure       string
	FailureDetail string
	Results       []grader.CaseResult
	Created       time.Time
}

// A Store keeps graded batches in a SQL database.
type Store struct {
	db *sql.DB
}

// ProgramDigest returns the hex SHA-1 digest of program.
func ProgramDigest(program string) string {
	digest := sha1.Sum([]byte(program))
	return hex.EncodeToString(digest[:])
}

// Open connects to the database described by config and creates the tables
// if needed.
func Open(ctx context.Context, config *common.DbConfig) (*Store, error) {
	schema, ok := schemas[config.Driver]
	if !ok {
		return nil, errors.Errorf("unsupported database driver %q", config.Driver)
	}
	db, err := sql.Open(config.Driver, config.DataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if config.Driver == "sqlite3" {
		// Writes are serialized anyway, and an in-memory database only lives
		// as long as its connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	for _, statement := range schema {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to create tables")
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBatch stores the results of grading program with config, and returns
// the id of the new batch. An empty failure means that every case that ran
// produced a result.
func (s *Store) SaveBatch(
	ctx context.Context,
	config *common.GraderConfig,
	program string,
	cases int,
	results []grader.CaseResult,
	failure, failureDetail string,
) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO batches (
			program_digest, comparator, file_system_scope, cases, failure,
			failure_detail, created
		) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		ProgramDigest(program),
		string(config.Comparator),
		string(config.FileSystemScope),
		cases,
		nullString(failure),
		nullString(failureDetail),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert batch")
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get batch id")
	}

	for i, result := range results {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO case_results (
				batch_id, case_index, outcome, transcript
			) VALUES (?, ?, ?, ?);`,
			batchID,
			i,
			result.Outcome.String(),
			[]byte(result.Transcript),
		); err != nil {
			return 0, errors.Wrapf(err, "failed to insert result of case %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit batch")
	}
	return batchID, nil
}

// Batch returns the stored batch with the given id.
func (s *Store) Batch(ctx context.Context, batchID int64) (*Batch, error) {
	batch := &Batch{ID: batchID}
	var comparator, scope string
	var failure, failureDetail sql.NullString
	var created int64
	err := s.db.QueryRowContext(
		ctx,
		`SELECT
			program_digest, comparator, file_system_scope, cases, failure,
			failure_detail, created
		FROM
			batches
		WHERE
			batch_id = ?;`,
		batchID,
	).Scan(
		&batch.ProgramDigest,
		&comparator,
		&scope,
		&batch.Cases,
		&failure,
		&failureDetail,
		&created,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get batch %d", batchID)
	}
	batch.Comparator = common.ComparatorPolicy(comparator)
	batch.FileSystemScope = common.FileSystemScope(scope)
	batch.Failure = failure.String
	batch.FailureDetail = failureDetail.String
	batch.Created = time.Unix(created, 0)

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
			outcome, transcript
		FROM
			case_results
		WHERE
			batch_id = ?
		ORDER BY
			case_index;`,
		batchID,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get results of batch %d", batchID)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var transcript []byte
		if err := rows.Scan(&outcome, &transcript); err != nil {
			return nil, errors.Wrap(err, "failed to read case result")
		}
		result := grader.CaseResult{Transcript: string(transcript)}
		if err := result.Outcome.UnmarshalText([]byte(outcome)); err != nil {
			return nil, err
		}
		batch.Results = append(batch.Results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read case results")
	}
	return batch, nil
}

// BatchesForProgram returns the ids of the batches that graded program,
// oldest first.
func (s *Store) BatchesForProgram(ctx context.Context, program string) ([]int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT
			batch_id
		FROM
			batches
		WHERE
			program_digest = ?
		ORDER BY
			batch_id;`,
		ProgramDigest(program),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get batches")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to read batch id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
