package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deskline/internal/domain"
)

// SQLiteSink appends jobs to the validation_jobs table. Appends are
// autonomous writes, never part of a caller transaction; a lost audit row
// must not roll anything back.
type SQLiteSink struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s SQLiteSink) Append(ctx context.Context, job Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.TS == "" {
		now := s.Now
		if now == nil {
			now = time.Now
		}
		job.TS = now().UTC().Format(time.RFC3339)
	}
	links, err := marshalList(job.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	warnings, err := marshalList(job.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	errs, err := marshalList(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO validation_jobs(id,ticket_id,field_id,field_label,validator,level,status,summary,evidence,links_json,warnings_json,errors_json,ran_by_uid,ran_by_role,ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, nullable(job.TicketID), job.FieldID, nullable(job.FieldLabel), job.Validator,
		string(job.Level), string(job.Status), nullable(job.Summary), nullable(job.Evidence),
		links, warnings, errs, nullable(job.RanBy.UID), nullable(job.RanBy.Role), job.TS)
	return err
}

// Tail returns the most recent jobs, newest first. Operator tooling only;
// the validation pipeline never reads back.
func (s SQLiteSink) Tail(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,ticket_id,field_id,field_label,validator,level,status,summary,evidence,links_json,warnings_json,errors_json,ran_by_uid,ran_by_role,ts
FROM validation_jobs ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		var j Job
		var ticket, label, summary, evidence, links, warnings, errs, uid, role sql.NullString
		var level, status string
		if err := rows.Scan(&j.ID, &ticket, &j.FieldID, &label, &j.Validator, &level, &status,
			&summary, &evidence, &links, &warnings, &errs, &uid, &role, &j.TS); err != nil {
			return nil, err
		}
		j.TicketID = ticket.String
		j.FieldLabel = label.String
		j.Level = domain.Level(level)
		j.Status = domain.Status(status)
		j.Summary = summary.String
		j.Evidence = evidence.String
		j.Links = unmarshalList(links)
		j.Warnings = unmarshalList(warnings)
		j.Errors = unmarshalList(errs)
		j.RanBy = RanBy{UID: uid.String, Role: role.String}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func marshalList(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalList(in sql.NullString) []string {
	if !in.Valid || in.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(in.String), &out)
	return out
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
