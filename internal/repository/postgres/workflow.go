package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/workflow"
)

// ===== COLUMN LISTS =====

// campaignColumns is the scan list shared by every campaign SELECT. Keep it
// in sync with scanCampaign.
const campaignColumns = `id, owner_id, name, COALESCE(description, ''), status,
	COALESCE(message_content, ''), COALESCE(male_content, ''), COALESCE(female_content, ''),
	use_gender_templates, duplicate_prevention_mode, attachment_id,
	total_contacts, messages_sent, messages_delivered, messages_failed, current_progress,
	COALESCE(last_error, ''), error_count,
	created_at, started_at, paused_at, stopped_at, completed_at, updated_at`

// entryColumns is the scan list shared by every workflow entry SELECT. Keep
// it in sync with scanEntry.
const entryColumns = `id, campaign_id, contact_id, status, added_at, processed_at,
	delivered_at, opened_at, clicked_at, retry_count, COALESCE(error_message, ''),
	COALESCE(male_message, ''), COALESCE(female_message, ''),
	attachment_filename, attachment_content_type, attachment_data,
	attachment_size, attachment_kind, attachment_width, attachment_height,
	attachment_archive_key`

// contactColumns is the scan list shared by every contact SELECT.
const contactColumns = `id, owner_id, COALESCE(first_name, ''), COALESCE(arabic_name, ''),
	COALESCE(english_name, ''), formatted_phone, gender, is_selected,
	COALESCE(status, ''), created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row scanner) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Name, &c.Description, &c.Status,
		&c.MessageContent, &c.MaleContent, &c.FemaleContent,
		&c.UseGenderTemplates, &c.DuplicateMode, &c.AttachmentID,
		&c.TotalContacts, &c.MessagesSent, &c.MessagesDelivered, &c.MessagesFailed, &c.CurrentProgress,
		&c.LastError, &c.ErrorCount,
		&c.CreatedAt, &c.StartedAt, &c.PausedAt, &c.StoppedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanEntry(row scanner) (*domain.WorkflowEntry, error) {
	var (
		e       domain.WorkflowEntry
		attName sql.NullString
		attType sql.NullString
		attData sql.NullString
		attSize sql.NullInt64
		attKind sql.NullString
		attW    sql.NullInt64
		attH    sql.NullInt64
		attKey  sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.CampaignID, &e.ContactID, &e.Status, &e.AddedAt, &e.ProcessedAt,
		&e.DeliveredAt, &e.OpenedAt, &e.ClickedAt, &e.RetryCount, &e.ErrorMessage,
		&e.MaleMessage, &e.FemaleMessage,
		&attName, &attType, &attData, &attSize, &attKind, &attW, &attH, &attKey,
	)
	if err != nil {
		return nil, err
	}
	if attName.Valid && attName.String != "" {
		e.Attachment = &domain.Attachment{
			Filename:    attName.String,
			ContentType: attType.String,
			Data:        attData.String,
			SizeBytes:   attSize.Int64,
			Kind:        domain.AttachmentKind(attKind.String),
			Width:       int(attW.Int64),
			Height:      int(attH.Int64),
			ArchiveKey:  attKey.String,
		}
	}
	return &e, nil
}

func scanContact(row scanner) (*domain.Contact, error) {
	var c domain.Contact
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.FirstName, &c.ArabicName, &c.EnglishName,
		&c.FormattedPhone, &c.Gender, &c.IsSelected, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ===== WORKFLOW STORE =====

// WorkflowStore is the Postgres implementation of workflow.Store. Every
// status move is a guarded UPDATE so concurrent executors and API writers
// can never clobber each other; zero affected rows maps to the typed
// conflict sentinels.
type WorkflowStore struct {
	db *sql.DB
}

// NewWorkflowStore creates a workflow store backed by db.
func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

// LoadCampaign fetches one campaign row.
func (s *WorkflowStore) LoadCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM morsel_campaigns WHERE id = $1`, campaignColumns)
	c, err := scanCampaign(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	return c, nil
}

// UpdateCampaignStatus moves the campaign to `to` only while its current
// status is in `from`. Timestamp and error columns ride the same UPDATE.
func (s *WorkflowStore) UpdateCampaignStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, set workflow.Fields) error {
	sets := []string{}
	args := []interface{}{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	add("status = $%d", string(to))
	if set.StartedAt != nil {
		add("started_at = $%d", *set.StartedAt)
	}
	if set.PausedAt != nil {
		add("paused_at = $%d", *set.PausedAt)
	}
	if set.StoppedAt != nil {
		add("stopped_at = $%d", *set.StoppedAt)
	}
	if set.CompletedAt != nil {
		add("completed_at = $%d", *set.CompletedAt)
	}
	if set.LastError != nil {
		add("last_error = $%d", *set.LastError)
	}
	if set.CurrentProgress != nil {
		add("current_progress = $%d", *set.CurrentProgress)
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if len(from) > 0 {
		ph := make([]string, len(from))
		for i, st := range from {
			args = append(args, string(st))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where += fmt.Sprintf(" AND status IN (%s)", strings.Join(ph, ", "))
	}

	query := fmt.Sprintf("UPDATE morsel_campaigns SET %s WHERE %s", strings.Join(sets, ", "), where)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM morsel_campaigns WHERE id = $1`, id).Scan(&cur)
		if err == sql.ErrNoRows {
			return workflow.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update campaign status: %w", err)
		}
		return fmt.Errorf("%w: campaign %s is %s, cannot move to %s", workflow.ErrConflict, id, cur, to)
	}
	return nil
}

// NextPendingBatch returns up to limit unprocessed entries in added_at
// order. Ties on added_at (batch inserts share a timestamp) break on id so
// the order is stable across calls.
func (s *WorkflowStore) NextPendingBatch(ctx context.Context, campaignID string, limit int) ([]*domain.WorkflowEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM morsel_workflow_entries
		WHERE campaign_id = $1 AND status IN ('new', 'pending')
		ORDER BY added_at ASC, id ASC
		LIMIT $2`, entryColumns)

	rows, err := s.db.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("next pending batch: %w", err)
	}
	defer rows.Close()

	var entries []*domain.WorkflowEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("next pending batch: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("next pending batch: %w", err)
	}
	return entries, nil
}

// ClaimEntry CASes one entry {new,pending} → processing.
func (s *WorkflowStore) ClaimEntry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE morsel_workflow_entries
		SET status = 'processing'
		WHERE id = $1 AND status IN ('new', 'pending')`, entryID)
	if err != nil {
		return fmt.Errorf("claim entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim entry: %w", err)
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM morsel_workflow_entries WHERE id = $1`, entryID).Scan(&cur)
		if err == sql.ErrNoRows {
			return workflow.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("claim entry: %w", err)
		}
		return fmt.Errorf("%w: entry %s is %s", workflow.ErrConflict, entryID, cur)
	}
	return nil
}

// FinalizeEntry CASes processing → sent/delivered/failed, bumps the
// campaign counters, and mirrors the outcome onto the contact, all in one
// transaction. retry_count increments only on the failed arm.
func (s *WorkflowStore) FinalizeEntry(ctx context.Context, entryID string, outcome domain.EntryOutcome, errMsg string) error {
	var status domain.EntryStatus
	switch outcome {
	case domain.OutcomeSent:
		status = domain.EntrySent
	case domain.OutcomeDelivered:
		status = domain.EntryDelivered
	case domain.OutcomeFailed:
		status = domain.EntryFailed
	default:
		return fmt.Errorf("finalize entry: unknown outcome %q", outcome)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("finalize entry: begin: %w", err)
	}
	defer tx.Rollback()

	var campaignID, contactID string
	if status == domain.EntryFailed {
		err = tx.QueryRowContext(ctx, `UPDATE morsel_workflow_entries
			SET status = 'failed', processed_at = NOW(),
			    error_message = $2, retry_count = retry_count + 1
			WHERE id = $1 AND status = 'processing'
			RETURNING campaign_id, contact_id`, entryID, errMsg).Scan(&campaignID, &contactID)
	} else {
		err = tx.QueryRowContext(ctx, `UPDATE morsel_workflow_entries
			SET status = $2, processed_at = NOW(),
			    delivered_at = CASE WHEN $2 = 'delivered' THEN NOW() ELSE delivered_at END
			WHERE id = $1 AND status = 'processing'
			RETURNING campaign_id, contact_id`, entryID, string(status)).Scan(&campaignID, &contactID)
	}
	if err == sql.ErrNoRows {
		var cur string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM morsel_workflow_entries WHERE id = $1`, entryID).Scan(&cur)
		if err == sql.ErrNoRows {
			return workflow.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("finalize entry: %w", err)
		}
		return fmt.Errorf("%w: entry %s is %s, not processing", workflow.ErrConflict, entryID, cur)
	}
	if err != nil {
		return fmt.Errorf("finalize entry: %w", err)
	}

	if status == domain.EntryFailed {
		_, err = tx.ExecContext(ctx, `UPDATE morsel_campaigns
			SET messages_failed = messages_failed + 1,
			    current_progress = current_progress + 1,
			    error_count = error_count + 1,
			    last_error = $2,
			    updated_at = NOW()
			WHERE id = $1`, campaignID, errMsg)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE morsel_campaigns
			SET messages_sent = messages_sent + 1,
			    messages_delivered = messages_delivered + CASE WHEN $2 THEN 1 ELSE 0 END,
			    current_progress = current_progress + 1,
			    updated_at = NOW()
			WHERE id = $1`, campaignID, status == domain.EntryDelivered)
	}
	if err != nil {
		return fmt.Errorf("finalize entry: counters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE morsel_contacts
		SET status = $2, updated_at = NOW()
		WHERE id = $1`, contactID, string(status))
	if err != nil {
		return fmt.Errorf("finalize entry: contact mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("finalize entry: commit: %w", err)
	}
	return nil
}

// RecoverOrphans fails every processing entry left behind by a dead
// executor and keeps the campaign counters consistent with the sweep.
func (s *WorkflowStore) RecoverOrphans(ctx context.Context, campaignID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("recover orphans: begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx, `WITH swept AS (
		UPDATE morsel_workflow_entries
		SET status = 'failed', processed_at = NOW(),
		    error_message = 'interrupted', retry_count = retry_count + 1
		WHERE campaign_id = $1 AND status = 'processing'
		RETURNING 1
	) SELECT COUNT(*) FROM swept`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("recover orphans: %w", err)
	}

	if n > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE morsel_campaigns
			SET messages_failed = messages_failed + $2,
			    current_progress = current_progress + $2,
			    error_count = error_count + $2,
			    last_error = 'interrupted',
			    updated_at = NOW()
			WHERE id = $1`, campaignID, n)
		if err != nil {
			return 0, fmt.Errorf("recover orphans: counters: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("recover orphans: commit: %w", err)
	}
	return n, nil
}

// ContactByID loads the contact an entry points at.
func (s *WorkflowStore) ContactByID(ctx context.Context, id string) (*domain.Contact, error) {
	query := fmt.Sprintf(`SELECT %s FROM morsel_contacts WHERE id = $1`, contactColumns)
	c, err := scanContact(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contact by id: %w", err)
	}
	return c, nil
}
