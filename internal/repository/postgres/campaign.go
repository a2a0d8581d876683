package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL. It owns the
// owner-scoped CRUD surface; the executor-facing status machine lives in
// WorkflowStore.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, ownerID, id string) (*domain.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM morsel_campaigns WHERE id = $1 AND owner_id = $2`, campaignColumns)
	c, err := scanCampaign(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, ownerID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM morsel_campaigns WHERE owner_id = $1`
	countArgs := []interface{}{ownerID}
	if f.Status != "" {
		countQ += " AND status = $2"
		countArgs = append(countArgs, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM morsel_campaigns WHERE owner_id = $1`, campaignColumns)
	args := []interface{}{ownerID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	return out, total, nil
}

// CreateWithWorkflow inserts the campaign row and bulk-loads its workflow
// entries via COPY in one transaction, so a campaign can never exist with a
// partial entry set. Entries share one added_at stamp; ordering inside the
// batch falls back to id.
func (r *CampaignRepo) CreateWithWorkflow(ctx context.Context, c *domain.Campaign, entries []domain.WorkflowEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create campaign: begin: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO morsel_campaigns
			(id, owner_id, name, description, status,
			 message_content, male_content, female_content, use_gender_templates,
			 duplicate_prevention_mode, attachment_id, total_contacts,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at
	`, c.ID, c.OwnerID, c.Name, c.Description, string(c.Status),
		c.MessageContent, c.MaleContent, c.FemaleContent, c.UseGenderTemplates,
		string(c.DuplicateMode), c.AttachmentID, c.TotalContacts,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("morsel_workflow_entries",
		"id", "campaign_id", "contact_id", "status", "added_at",
		"retry_count", "error_message", "male_message", "female_message",
		"attachment_filename", "attachment_content_type", "attachment_data",
		"attachment_size", "attachment_kind", "attachment_width",
		"attachment_height", "attachment_archive_key",
	))
	if err != nil {
		return fmt.Errorf("create campaign: prepare copy: %w", err)
	}

	addedAt := time.Now().UTC()
	for i := range entries {
		e := &entries[i]
		e.AddedAt = addedAt

		var attName, attType, attData, attKind, attKey interface{}
		var attSize, attW, attH interface{}
		if a := e.Attachment; a != nil {
			attName, attType, attData = a.Filename, a.ContentType, a.Data
			attSize, attKind = a.SizeBytes, string(a.Kind)
			attW, attH, attKey = a.Width, a.Height, a.ArchiveKey
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID, e.CampaignID, e.ContactID, string(e.Status), e.AddedAt,
			e.RetryCount, e.ErrorMessage, e.MaleMessage, e.FemaleMessage,
			attName, attType, attData, attSize, attKind, attW, attH, attKey,
		); err != nil {
			stmt.Close()
			return fmt.Errorf("create campaign: copy entry: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("create campaign: flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("create campaign: close copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create campaign: commit: %w", err)
	}
	return nil
}

// Delete removes a terminal campaign; entries cascade via FK. A live row in
// any other status is reported as ErrNotTerminal so callers can distinguish
// "stop it first" from "no such campaign".
func (r *CampaignRepo) Delete(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM morsel_campaigns
		WHERE id = $1 AND owner_id = $2 AND status IN ('stopped', 'completed')
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	if n == 0 {
		var cur string
		err := r.db.QueryRowContext(ctx, `
			SELECT status FROM morsel_campaigns WHERE id = $1 AND owner_id = $2
		`, id, ownerID).Scan(&cur)
		if err == sql.ErrNoRows {
			return campaign.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("delete campaign: %w", err)
		}
		return fmt.Errorf("%w (status %s)", campaign.ErrNotTerminal, cur)
	}
	return nil
}

// ContactsByIDs resolves ids to contacts owned by ownerID. Unknown and
// foreign ids are dropped, duplicates collapse, and the result preserves the
// callers order.
func (r *CampaignRepo) ContactsByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM morsel_contacts WHERE owner_id = $1 AND id = ANY($2)`, contactColumns)
	rows, err := r.db.QueryContext(ctx, query, ownerID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("contacts by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Contact, len(ids))
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("contacts by ids: scan: %w", err)
		}
		byID[c.ID] = *c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contacts by ids: %w", err)
	}

	out := make([]domain.Contact, 0, len(byID))
	seen := make(map[string]bool, len(byID))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if c, ok := byID[id]; ok {
			out = append(out, c)
			seen[id] = true
		}
	}
	return out, nil
}

func (r *CampaignRepo) Entries(ctx context.Context, campaignID string, f campaign.EntryFilter) ([]domain.WorkflowEntry, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM morsel_workflow_entries WHERE campaign_id = $1`
	countArgs := []interface{}{campaignID}
	if f.Status != "" {
		countQ += " AND status = $2"
		countArgs = append(countArgs, f.Status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM morsel_workflow_entries WHERE campaign_id = $1`, entryColumns)
	args := []interface{}{campaignID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY added_at ASC, id ASC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []domain.WorkflowEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	return out, total, nil
}

// RequeueEntry moves one terminal entry back to pending and unwinds exactly
// the counter bumps its terminal transition added, in one transaction. The
// previous status is returned so callers can report what was re-queued.
func (r *CampaignRepo) RequeueEntry(ctx context.Context, campaignID, contactID string) (domain.EntryStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("requeue entry: begin: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `
		UPDATE morsel_workflow_entries e
		SET status = 'pending', error_message = '',
		    processed_at = NULL, delivered_at = NULL, opened_at = NULL, clicked_at = NULL
		FROM (
			SELECT id, status FROM morsel_workflow_entries
			WHERE campaign_id = $1 AND contact_id = $2
			  AND status IN ('sent', 'delivered', 'failed', 'bounced', 'opened', 'clicked')
			FOR UPDATE
		) prev
		WHERE e.id = prev.id
		RETURNING prev.status
	`, campaignID, contactID).Scan(&prev)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNoEntry
	}
	if err != nil {
		return "", fmt.Errorf("requeue entry: %w", err)
	}

	// Inverse of the finalize bumps: sent-family states entered through
	// messages_sent, failed through messages_failed, and the delivered
	// refinements additionally through messages_delivered.
	_, err = tx.ExecContext(ctx, `
		UPDATE morsel_campaigns SET
			messages_sent = GREATEST(0, messages_sent -
				CASE WHEN $2 IN ('sent', 'delivered', 'bounced', 'opened', 'clicked') THEN 1 ELSE 0 END),
			messages_delivered = GREATEST(0, messages_delivered -
				CASE WHEN $2 IN ('delivered', 'opened', 'clicked') THEN 1 ELSE 0 END),
			messages_failed = GREATEST(0, messages_failed -
				CASE WHEN $2 = 'failed' THEN 1 ELSE 0 END),
			current_progress = GREATEST(0, current_progress - 1),
			updated_at = NOW()
		WHERE id = $1
	`, campaignID, prev)
	if err != nil {
		return "", fmt.Errorf("requeue entry: counters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE morsel_contacts SET status = 'pending', updated_at = NOW() WHERE id = $1
	`, contactID)
	if err != nil {
		return "", fmt.Errorf("requeue entry: contact mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("requeue entry: commit: %w", err)
	}
	return domain.EntryStatus(prev), nil
}

// RequeueFailed re-queues every failed entry of the campaign and unwinds the
// failure counters by the same amount.
func (r *CampaignRepo) RequeueFailed(ctx context.Context, campaignID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("requeue failed: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE morsel_workflow_entries
		SET status = 'pending', error_message = '', processed_at = NULL
		WHERE campaign_id = $1 AND status = 'failed'
		RETURNING contact_id
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("requeue failed: %w", err)
	}
	var contactIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("requeue failed: scan: %w", err)
		}
		contactIDs = append(contactIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("requeue failed: %w", err)
	}
	rows.Close()

	if len(contactIDs) == 0 {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE morsel_campaigns SET
			messages_failed = GREATEST(0, messages_failed - $2),
			current_progress = GREATEST(0, current_progress - $2),
			updated_at = NOW()
		WHERE id = $1
	`, campaignID, len(contactIDs))
	if err != nil {
		return 0, fmt.Errorf("requeue failed: counters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE morsel_contacts SET status = 'pending', updated_at = NOW() WHERE id = ANY($1)
	`, pq.Array(contactIDs))
	if err != nil {
		return 0, fmt.Errorf("requeue failed: contact mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("requeue failed: commit: %w", err)
	}
	return len(contactIDs), nil
}

// FailedPhones lists the phone numbers behind the campaigns failed entries,
// for clearing duplicate-guard marks before a bulk re-queue.
func (r *CampaignRepo) FailedPhones(ctx context.Context, campaignID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.formatted_phone
		FROM morsel_workflow_entries e
		JOIN morsel_contacts c ON c.id = e.contact_id
		WHERE e.campaign_id = $1 AND e.status = 'failed'
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed phones: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed phones: scan: %w", err)
		}
		phones = append(phones, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed phones: %w", err)
	}
	return phones, nil
}
