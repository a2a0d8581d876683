package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/dupguard"
)

// SentPhoneRepo implements dupguard.Repository against PostgreSQL.
type SentPhoneRepo struct{ db *sql.DB }

// NewSentPhoneRepo creates a Postgres-backed sent-phone repository.
func NewSentPhoneRepo(db *sql.DB) *SentPhoneRepo { return &SentPhoneRepo{db: db} }

func (r *SentPhoneRepo) Exists(ctx context.Context, ownerID, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM morsel_sent_phones WHERE owner_id = $1 AND phone = $2)`,
		ownerID, phone,
	).Scan(&exists)
	return exists, err
}

// SentInCampaign matches workflow entries to contacts by phone. An entry in
// a sent or delivered state for a contact carrying this phone counts as a
// duplicate within the campaign.
func (r *SentPhoneRepo) SentInCampaign(ctx context.Context, campaignID, phone string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM morsel_workflow_entries e
			JOIN morsel_contacts c ON c.id = e.contact_id
			WHERE e.campaign_id = $1
			  AND c.formatted_phone = $2
			  AND e.status IN ('sent', 'delivered'))`,
		campaignID, phone,
	).Scan(&exists)
	return exists, err
}

func (r *SentPhoneRepo) Upsert(ctx context.Context, rec *domain.SentPhoneRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO morsel_sent_phones
			(id, owner_id, phone, first_sent_at, last_sent_at, send_count, last_campaign_id, last_status)
		VALUES ($1, $2, $3, NOW(), NOW(), 1, $4, $5)
		ON CONFLICT (owner_id, phone) DO UPDATE SET
			last_sent_at = NOW(),
			send_count = morsel_sent_phones.send_count + 1,
			last_campaign_id = EXCLUDED.last_campaign_id,
			last_status = EXCLUDED.last_status
	`, rec.ID, rec.OwnerID, rec.Phone, rec.LastCampaignID, rec.LastStatus)
	if err != nil {
		return fmt.Errorf("upsert sent phone: %w", err)
	}
	return nil
}

func (r *SentPhoneRepo) Delete(ctx context.Context, ownerID, phone string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM morsel_sent_phones WHERE owner_id = $1 AND phone = $2`,
		ownerID, phone,
	)
	if err != nil {
		return fmt.Errorf("delete sent phone: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dupguard.ErrNotFound
	}
	return nil
}
