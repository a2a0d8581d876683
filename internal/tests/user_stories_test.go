package tests

// User journey tests for the Morsel campaign orchestrator. Each US-xxx
// function walks one end-to-end story across the real repositories and
// services, with Postgres answered by sqlmock and Redis served by miniredis.

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/domain"
	"github.com/baseleldalil/Morsel-App-sub000/internal/dupguard"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pacing"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/report"
	"github.com/baseleldalil/Morsel-App-sub000/internal/repository/postgres"
	"github.com/baseleldalil/Morsel-App-sub000/internal/service/campaign"
	"github.com/baseleldalil/Morsel-App-sub000/internal/worker"
	"github.com/baseleldalil/Morsel-App-sub000/internal/workflow"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// TestContext holds shared test infrastructure
type TestContext struct {
	DB     *sql.DB
	Mock   sqlmock.Sqlmock
	Redis  *redis.Client
	MiniR  *miniredis.Miniredis
	Ctx    context.Context
	Cancel context.CancelFunc
}

func setupTestContext(t *testing.T) *TestContext {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	return &TestContext{
		DB:     db,
		Mock:   mock,
		Redis:  redisClient,
		MiniR:  mr,
		Ctx:    ctx,
		Cancel: cancel,
	}
}

func (tc *TestContext) Cleanup() {
	tc.Cancel()
	tc.DB.Close()
	tc.Redis.Close()
	tc.MiniR.Close()
}

// campaignRow builds a full campaign row in scan order.
func campaignRow(id, ownerID string, status domain.CampaignStatus, total int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "description", "status",
		"message_content", "male_content", "female_content",
		"use_gender_templates", "duplicate_prevention_mode", "attachment_id",
		"total_contacts", "messages_sent", "messages_delivered", "messages_failed", "current_progress",
		"last_error", "error_count",
		"created_at", "started_at", "paused_at", "stopped_at", "completed_at", "updated_at",
	}).AddRow(
		id, ownerID, "Eid greetings", "", string(status),
		"Happy Eid {name}", "", "", false, "per_campaign", nil,
		total, 0, 0, 0, 0, "", 0,
		now, nil, nil, nil, nil, now,
	)
}

// contactRows builds contact rows in scan order, one per (id, phone, gender).
func contactRows(ownerID string, contacts ...[3]string) *sqlmock.Rows {
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "first_name", "arabic_name", "english_name",
		"formatted_phone", "gender", "is_selected", "status",
		"created_at", "updated_at",
	})
	for _, c := range contacts {
		rows.AddRow(c[0], ownerID, "Ahmed", "أحمد", "Ahmed", c[1], c[2], true, "active", now, now)
	}
	return rows
}

func settingsRow(ownerID string, minDelay, maxDelay int, decimal bool, precision int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"owner_id", "min_delay_seconds", "max_delay_seconds", "enable_breaks",
		"min_messages_before_break", "max_messages_before_break",
		"min_break_minutes", "max_break_minutes",
		"use_decimal_randomization", "decimal_precision", "updated_at",
	}).AddRow(ownerID, minDelay, maxDelay, true, 20, 40, 5, 10, decimal, precision, time.Now())
}

func ruleRow(planID string, minDelay, maxDelay, priority int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "plan_id", "min_delay_seconds", "max_delay_seconds", "enable_breaks",
		"min_messages_before_break", "max_messages_before_break",
		"min_break_minutes", "max_break_minutes", "priority",
	}).AddRow(uuid.New().String(), planID, minDelay, maxDelay, true, 15, 30, 3, 8, priority)
}

// =============================================================================
// US-001: Campaign creation builds the workflow atomically
// =============================================================================

func TestUS001_CampaignCreationBuildsWorkflow(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	ownerID := "owner-" + uuid.New().String()[:8]
	svc := campaign.NewService(postgres.NewCampaignRepo(tc.DB), nil, nil)

	t.Run("Criterion1_OneTransactionCoversCampaignAndEntries", func(t *testing.T) {
		// Given: three selected contacts that resolve under the owner
		ids := []string{uuid.New().String(), uuid.New().String(), uuid.New().String()}
		tc.Mock.ExpectQuery("FROM morsel_contacts WHERE owner_id").
			WillReturnRows(contactRows(ownerID,
				[3]string{ids[0], "966501234001", "male"},
				[3]string{ids[1], "966501234002", "female"},
				[3]string{ids[2], "966501234003", "unknown"},
			))

		// Expect: campaign insert and the entry COPY inside one transaction
		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("INSERT INTO morsel_campaigns").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))
		prep := tc.Mock.ExpectPrepare(`COPY "morsel_workflow_entries"`)
		for range ids {
			prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
		}
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 3)) // flush
		tc.Mock.ExpectCommit()

		// When: the campaign is created
		c, err := svc.Create(tc.Ctx, ownerID, campaign.CreateInput{
			Name:           "Eid greetings",
			MessageContent: "Happy Eid {name}",
			ContactIDs:     ids,
		})

		// Then: it lands in status new with one entry per contact
		require.NoError(t, err)
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, domain.CampaignNew, c.Status)
		assert.Equal(t, 3, c.TotalContacts)
		assert.Equal(t, domain.DuplicatePerCampaign, c.DuplicateMode, "mode defaults to per_campaign")
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})

	t.Run("Criterion2_GenderedTemplateFallsBackToSharedBody", func(t *testing.T) {
		contactID := uuid.New().String()
		tc.Mock.ExpectQuery("FROM morsel_contacts WHERE owner_id").
			WillReturnRows(contactRows(ownerID, [3]string{contactID, "966501234004", "female"}))

		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("INSERT INTO morsel_campaigns").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).
				AddRow(time.Now(), time.Now()))
		prep := tc.Mock.ExpectPrepare(`COPY "morsel_workflow_entries"`)
		// The entry snapshots both slots: male from the gendered template,
		// female from the shared body because its slot was left empty.
		prep.ExpectExec().WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), contactID, "new", sqlmock.AnyArg(),
			0, "", "Happy Eid, dear brother", "Happy Eid",
			nil, nil, nil, nil, nil, nil, nil, nil,
		).WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectCommit()

		_, err := svc.Create(tc.Ctx, ownerID, campaign.CreateInput{
			Name:               "Gendered Eid",
			MessageContent:     "Happy Eid",
			MaleContent:        "Happy Eid, dear brother",
			UseGenderTemplates: true,
			ContactIDs:         []string{contactID},
		})
		require.NoError(t, err)
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})

	t.Run("Criterion3_ValidationFailuresNeverTouchTheStore", func(t *testing.T) {
		_, err := svc.Create(tc.Ctx, ownerID, campaign.CreateInput{
			Name: "No recipients", MessageContent: "hello",
		})
		assert.ErrorIs(t, err, campaign.ErrNoContacts)

		_, err = svc.Create(tc.Ctx, ownerID, campaign.CreateInput{
			Name: "No body", ContactIDs: []string{uuid.New().String()},
		})
		assert.ErrorIs(t, err, campaign.ErrNoBody)

		_, err = svc.Create(tc.Ctx, ownerID, campaign.CreateInput{
			Name: "Bad mode", MessageContent: "hello",
			ContactIDs:    []string{uuid.New().String()},
			DuplicateMode: "hourly",
		})
		assert.ErrorIs(t, err, campaign.ErrBadInput)

		assert.NoError(t, tc.Mock.ExpectationsWereMet(), "no SQL ran for rejected input")
	})

	t.Run("Criterion4_ForeignContactIDsResolveToNothing", func(t *testing.T) {
		// Contacts belonging to another owner come back as zero rows.
		tc.Mock.ExpectQuery("FROM morsel_contacts WHERE owner_id").
			WillReturnRows(contactRows(ownerID))

		_, err := svc.Create(tc.Ctx, ownerID, campaign.CreateInput{
			Name:           "Poached list",
			MessageContent: "hello",
			ContactIDs:     []string{uuid.New().String()},
		})
		assert.ErrorIs(t, err, campaign.ErrNoContacts)
	})
}

// =============================================================================
// US-002: Lifecycle status machine holds under concurrent writers
// =============================================================================

func TestUS002_LifecycleStatusMachine(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	store := postgres.NewWorkflowStore(tc.DB)
	campaignID := uuid.New().String()

	t.Run("Criterion1_StartMovesIdleCampaignToRunning", func(t *testing.T) {
		tc.Mock.ExpectExec("UPDATE morsel_campaigns SET status").
			WillReturnResult(sqlmock.NewResult(0, 1))

		now := time.Now()
		err := store.UpdateCampaignStatus(tc.Ctx, campaignID,
			[]domain.CampaignStatus{domain.CampaignNew, domain.CampaignPending, domain.CampaignPaused},
			domain.CampaignRunning,
			workflow.Fields{StartedAt: &now},
		)
		require.NoError(t, err)
	})

	t.Run("Criterion2_TerminalCampaignRefusesToRestart", func(t *testing.T) {
		// The guarded UPDATE matches no row, so the store reads back the
		// actual status and names it in the conflict.
		tc.Mock.ExpectExec("UPDATE morsel_campaigns SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		tc.Mock.ExpectQuery("SELECT status FROM morsel_campaigns WHERE id").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("stopped"))

		now := time.Now()
		err := store.UpdateCampaignStatus(tc.Ctx, campaignID,
			[]domain.CampaignStatus{domain.CampaignNew, domain.CampaignPending, domain.CampaignPaused},
			domain.CampaignRunning,
			workflow.Fields{StartedAt: &now},
		)
		require.ErrorIs(t, err, workflow.ErrConflict)
		assert.Contains(t, err.Error(), "stopped")
	})

	t.Run("Criterion3_ClaimThenFinalizeBumpsCountersTransactionally", func(t *testing.T) {
		entryID := uuid.New().String()
		contactID := uuid.New().String()

		tc.Mock.ExpectExec("SET status = 'processing'").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.ClaimEntry(tc.Ctx, entryID))

		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("RETURNING campaign_id, contact_id").
			WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "contact_id"}).
				AddRow(campaignID, contactID))
		tc.Mock.ExpectExec("SET messages_sent = messages_sent").
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectExec("UPDATE morsel_contacts").
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectCommit()

		require.NoError(t, store.FinalizeEntry(tc.Ctx, entryID, domain.OutcomeSent, ""))
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})

	t.Run("Criterion4_DoubleClaimLosesTheRace", func(t *testing.T) {
		entryID := uuid.New().String()
		tc.Mock.ExpectExec("SET status = 'processing'").
			WillReturnResult(sqlmock.NewResult(0, 0))
		tc.Mock.ExpectQuery("SELECT status FROM morsel_workflow_entries WHERE id").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))

		err := store.ClaimEntry(tc.Ctx, entryID)
		require.ErrorIs(t, err, workflow.ErrConflict)
	})

	t.Run("Criterion5_OrphanSweepFailsAbandonedEntries", func(t *testing.T) {
		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("WITH swept AS").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		tc.Mock.ExpectExec("SET messages_failed = messages_failed").
			WithArgs(campaignID, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectCommit()

		n, err := store.RecoverOrphans(tc.Ctx, campaignID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})
}

// =============================================================================
// US-003: Duplicate prevention across its three modes
// =============================================================================

func TestUS003_DuplicatePrevention(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	ownerID := "owner-" + uuid.New().String()[:8]
	guard := dupguard.NewService(postgres.NewSentPhoneRepo(tc.DB), tc.Redis)
	phone := "966501234567"

	t.Run("Criterion1_PerCampaignModeConsultsTheEntrySet", func(t *testing.T) {
		c := &domain.Campaign{
			ID: uuid.New().String(), OwnerID: ownerID,
			DuplicateMode: domain.DuplicatePerCampaign,
		}
		tc.Mock.ExpectQuery("JOIN morsel_contacts").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		d, err := guard.Check(tc.Ctx, c, phone)
		require.NoError(t, err)
		assert.Equal(t, dupguard.Deny, d, "already sent inside this campaign")
	})

	t.Run("Criterion2_PersistentModeShortCircuitsOnRedis", func(t *testing.T) {
		// Given: the phone is already in the owner's Redis set. No SQL
		// expectation is registered, so any store query would fail the test.
		require.NoError(t, tc.Redis.SAdd(tc.Ctx, "dup:"+ownerID, phone).Err())

		c := &domain.Campaign{
			ID: uuid.New().String(), OwnerID: ownerID,
			DuplicateMode: domain.DuplicatePersistent,
		}
		d, err := guard.Check(tc.Ctx, c, phone)
		require.NoError(t, err)
		assert.Equal(t, dupguard.Deny, d)
	})

	t.Run("Criterion3_StoreMissAllowsAndRecordMirrorsToRedis", func(t *testing.T) {
		fresh := "966509998877"
		c := &domain.Campaign{
			ID: uuid.New().String(), OwnerID: ownerID,
			DuplicateMode: domain.DuplicatePersistent,
		}

		tc.Mock.ExpectQuery("FROM morsel_sent_phones WHERE owner_id").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		d, err := guard.Check(tc.Ctx, c, fresh)
		require.NoError(t, err)
		assert.Equal(t, dupguard.Allow, d)

		// When: the send is recorded
		tc.Mock.ExpectExec("INSERT INTO morsel_sent_phones").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, guard.Record(tc.Ctx, ownerID, fresh, c.ID, "sent"))

		// Then: the phone now sits in the Redis set with a bounded TTL
		member, err := tc.Redis.SIsMember(tc.Ctx, "dup:"+ownerID, fresh).Result()
		require.NoError(t, err)
		assert.True(t, member)
		assert.Equal(t, 24*time.Hour, tc.MiniR.TTL("dup:"+ownerID))

		// And: the next check denies without reaching the store
		d, err = guard.Check(tc.Ctx, c, fresh)
		require.NoError(t, err)
		assert.Equal(t, dupguard.Deny, d)
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})

	t.Run("Criterion4_OffModeSkipsEveryTier", func(t *testing.T) {
		c := &domain.Campaign{
			ID: uuid.New().String(), OwnerID: ownerID,
			DuplicateMode: domain.DuplicateOff,
		}
		d, err := guard.Check(tc.Ctx, c, phone)
		require.NoError(t, err)
		assert.Equal(t, dupguard.Allow, d)
	})

	t.Run("Criterion5_ForgetClearsBothTiers", func(t *testing.T) {
		tc.Mock.ExpectExec("DELETE FROM morsel_sent_phones").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, guard.Forget(tc.Ctx, ownerID, phone))

		member, err := tc.Redis.SIsMember(tc.Ctx, "dup:"+ownerID, phone).Result()
		require.NoError(t, err)
		assert.False(t, member)
	})
}

// =============================================================================
// US-004: Resending entries after a finished run
// =============================================================================

func TestUS004_ResendAfterRun(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	ownerID := "owner-" + uuid.New().String()[:8]
	campaignID := uuid.New().String()
	guard := dupguard.NewService(postgres.NewSentPhoneRepo(tc.DB), tc.Redis)
	svc := campaign.NewService(postgres.NewCampaignRepo(tc.DB), guard, nil)

	t.Run("Criterion1_SingleResendRestoresPendingAndUnwindsCounters", func(t *testing.T) {
		contactID := uuid.New().String()

		// Owner-scoped load of a stopped campaign
		tc.Mock.ExpectQuery("FROM morsel_campaigns WHERE id").
			WillReturnRows(campaignRow(campaignID, ownerID, domain.CampaignStopped, 3))
		// Contact resolution for the duplicate-guard clear
		tc.Mock.ExpectQuery("FROM morsel_contacts WHERE owner_id").
			WillReturnRows(contactRows(ownerID, [3]string{contactID, "966501230001", "male"}))
		tc.Mock.ExpectExec("DELETE FROM morsel_sent_phones").
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Requeue transaction: lock the entry, revert it, unwind counters,
		// reset the contact mirror.
		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("UPDATE morsel_workflow_entries e").
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))
		tc.Mock.ExpectExec("UPDATE morsel_campaigns SET").
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectExec("UPDATE morsel_contacts SET status = 'pending'").
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectCommit()

		prev, err := svc.Resend(tc.Ctx, ownerID, campaignID, contactID)
		require.NoError(t, err)
		assert.Equal(t, domain.EntrySent, prev)
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})

	t.Run("Criterion2_ResendRefusedWhileRunning", func(t *testing.T) {
		tc.Mock.ExpectQuery("FROM morsel_campaigns WHERE id").
			WillReturnRows(campaignRow(campaignID, ownerID, domain.CampaignRunning, 3))

		_, err := svc.Resend(tc.Ctx, ownerID, campaignID, uuid.New().String())
		assert.ErrorIs(t, err, campaign.ErrRunning)
	})

	t.Run("Criterion3_BulkRequeueCoversEveryFailedEntry", func(t *testing.T) {
		tc.Mock.ExpectQuery("FROM morsel_campaigns WHERE id").
			WillReturnRows(campaignRow(campaignID, ownerID, domain.CampaignStopped, 3))

		// Failed phones feed the duplicate-guard clears, one DELETE each.
		// The second phone was never recorded; Forget shrugs that off.
		tc.Mock.ExpectQuery("SELECT c.formatted_phone").
			WillReturnRows(sqlmock.NewRows([]string{"formatted_phone"}).
				AddRow("966501230001").AddRow("966501230002"))
		tc.Mock.ExpectExec("DELETE FROM morsel_sent_phones").
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectExec("DELETE FROM morsel_sent_phones").
			WillReturnResult(sqlmock.NewResult(0, 0))

		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("RETURNING contact_id").
			WillReturnRows(sqlmock.NewRows([]string{"contact_id"}).
				AddRow(uuid.New().String()).AddRow(uuid.New().String()))
		tc.Mock.ExpectExec("UPDATE morsel_campaigns SET").
			WillReturnResult(sqlmock.NewResult(0, 1))
		tc.Mock.ExpectExec("UPDATE morsel_contacts SET status = 'pending'").
			WillReturnResult(sqlmock.NewResult(0, 2))
		tc.Mock.ExpectCommit()

		n, err := svc.ResendFailed(tc.Ctx, ownerID, campaignID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})
}

// =============================================================================
// US-005: Pacing policy resolution across its tiers
// =============================================================================

func TestUS005_PacingResolutionTiers(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	cfg := config.PacingConfig{
		FallbackMinDelaySecs: 1, FallbackMaxDelaySecs: 3,
		FallbackMinMessages: 8, FallbackMaxMessages: 15,
		FallbackMinBreakMins: 5, FallbackMaxBreakMins: 15,
		LocalCacheTTLSecs: 30, RedisCacheTTLSecs: 60,
	}
	engine := pacing.NewEngine(tc.DB, tc.Redis, cfg, &clock.Fixed{T: time.Now()})

	ownerWithSettings := "owner-" + uuid.New().String()[:8]
	ownerOnPlan := "owner-" + uuid.New().String()[:8]
	ownerBare := "owner-" + uuid.New().String()[:8]

	t.Run("Criterion1_OwnerOverridesBeatEveryOtherTier", func(t *testing.T) {
		tc.Mock.ExpectQuery("FROM morsel_pacing_settings").
			WillReturnRows(settingsRow(ownerWithSettings, 45, 90, true, 2))

		s := engine.Resolve(tc.Ctx, ownerWithSettings, "pro", domain.TimingAuto, 0, 0)
		assert.Equal(t, pacing.SourceUser, s.Source)
		assert.Equal(t, 45, s.MinDelaySeconds)
		assert.Equal(t, 90, s.MaxDelaySeconds)
		assert.True(t, s.UseDecimalRandomization)
		assert.Equal(t, 2, s.DecimalPrecision)

		// The row is now mirrored into the Redis tier for other processes.
		n, err := tc.Redis.Exists(tc.Ctx, "pacing:settings:"+ownerWithSettings).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("Criterion2_PlanRuleServesOwnersWithoutOverrides", func(t *testing.T) {
		tc.Mock.ExpectQuery("FROM morsel_pacing_settings").
			WillReturnError(sql.ErrNoRows)
		tc.Mock.ExpectQuery("FROM morsel_pacing_rules").
			WillReturnRows(ruleRow("pro", 30, 60, 100))

		s := engine.Resolve(tc.Ctx, ownerOnPlan, "pro", domain.TimingAuto, 0, 0)
		assert.Equal(t, pacing.SourcePlan, s.Source)
		assert.Equal(t, 30, s.MinDelaySeconds)
		assert.Equal(t, 60, s.MaxDelaySeconds)
	})

	t.Run("Criterion3_GlobalRowCatchesPlanlessOwners", func(t *testing.T) {
		tc.Mock.ExpectQuery("FROM morsel_pacing_settings").
			WillReturnError(sql.ErrNoRows)
		tc.Mock.ExpectQuery("FROM morsel_pacing_rules").
			WillReturnRows(ruleRow("", 25, 50, 0))

		s := engine.Resolve(tc.Ctx, ownerBare, "", domain.TimingAuto, 0, 0)
		assert.Equal(t, pacing.SourceGlobal, s.Source)
		assert.Equal(t, 25, s.MinDelaySeconds)
	})

	t.Run("Criterion4_ManualModeClampsToTheFloor", func(t *testing.T) {
		// Owner settings are already in the local cache, so no SQL runs;
		// manual bounds override them and 5/10 clamps up to the 20s floor.
		s := engine.Resolve(tc.Ctx, ownerWithSettings, "", domain.TimingManual, 5, 10)
		assert.Equal(t, pacing.SourceManual, s.Source)
		assert.Equal(t, pacing.ManualMinFloor, s.MinDelaySeconds)
		assert.Equal(t, pacing.ManualMinFloor, s.MaxDelaySeconds, "max rises to meet the clamped min")
	})

	t.Run("Criterion5_SaveInvalidatesBothCacheTiers", func(t *testing.T) {
		tc.Mock.ExpectExec("INSERT INTO morsel_pacing_settings").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := engine.SaveSettings(tc.Ctx, domain.PacingSettings{
			OwnerID:         ownerWithSettings,
			MinDelaySeconds: 50, MaxDelaySeconds: 100,
			EnableBreaks:     true,
			MinMessagesBreak: 10, MaxMessagesBreak: 20,
			MinBreakMinutes: 2, MaxBreakMinutes: 5,
		})
		require.NoError(t, err)

		n, err := tc.Redis.Exists(tc.Ctx, "pacing:settings:"+ownerWithSettings).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 0, n, "redis cache dropped on save")

		// Next lookup goes back to Postgres and sees the new row.
		tc.Mock.ExpectQuery("FROM morsel_pacing_settings").
			WillReturnRows(settingsRow(ownerWithSettings, 50, 100, false, 0))
		ps, found := engine.OwnerSettings(tc.Ctx, ownerWithSettings)
		require.True(t, found)
		assert.Equal(t, 50, ps.MinDelaySeconds)
		assert.NoError(t, tc.Mock.ExpectationsWereMet())
	})

	t.Run("Criterion6_InvalidOverridesNeverReachTheStore", func(t *testing.T) {
		err := engine.SaveSettings(tc.Ctx, domain.PacingSettings{
			OwnerID:         ownerWithSettings,
			MinDelaySeconds: 0, MaxDelaySeconds: 10,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_delay_seconds")
	})
}

// =============================================================================
// US-006: Progress reporting and lifecycle events
// =============================================================================

func TestUS006_ProgressAndEvents(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	now := time.Now()
	clk := &clock.Fixed{T: now}
	reporter := report.New(tc.DB, nil, clk)
	campaignID := uuid.New().String()

	t.Run("Criterion1_SnapshotDerivesRatesFromOneConsistentRead", func(t *testing.T) {
		startedAt := now.Add(-10 * time.Minute)

		tc.Mock.ExpectBegin()
		tc.Mock.ExpectQuery("FROM morsel_campaigns WHERE id").
			WillReturnRows(sqlmock.NewRows([]string{
				"status", "total_contacts", "messages_sent", "messages_delivered",
				"messages_failed", "last_error", "error_count", "started_at", "updated_at",
			}).AddRow("running", 10, 6, 4, 1, "page closed", 1, startedAt, now))
		tc.Mock.ExpectQuery("GROUP BY status").
			WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
				AddRow("pending", 3).AddRow("sent", 2).AddRow("delivered", 4).AddRow("failed", 1))
		tc.Mock.ExpectCommit()

		p, err := reporter.Snapshot(tc.Ctx, campaignID)
		require.NoError(t, err)

		assert.Equal(t, 7, p.Processed, "sent plus failed")
		assert.Equal(t, 70.0, p.Percent)
		assert.Equal(t, 85.71, p.SuccessRate)
		assert.Equal(t, map[string]int{"pending": 3, "sent": 2, "delivered": 4, "failed": 1}, p.Breakdown)
		assert.Equal(t, "page closed", p.LastError)
		assert.False(t, p.Break.IsOnBreak, "no runtime source registered")

		require.NotNil(t, p.EstimatedCompletion)
		avg := (10 * time.Minute) / 7
		assert.WithinDuration(t, now.Add(avg*3), *p.EstimatedCompletion, time.Second)
	})

	t.Run("Criterion2_SummaryOnMissingCampaignIsNotFound", func(t *testing.T) {
		tc.Mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := reporter.Summary(tc.Ctx, uuid.New().String())
		assert.ErrorIs(t, err, report.ErrNotFound)
	})

	t.Run("Criterion3_LifecycleEventsReachSubscribers", func(t *testing.T) {
		sub := tc.Redis.Subscribe(tc.Ctx, worker.EventsChannel)
		defer sub.Close()
		_, err := sub.Receive(tc.Ctx) // wait for the subscription ack
		require.NoError(t, err)

		pub := worker.NewPublisher(tc.Redis, clk)
		pub.Publish(worker.Event{
			Type:       worker.EventStatusChanged,
			CampaignID: campaignID,
			Status:     "running",
		})

		select {
		case msg := <-sub.Channel():
			var ev worker.Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			assert.Equal(t, worker.EventStatusChanged, ev.Type)
			assert.Equal(t, campaignID, ev.CampaignID)
			assert.True(t, ev.At.Equal(now), "event stamped with the publisher clock")
		case <-time.After(2 * time.Second):
			t.Fatal("no event arrived on the channel")
		}
	})

	t.Run("Criterion4_NilPublisherDropsEventsSilently", func(t *testing.T) {
		var pub *worker.Publisher
		pub.Publish(worker.Event{Type: worker.EventStatusChanged, CampaignID: campaignID})
		// Nothing to assert beyond not panicking.
	})
}

// =============================================================================
// US-007: Claim ordering keeps resumed runs deterministic
// =============================================================================

func TestUS007_ClaimOrderingOnResume(t *testing.T) {
	tc := setupTestContext(t)
	defer tc.Cleanup()

	store := postgres.NewWorkflowStore(tc.DB)
	campaignID := uuid.New().String()

	t.Run("Criterion1_BatchComesBackInInsertionOrder", func(t *testing.T) {
		added := time.Now().Add(-time.Hour)
		first, second := uuid.New().String(), uuid.New().String()
		if strings.Compare(first, second) > 0 {
			first, second = second, first
		}

		rows := sqlmock.NewRows([]string{
			"id", "campaign_id", "contact_id", "status", "added_at", "processed_at",
			"delivered_at", "opened_at", "clicked_at", "retry_count", "error_message",
			"male_message", "female_message",
			"attachment_filename", "attachment_content_type", "attachment_data",
			"attachment_size", "attachment_kind", "attachment_width", "attachment_height",
			"attachment_archive_key",
		}).
			AddRow(first, campaignID, uuid.New().String(), "pending", added, nil,
				nil, nil, nil, 0, "", "hello", "", nil, nil, nil, nil, nil, nil, nil, nil).
			AddRow(second, campaignID, uuid.New().String(), "new", added, nil,
				nil, nil, nil, 0, "", "hello", "", nil, nil, nil, nil, nil, nil, nil, nil)

		tc.Mock.ExpectQuery("FROM morsel_workflow_entries").
			WithArgs(campaignID, 50).
			WillReturnRows(rows)

		batch, err := store.NextPendingBatch(tc.Ctx, campaignID, 50)
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, first, batch[0].ID)
		assert.Equal(t, second, batch[1].ID)
		assert.Nil(t, batch[0].Attachment, "no attachment columns set")
	})

	t.Run("Criterion2_EmptyBatchSignalsCompletion", func(t *testing.T) {
		tc.Mock.ExpectQuery("FROM morsel_workflow_entries").
			WithArgs(campaignID, 50).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		batch, err := store.NextPendingBatch(tc.Ctx, campaignID, 50)
		require.NoError(t, err)
		assert.Empty(t, batch)
	})
}
