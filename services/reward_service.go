package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepCreditAPI/internal/apperr"
	"stepCreditAPI/internal/cache"
	"stepCreditAPI/internal/notification"
	"stepCreditAPI/internal/reward"
	"stepCreditAPI/middleware"
	"stepCreditAPI/utils"
)

const (
	catalogCacheTTL    = time.Minute
	catalogCachePrefix = "rewards:catalog"
)

// RewardService serves the read-mostly reward catalog and runs the redemption
// workflow. A redemption is one transaction: availability checks, the atomic
// balance debit and the redemption insert all commit or roll back together.
type RewardService struct {
	db       *pgxpool.Pool
	credits  *CreditService
	catalog  *cache.Cache
	notifier *NotificationService
}

func NewRewardService(db *pgxpool.Pool, credits *CreditService, catalog *cache.Cache) *RewardService {
	return &RewardService{db: db, credits: credits, catalog: catalog}
}

// SetNotifier injects the notification sink used after fulfillment commits.
func (s *RewardService) SetNotifier(n *NotificationService) {
	s.notifier = n
}

const rewardColumns = `
	id, name, description, reward_type, cost, category,
	start_date, end_date, quantity, user_limit, digital_code,
	instructions, is_active, created_at, updated_at
`

func scanReward(row pgx.Row, r *reward.Reward) error {
	return row.Scan(
		&r.ID, &r.Name, &r.Description, &r.Type, &r.Cost, &r.Category,
		&r.StartDate, &r.EndDate, &r.Quantity, &r.UserLimit, &r.DigitalCode,
		&r.Instructions, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
}

// ListAvailable returns active, in-window, in-stock rewards, cheapest first
// with ties broken by newest. Results are cached briefly in Redis.
func (s *RewardService) ListAvailable(ctx context.Context, category, rewardType string, limit, offset int) ([]*reward.CatalogItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	cacheKey := fmt.Sprintf("%s:%s:%s:%d:%d", catalogCachePrefix, category, rewardType, limit, offset)
	var cached []*reward.CatalogItem
	if err := s.catalog.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	}

	query := `
		SELECT ` + rewardColumns + `,
			(SELECT COUNT(*) FROM reward_redemptions rr
			 WHERE rr.reward_id = rewards.id
			   AND rr.status IN ('pending', 'processing', 'fulfilled')) AS redeemed
		FROM rewards
		WHERE is_active = TRUE
		  AND (start_date IS NULL OR start_date <= NOW())
		  AND (end_date IS NULL OR end_date >= NOW())
		  AND ($1 = '' OR category = $1)
		  AND ($2 = '' OR reward_type = $2)
		ORDER BY cost ASC, created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.Query(ctx, query, category, rewardType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rewards: %w", err)
	}
	defer rows.Close()

	items := []*reward.CatalogItem{}
	for rows.Next() {
		item := &reward.CatalogItem{}
		var redeemed int
		err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.Type, &item.Cost, &item.Category,
			&item.StartDate, &item.EndDate, &item.Quantity, &item.UserLimit, &item.DigitalCode,
			&item.Instructions, &item.IsActive, &item.CreatedAt, &item.UpdatedAt,
			&redeemed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		if item.CheckStock(redeemed) != nil {
			continue
		}
		item.Remaining = item.RemainingInventory(redeemed)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rewards: %w", err)
	}

	if err := s.catalog.Set(ctx, cacheKey, items, catalogCacheTTL); err != nil {
		log.Printf("Failed to cache reward catalog: %v", err)
	}
	return items, nil
}

func (s *RewardService) GetReward(ctx context.Context, rewardID string) (*reward.CatalogItem, error) {
	item := &reward.CatalogItem{}
	var redeemed int
	query := `
		SELECT ` + rewardColumns + `,
			(SELECT COUNT(*) FROM reward_redemptions rr
			 WHERE rr.reward_id = rewards.id
			   AND rr.status IN ('pending', 'processing', 'fulfilled')) AS redeemed
		FROM rewards
		WHERE id = $1 AND is_active = TRUE
	`
	err := s.db.QueryRow(ctx, query, rewardID).Scan(
		&item.ID, &item.Name, &item.Description, &item.Type, &item.Cost, &item.Category,
		&item.StartDate, &item.EndDate, &item.Quantity, &item.UserLimit, &item.DigitalCode,
		&item.Instructions, &item.IsActive, &item.CreatedAt, &item.UpdatedAt,
		&redeemed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("reward not found")
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}
	item.Remaining = item.RemainingInventory(redeemed)
	return item, nil
}

// Redeem runs the redemption workflow for one user and reward. The ordered
// pre-checks each fail with their own error kind; the debit inside the same
// transaction is the real enforcement point, so two racing redemptions can
// never both spend the same credits.
func (s *RewardService) Redeem(ctx context.Context, userID, rewardID string) (*reward.RedeemResponse, error) {
	if rewardID == "" {
		return nil, apperr.Validation("reward_id is required")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var r reward.Reward
	err = scanReward(tx.QueryRow(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = $1`, rewardID), &r)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("reward not found or no longer available")
		}
		return nil, fmt.Errorf("failed to get reward: %w", err)
	}

	now := time.Now()
	if err := r.InWindow(now); err != nil {
		return nil, err
	}

	if r.Quantity != nil {
		// Finite stock: serialize the inventory check per reward. Redemptions
		// of unlimited rewards stay fully parallel.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM rewards WHERE id = $1 FOR UPDATE`, rewardID); err != nil {
			return nil, fmt.Errorf("failed to lock reward: %w", err)
		}

		var redeemed int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM reward_redemptions
			WHERE reward_id = $1 AND status IN ('pending', 'processing', 'fulfilled')
		`, rewardID).Scan(&redeemed)
		if err != nil {
			return nil, fmt.Errorf("failed to count redemptions: %w", err)
		}
		if err := r.CheckStock(redeemed); err != nil {
			return nil, err
		}
	}

	if r.UserLimit != nil {
		// Same-user redemptions must serialize before the count below, or two
		// concurrent transactions both read a stale count and both pass the
		// limit. The balance row is the per-user lock; taking it here instead
		// of first inside the debit closes that window.
		if _, err := s.credits.lockAccount(ctx, tx, userID); err != nil {
			return nil, err
		}

		var userRedeemed int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM reward_redemptions
			WHERE user_id = $1 AND reward_id = $2 AND status IN ('pending', 'processing', 'fulfilled')
		`, userID, rewardID).Scan(&userRedeemed)
		if err != nil {
			return nil, fmt.Errorf("failed to count user redemptions: %w", err)
		}
		if err := r.CheckUserLimit(userRedeemed); err != nil {
			return nil, err
		}
	}

	// The atomic debit. InsufficientCreditsError here rolls everything back
	// with no redemption created and no compensating credit needed.
	_, err = s.credits.debitInTx(ctx, tx, userID, r.Cost, "spent", "reward_redemption",
		fmt.Sprintf("Reward redemption: %s", r.Name),
		map[string]any{"reward_id": r.ID})
	if err != nil {
		return nil, err
	}

	redemption := &reward.Redemption{
		ID:         uuid.New(),
		UserID:     userID,
		RewardID:   r.ID,
		Cost:       r.Cost,
		Status:     reward.StatusPending,
		RedeemedAt: now,
	}

	var code string
	if r.DigitalCode {
		code = utils.GenerateFulfillmentCode()
		redemption.FulfillmentCode = &code
		redemption.Status = reward.StatusFulfilled
		fulfilledAt := now
		redemption.FulfilledAt = &fulfilledAt
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO reward_redemptions (id, user_id, reward_id, cost, status, fulfillment_code, redeemed_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, redemption.ID, redemption.UserID, redemption.RewardID, redemption.Cost,
		redemption.Status, redemption.FulfillmentCode, redemption.RedeemedAt, redemption.FulfilledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create redemption: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	middleware.RecordRedemption(string(redemption.Status))
	if err := s.catalog.Invalidate(ctx, catalogCachePrefix+":*"); err != nil {
		log.Printf("Failed to invalidate reward catalog cache: %v", err)
	}

	summary := &reward.Summary{
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		Type:        r.Type,
	}

	resp := &reward.RedeemResponse{
		Redemption:   redemption,
		Reward:       summary,
		Instructions: r.Instructions,
	}
	if code != "" {
		resp.FulfillmentCode = code
	}

	// Published after commit, never awaited: a notification failure must not
	// fail a redemption that already debited the ledger.
	if s.notifier != nil && redemption.Status == reward.StatusFulfilled {
		s.notifier.Notify(ctx, userID, notification.TypeRedemptionFulfilled,
			"Reward redeemed", fmt.Sprintf("Your %s is ready!", r.Name),
			map[string]any{"redemption_id": redemption.ID.String(), "reward_id": r.ID})
	}

	return resp, nil
}

// ListRedemptions returns the user's redemption history, newest first, with a
// summary of each reward attached.
func (s *RewardService) ListRedemptions(ctx context.Context, userID string, status reward.RedemptionStatus, limit, offset int) ([]*reward.RedemptionWithReward, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT
			rr.id, rr.user_id, rr.reward_id, rr.cost, rr.status,
			rr.fulfillment_code, rr.redeemed_at, rr.fulfilled_at,
			r.name, r.description, r.category, r.reward_type
		FROM reward_redemptions rr
		JOIN rewards r ON r.id = rr.reward_id
		WHERE rr.user_id = $1 AND ($2 = '' OR rr.status = $2)
		ORDER BY rr.redeemed_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.Query(ctx, query, userID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch redemptions: %w", err)
	}
	defer rows.Close()

	redemptions := []*reward.RedemptionWithReward{}
	for rows.Next() {
		item := &reward.RedemptionWithReward{Reward: &reward.Summary{}}
		err := rows.Scan(
			&item.ID, &item.UserID, &item.RewardID, &item.Cost, &item.Status,
			&item.FulfillmentCode, &item.RedeemedAt, &item.FulfilledAt,
			&item.Reward.Name, &item.Reward.Description, &item.Reward.Category, &item.Reward.Type,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		redemptions = append(redemptions, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read redemptions: %w", err)
	}

	return redemptions, nil
}

// CreateReward adds a catalog entry (admin surface).
func (s *RewardService) CreateReward(ctx context.Context, req *reward.CreateRewardRequest) (*reward.Reward, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r := &reward.Reward{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		Cost:         req.Cost,
		Category:     req.Category,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Quantity:     req.Quantity,
		UserLimit:    req.UserLimit,
		DigitalCode:  req.DigitalCode,
		Instructions: req.Instructions,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO rewards (id, name, description, reward_type, cost, category,
			start_date, end_date, quantity, user_limit, digital_code, instructions,
			is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.Name, r.Description, r.Type, r.Cost, r.Category,
		r.StartDate, r.EndDate, r.Quantity, r.UserLimit, r.DigitalCode, r.Instructions,
		r.IsActive, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create reward: %w", err)
	}

	if err := s.catalog.Invalidate(ctx, catalogCachePrefix+":*"); err != nil {
		log.Printf("Failed to invalidate reward catalog cache: %v", err)
	}
	return r, nil
}

// ExpireStaleRedemptions moves redemptions stuck in pending or processing
// past the cutoff into the expired state. Runs from the hourly cron job.
// Expired redemptions release their inventory unit but are not refunded; the
// affected users are told their redemption lapsed.
func (s *RewardService) ExpireStaleRedemptions(ctx context.Context, olderThan time.Duration) (int64, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE reward_redemptions
		SET status = 'expired'
		WHERE status IN ('pending', 'processing') AND redeemed_at < $1
		RETURNING id, user_id
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to expire redemptions: %w", err)
	}
	defer rows.Close()

	type lapsed struct {
		id     uuid.UUID
		userID string
	}
	var expired []lapsed
	for rows.Next() {
		var l lapsed
		if err := rows.Scan(&l.id, &l.userID); err != nil {
			return 0, fmt.Errorf("failed to scan expired redemption: %w", err)
		}
		expired = append(expired, l)
	}
	if err = rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read expired redemptions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, l := range expired {
		middleware.RecordRedemption(string(reward.StatusExpired))
		if s.notifier != nil {
			s.notifier.Notify(ctx, l.userID, notification.TypeRedemptionExpired,
				"Redemption expired", "A pending redemption was not fulfilled in time and has expired.",
				map[string]any{"redemption_id": l.id.String()})
		}
	}

	if err := s.catalog.Invalidate(ctx, catalogCachePrefix+":*"); err != nil {
		log.Printf("Failed to invalidate reward catalog cache: %v", err)
	}
	return int64(len(expired)), nil
}
