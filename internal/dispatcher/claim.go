package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/digest-dispatcher/pkg/logger"
	"github.com/nimasrn/digest-dispatcher/pkg/redis"
)

var (
	ErrClaimHeld          = errors.New("dispatch claim held by another instance")
	ErrClaimAcquireFailed = errors.New("failed to acquire dispatch claim")
)

type ClaimConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		TTL:       10 * time.Minute,
		KeyPrefix: "claim:",
	}
}

// Claimer guards one recipient's local day across scheduler instances.
type Claimer interface {
	Acquire(ctx context.Context, recipientID int64, localDate string) (*Claim, error)
	Release(ctx context.Context, c *Claim) error
}

type Claim struct {
	Key   string
	token []byte
	held  bool
}

// ClaimService takes a short lived Redis claim on (recipient, local date)
// before a digest is built. The ledger stays authoritative: a successful
// dispatch keeps the claim until it expires, a failed one releases it so
// the next tick can retry.
type ClaimService struct {
	redis  redis.RedisAdapter
	config ClaimConfig
}

func NewClaimService(redisAdapter redis.RedisAdapter, config ClaimConfig) *ClaimService {
	if config.TTL <= 0 {
		config.TTL = DefaultClaimConfig().TTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultClaimConfig().KeyPrefix
	}
	return &ClaimService{
		redis:  redisAdapter,
		config: config,
	}
}

func (s *ClaimService) key(recipientID int64, localDate string) string {
	return fmt.Sprintf("%s%d:%s", s.config.KeyPrefix, recipientID, localDate)
}

func (s *ClaimService) Acquire(ctx context.Context, recipientID int64, localDate string) (*Claim, error) {
	key := s.key(recipientID, localDate)
	token := []byte(uuid.NewString())

	acquired, err := s.redis.SetNX(ctx, key, token, s.config.TTL)
	if err != nil {
		logger.Error("failed to acquire claim", "recipient_id", recipientID, "local_date", localDate, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrClaimAcquireFailed, err)
	}
	if !acquired {
		logger.Info("claim already held by another instance", "recipient_id", recipientID, "local_date", localDate)
		return nil, ErrClaimHeld
	}

	logger.Debug("claim acquired", "key", key, "ttl", s.config.TTL)
	return &Claim{Key: key, token: token, held: true}, nil
}

// Release drops the claim only while it still holds our token, so an
// expired claim re-taken by another instance is left alone.
func (s *ClaimService) Release(ctx context.Context, c *Claim) error {
	if c == nil || !c.held {
		return nil
	}
	if _, err := s.redis.DelIfEquals(ctx, c.Key, c.token); err != nil {
		logger.Warn("failed to release claim", "key", c.Key, "error", err)
		return err
	}
	c.held = false
	return nil
}

func (s *ClaimService) IsClaimed(ctx context.Context, recipientID int64, localDate string) (bool, error) {
	n, err := s.redis.Exist(ctx, s.key(recipientID, localDate))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
