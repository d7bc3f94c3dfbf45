package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/workway/mcp-gateway/internal/cache"
	"github.com/workway/mcp-gateway/internal/credential"
	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/model"
	"github.com/workway/mcp-gateway/internal/repository"
)

type output struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	Tier        string `json:"tier"`
	Key         string `json:"key"`
	AccessToken string `json:"access_token,omitempty"`
	LoggedCalls int64  `json:"logged_calls_this_cycle"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		redisURL    = flag.String("redis-url", os.Getenv("REDIS_URL"), "Redis connection string")
		userID      = flag.String("user-id", "", "User ID (generated when empty)")
		email       = flag.String("email", "dev@mcp-gateway.local", "User email")
		tier        = flag.String("tier", model.TierFree, "Tier (free, pro, enterprise)")
		token       = flag.String("access-token", "", "Optional externally issued access token to record for the user")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" || *redisURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL and REDIS_URL are required")
		os.Exit(1)
	}
	if *tier == model.TierAnonymous || !isValidTier(*tier) {
		fmt.Fprintf(os.Stderr, "invalid tier: %s\n", *tier)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	cacheClient, err := cache.New(ctx, *redisURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect redis:", err)
		os.Exit(1)
	}
	defer cacheClient.Close()

	user, err := ensureUser(ctx, repo, *userID, *email, *tier)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if *token != "" {
		if err := repo.CreateAccessToken(ctx, *token, user.ID, nil); err != nil {
			fmt.Fprintln(os.Stderr, "record access token:", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := credential.NewStore(cacheClient.Client(), logger, metrics.NewNoop())
	issued, err := store.Issue(ctx, &model.Caller{User: user})
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue key:", err)
		os.Exit(1)
	}

	logged, err := repository.NewToolCallRepository(repo).CountByUserSince(ctx, user.ID, user.BillingCycleStart)
	if err != nil {
		fmt.Fprintln(os.Stderr, "count logged calls:", err)
		os.Exit(1)
	}

	out := output{
		UserID:      user.ID,
		Email:       user.Email,
		Tier:        user.Tier,
		Key:         issued.Key,
		AccessToken: *token,
		LoggedCalls: logged,
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Key)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

func isValidTier(tier string) bool {
	for _, allowed := range model.ValidTiers {
		if tier == allowed {
			return true
		}
	}
	return false
}

// ensureUser returns the existing user for the id or email, creating it when
// neither exists.
func ensureUser(ctx context.Context, repo *repository.Repository, userID, email, tier string) (*model.User, error) {
	if userID != "" {
		existing, err := repo.GetUserByID(ctx, userID)
		if err == nil {
			if existing.Email != email {
				return nil, fmt.Errorf("user %s exists with different email: %s", userID, existing.Email)
			}
			return existing, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("get user: %w", err)
		}
	}

	byEmail, err := repo.GetUserByEmail(ctx, email)
	if err == nil {
		if userID != "" && byEmail.ID != userID {
			return nil, fmt.Errorf("email %s already used by user %s", email, byEmail.ID)
		}
		return byEmail, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	if userID == "" {
		userID = ulid.Make().String()
	}
	user := &model.User{
		ID:    userID,
		Email: email,
		Tier:  tier,
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
