package windowfence_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

func ExampleNewRateLimiter() {
	limiter, err := windowfence.NewRateLimiter(3, time.Minute)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	id := windowfence.Identity{Caller: "user-123", Endpoint: "/search"}

	for i := 1; i <= 5; i++ {
		d, err := limiter.Check(ctx, id)
		if errors.Is(err, windowfence.ErrLimitExceeded) {
			fmt.Printf("request %d: denied: %v\n", i, err)
			continue
		}
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("request %d: allowed, %d remaining\n", i, d.Remaining)
	}

	// Output:
	// request 1: allowed, 2 remaining
	// request 2: allowed, 1 remaining
	// request 3: allowed, 0 remaining
	// request 4: denied: Rate Limit Exceed (status 429)
	// request 5: denied: Rate Limit Exceed (status 429)
}

func ExampleNewFailedLimiter() {
	limiter, err := windowfence.NewFailedLimiter(2, 5*time.Minute)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	id := windowfence.Identity{Caller: "10.0.0.7"}

	_ = limiter.FailUp(ctx, id)
	_ = limiter.FailUp(ctx, id)

	if _, err := limiter.Check(ctx, id); err != nil {
		fmt.Println(err)
	}

	_ = limiter.Reset(ctx, id)
	if _, err := limiter.Check(ctx, id); err == nil {
		fmt.Println("unlocked")
	}

	// Output:
	// Access is limited for 300 seconds (status 429)
	// unlocked
}

func ExampleOpen() {
	config := windowfence.NewConfig()
	config.RateLimit.Limit = 1
	config.RateLimit.Message = "slow down"

	limiters, err := windowfence.Open(config)
	if err != nil {
		log.Fatal(err)
	}
	defer limiters.Close()

	ctx := context.Background()
	id := windowfence.Identity{Caller: "api-key-42", Endpoint: "/orders"}

	_, _ = limiters.Rate.Check(ctx, id)
	_, err = limiters.Rate.Check(ctx, id)

	var limitErr *windowfence.LimitExceededError
	if errors.As(err, &limitErr) {
		fmt.Println(limitErr.Key, limitErr.StatusCode, limitErr.Message)
	}

	// Output:
	// default:api-key-42:/orders 429 slow down
}
