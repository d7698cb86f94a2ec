package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassTransient},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"canceled", context.Canceled, ClassTransient},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), ClassTransient},
		{"status 429", errors.New("API returned unexpected status code: 429"), ClassRateLimited},
		{"rate limit text", errors.New("Rate limit reached for requests"), ClassRateLimited},
		{"too many requests", errors.New("too many requests"), ClassRateLimited},
		{"status 401", errors.New("API returned unexpected status code: 401"), ClassPermanent},
		{"status 403", errors.New("API returned unexpected status code: 403"), ClassPermanent},
		{"invalid key", errors.New("Incorrect API key provided: invalid api key"), ClassPermanent},
		{"status 400", errors.New("API returned unexpected status code: 400"), ClassPermanent},
		{"network", errors.New("connection refused"), ClassTransient},
		{"5xx", errors.New("API returned unexpected status code: 503"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
