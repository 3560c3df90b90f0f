//go:build integration

package repository_test

import (
	"testing"

	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/internal/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)

	runStoreContract(t, func(t *testing.T) repository.Store {
		_, err := pg.Pool.Exec(ctx,
			`TRUNCATE delivery_events, challenges, sessions, identities`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return repository.NewPostgresStore(pg.Pool)
	})
}
