package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/JonMunkholm/laptiming/internal/store"
	"github.com/JonMunkholm/laptiming/internal/testsupport/tcpostgres"
	"github.com/JonMunkholm/laptiming/internal/timing"
)

func TestPostgresContract(t *testing.T) {
	pool := tcpostgres.SetupTestDb(t)
	testContract(t, func(t *testing.T) store.Store {
		tcpostgres.ClearAllTables(t, pool)
		return store.NewPostgres(pool)
	})
}

func TestPostgres_LapWithoutResultViolatesForeignKey(t *testing.T) {
	pool := tcpostgres.SetupTestDb(t)
	s := store.NewPostgres(pool)
	ctx := context.Background()
	sessionID, carID, _ := seedSession(t, s, "IMSA", 2024)

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertLaps(ctx, []timing.Lap{{SessionID: sessionID, DriverID: 999999, CarEntryID: carID, LapNumber: 1, LapTimeMillis: 60000}})
		return err
	})
	assert.Assert(t, errors.Is(err, timing.ErrReferentialPrecondition), "got %v", err)
}

func TestPostgres_UpdateUnknownJob(t *testing.T) {
	pool := tcpostgres.SetupTestDb(t)
	s := store.NewPostgres(pool)

	job := newJob(time.Now().UTC())
	err := s.UpdateJob(context.Background(), job, timing.JobPending)
	assert.Assert(t, errors.Is(err, timing.ErrNotFound), "got %v", err)
}
