package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/settlement-backend/internal/domain/entity"
	"github.com/ignatzorin/settlement-backend/internal/domain/valueobject"
	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func user(role valueobject.Role, active bool, created time.Time, lastLogin *time.Time, dept string) entity.DirectoryUser {
	u := entity.DirectoryUser{ID: uuid.New(), Role: role, IsActive: active, CreatedAt: created, LastLoginAt: lastLogin}
	if dept != "" {
		u.Department = &dept
	}
	return u
}

func TestResolveRecipients_ByType(t *testing.T) {
	old := now.AddDate(0, -6, 0)
	recent := now.AddDate(0, 0, -2)
	stale := now.AddDate(0, 0, -45)

	provider := user(valueobject.RoleProvider, true, old, &recent, "")
	customer := user(valueobject.RoleCustomer, true, old, &stale, "")
	neverLogged := user(valueobject.RoleCustomer, true, old, nil, "")
	newcomer := user(valueobject.RoleCustomer, true, recent, nil, "")
	blocked := user(valueobject.RoleProvider, false, old, &stale, "")
	users := []entity.DirectoryUser{provider, customer, neverLogged, newcomer, blocked}

	tests := []struct {
		recipients valueobject.RecipientType
		want       []uuid.UUID
	}{
		{valueobject.RecipientTypeAll, []uuid.UUID{provider.ID, customer.ID, neverLogged.ID, newcomer.ID}},
		{valueobject.RecipientTypeProviders, []uuid.UUID{provider.ID}},
		{valueobject.RecipientTypeCustomers, []uuid.UUID{customer.ID, neverLogged.ID, newcomer.ID}},
		{valueobject.RecipientTypeInactive, []uuid.UUID{customer.ID, neverLogged.ID}},
	}

	for _, tt := range tests {
		t.Run(string(tt.recipients), func(t *testing.T) {
			c := &entity.Campaign{RecipientType: tt.recipients}
			got, err := ResolveRecipients(c, users, now, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRecipients_CustomList(t *testing.T) {
	a := user(valueobject.RoleCustomer, true, now, nil, "")
	b := user(valueobject.RoleProvider, true, now, nil, "")
	blocked := user(valueobject.RoleProvider, false, now, nil, "")

	c := &entity.Campaign{
		RecipientType:    valueobject.RecipientTypeCustom,
		CustomRecipients: pq.StringArray{b.ID.String(), uuid.NewString(), a.ID.String(), b.ID.String(), blocked.ID.String()},
	}

	got, err := ResolveRecipients(c, []entity.DirectoryUser{a, b, blocked}, now, 0)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, got)

	c.CustomRecipients = pq.StringArray{"not-a-uuid"}
	_, err = ResolveRecipients(c, nil, now, 0)
	assert.True(t, apperror.IsValidation(err))
}

func TestResolveRecipients_CustomFilter(t *testing.T) {
	joined := now.AddDate(0, -1, 0)
	support := user(valueobject.RoleProvider, true, joined, nil, "Support")
	sales := user(valueobject.RoleProvider, true, joined, nil, "sales")
	early := user(valueobject.RoleProvider, true, now.AddDate(-1, 0, 0), nil, "support")
	customer := user(valueobject.RoleCustomer, true, joined, nil, "support")

	after := now.AddDate(0, -2, 0)
	c := &entity.Campaign{
		RecipientType: valueobject.RecipientTypeCustom,
		CustomFilter: entity.RecipientFilter{
			Roles:       []valueobject.Role{valueobject.RoleProvider},
			Departments: []string{" SUPPORT "},
			JoinedAfter: &after,
		},
	}

	got, err := ResolveRecipients(c, []entity.DirectoryUser{support, sales, early, customer}, now, 0)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{support.ID}, got)
}

func TestResolveRecipients_EmptyIsNotError(t *testing.T) {
	c := &entity.Campaign{RecipientType: valueobject.RecipientTypeProviders}

	got, err := ResolveRecipients(c, nil, now, 0)

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPool_Run_IsolatesFailures(t *testing.T) {
	pool := NewPool(2, time.Second)
	boom := errors.New("smtp down")

	results := pool.Run(context.Background(), []Task{
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { panic("nil map") },
		func(context.Context) error { return nil },
	})

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "panic")
	assert.NoError(t, results[3].Err)
}

func TestPool_Run_TaskTimeout(t *testing.T) {
	pool := NewPool(1, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	results := pool.Run(context.Background(), []Task{
		func(context.Context) error {
			<-release
			return nil
		},
		func(context.Context) error { return nil },
	})

	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
	assert.NoError(t, results[1].Err, "a hung task does not block the rest")
}

func TestPool_Stream_ReportsEachResultImmediately(t *testing.T) {
	pool := NewPool(2, time.Second)
	release := make(chan struct{})
	fastDone := make(chan Result, 1)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		pool.Stream(context.Background(), []Task{
			func(context.Context) error {
				<-release
				return nil
			},
			func(context.Context) error { return nil },
		}, func(res Result) {
			if res.Index == 1 {
				fastDone <- res
			}
		})
	}()

	select {
	case res := <-fastDone:
		assert.NoError(t, res.Err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("fast task result waited for the slow one")
	}

	close(release)
	<-finished
}

func TestPool_Run_LimitsConcurrency(t *testing.T) {
	pool := NewPool(3, time.Second)
	var running, peak atomic.Int32

	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}
	}

	pool.Run(context.Background(), tasks)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(0, 0)
	assert.Equal(t, DefaultWorkers, pool.Workers())
	assert.Equal(t, DefaultTaskTimeout, pool.TaskTimeout())
}
