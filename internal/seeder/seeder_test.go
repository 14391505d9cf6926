package seeder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	repo "github.com/Additional-Code/procura/internal/repository/order"
	"github.com/Additional-Code/procura/internal/seeder"
	"github.com/Additional-Code/procura/internal/testutil"
)

func TestOrdersIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t)
	s := seeder.New(stack.Conns, stack.Orders, testutil.Logger(t))

	require.NoError(t, s.Orders(ctx))
	require.NoError(t, s.Orders(ctx))

	orders, err := stack.Orders.List(ctx, repo.ListFilter{})
	require.NoError(t, err)
	require.Len(t, orders, len(seeder.Samples()))
	for _, o := range orders {
		assert.Equal(t, int64(1), o.RowVersion)
	}
	assert.Len(t, stack.Publisher.Messages(), len(seeder.Samples()))
}
