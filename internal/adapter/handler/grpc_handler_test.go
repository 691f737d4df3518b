package handler

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/bookstore/internal/core/domain"
)

func setupGRPC(t *testing.T) (*testEnv, *CartClient, *grpc.ClientConn) {
	t.Helper()

	env := setupTestEnv(t)
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(zerolog.Nop())))
	RegisterCartServiceServer(srv, NewGRPCHandler(env.carts, env.checkout))
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return env, NewCartClient(conn), conn
}

func TestGRPC_CartAndCheckout(t *testing.T) {
	env, client, _ := setupGRPC(t)
	env.addBook(t, "a", 10, "10.00")
	env.addBook(t, "b", 4, "5.00")
	ctx := context.Background()

	cart, err := client.AddLine(ctx, "u1", "a", 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	cart, err = client.AddLine(ctx, "u1", "b", 3)
	require.NoError(t, err)
	lineID := cart.Items[1].ID

	cart, err = client.SetLineQuantity(ctx, "u1", lineID, 1)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25").Equal(cart.Total))

	cart, err = client.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	result, err := client.PlaceOrder(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.OrderedItems, 2)

	a, _ := env.store.GetItem(ctx, "a")
	b, _ := env.store.GetItem(ctx, "b")
	assert.Equal(t, 8, a.Stock)
	assert.Equal(t, 3, b.Stock)

	result, err = client.PlaceOrder(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.ReasonEmptyCart, result.Reason)
}

func TestGRPC_RemoveAndClear(t *testing.T) {
	env, client, _ := setupGRPC(t)
	env.addBook(t, "a", 10, "10.00")
	ctx := context.Background()

	cart, err := client.AddLine(ctx, "u1", "a", 1)
	require.NoError(t, err)

	cart, err = client.RemoveLine(ctx, "u1", cart.Items[0].ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	_, err = client.AddLine(ctx, "u1", "a", 1)
	require.NoError(t, err)
	require.NoError(t, client.ClearCart(ctx, "u1"))

	cart, err = client.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestGRPC_StatusCodes(t *testing.T) {
	env, client, conn := setupGRPC(t)
	env.addBook(t, "a", 10, "10.00")
	ctx := context.Background()

	_, err := client.AddLine(ctx, "u1", "missing", 1)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.AddLine(ctx, "u1", "a", -2)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.SetLineQuantity(ctx, "u1", "no-such-line", 3)
	assert.Equal(t, codes.NotFound, status.Code(err))

	cart, err := client.AddLine(ctx, "u1", "a", 2)
	require.NoError(t, err)
	lineCtx := metadata.AppendToOutgoingContext(ctx, userIDMetadata, "u1")
	err = conn.Invoke(lineCtx, "/"+CartServiceName+"/SetLineQuantity",
		&SetLineQuantityRequest{LineID: cart.Items[0].ID}, &domain.Cart{},
		grpc.CallContentSubtype(JSONCodecName))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	cart, err = client.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)

	// no user-id metadata
	err = conn.Invoke(ctx, "/"+CartServiceName+"/GetCart", &GetCartRequest{}, &domain.Cart{},
		grpc.CallContentSubtype(JSONCodecName))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{domain.ErrInvalidArgument, codes.InvalidArgument},
		{domain.ErrNotFound, codes.NotFound},
		{domain.ErrInsufficientStock, codes.FailedPrecondition},
		{domain.ErrConflict, codes.Aborted},
		{domain.ErrUnavailable, codes.Unavailable},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		_, code, _ := classify(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}

	assert.Equal(t, "service temporarily unavailable", publicMessage(assert.AnError))
}
