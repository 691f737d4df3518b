package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// CartClient calls CartService over a connection using the JSON codec.
type CartClient struct {
	conn grpc.ClientConnInterface
}

func NewCartClient(conn grpc.ClientConnInterface) *CartClient {
	return &CartClient{conn: conn}
}

func (c *CartClient) invoke(ctx context.Context, userID, method string, in, out any) error {
	ctx = metadata.AppendToOutgoingContext(ctx, userIDMetadata, userID)
	return c.conn.Invoke(ctx, "/"+CartServiceName+"/"+method, in, out, grpc.CallContentSubtype(JSONCodecName))
}

func (c *CartClient) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, userID, "GetCart", &GetCartRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartClient) AddLine(ctx context.Context, userID, bookID string, quantity int) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, userID, "AddLine", &AddLineRequest{BookID: bookID, Quantity: quantity}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartClient) SetLineQuantity(ctx context.Context, userID, lineID string, quantity int) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, userID, "SetLineQuantity", &SetLineQuantityRequest{LineID: lineID, Quantity: &quantity}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartClient) RemoveLine(ctx context.Context, userID, lineID string) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, userID, "RemoveLine", &RemoveLineRequest{LineID: lineID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CartClient) ClearCart(ctx context.Context, userID string) error {
	return c.invoke(ctx, userID, "ClearCart", &ClearCartRequest{}, &ClearCartResponse{})
}

func (c *CartClient) PlaceOrder(ctx context.Context, userID string) (*domain.OrderResult, error) {
	out := new(domain.OrderResult)
	if err := c.invoke(ctx, userID, "PlaceOrder", &PlaceOrderRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
