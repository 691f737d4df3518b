package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/core/service"
)

const (
	CartServiceName = "bookstore.cart.v1.CartService"
	JSONCodecName   = "json"
	userIDMetadata  = "user-id"
)

// jsonCodec lets the cart service speak gRPC without generated protobuf
// types. Clients select it with grpc.CallContentSubtype(JSONCodecName).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type GetCartRequest struct{}

type AddLineRequest struct {
	BookID   string `json:"bookId"`
	Quantity int    `json:"quantity"`
}

// SetLineQuantityRequest carries an absolute quantity; zero removes the line
// and an absent quantity is rejected.
type SetLineQuantityRequest struct {
	LineID   string `json:"lineId"`
	Quantity *int   `json:"quantity"`
}

type RemoveLineRequest struct {
	LineID string `json:"lineId"`
}

type ClearCartRequest struct{}

type ClearCartResponse struct{}

type PlaceOrderRequest struct{}

// CartServiceServer is the gRPC surface of the cart and checkout services.
type CartServiceServer interface {
	GetCart(context.Context, *GetCartRequest) (*domain.Cart, error)
	AddLine(context.Context, *AddLineRequest) (*domain.Cart, error)
	SetLineQuantity(context.Context, *SetLineQuantityRequest) (*domain.Cart, error)
	RemoveLine(context.Context, *RemoveLineRequest) (*domain.Cart, error)
	ClearCart(context.Context, *ClearCartRequest) (*ClearCartResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*domain.OrderResult, error)
}

var CartServiceDesc = grpc.ServiceDesc{
	ServiceName: CartServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetCart", CartServiceServer.GetCart),
		unary("AddLine", CartServiceServer.AddLine),
		unary("SetLineQuantity", CartServiceServer.SetLineQuantity),
		unary("RemoveLine", CartServiceServer.RemoveLine),
		unary("ClearCart", CartServiceServer.ClearCart),
		unary("PlaceOrder", CartServiceServer.PlaceOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bookstore/cart/v1",
}

func RegisterCartServiceServer(s grpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(CartServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(CartServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + CartServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

type GRPCHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
}

func NewGRPCHandler(carts *service.CartService, checkout *service.CheckoutService) *GRPCHandler {
	return &GRPCHandler{carts: carts, checkout: checkout}
}

func (h *GRPCHandler) GetCart(ctx context.Context, _ *GetCartRequest) (*domain.Cart, error) {
	userID, err := incomingUserID(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return cart, nil
}

func (h *GRPCHandler) AddLine(ctx context.Context, req *AddLineRequest) (*domain.Cart, error) {
	userID, err := incomingUserID(ctx)
	if err != nil {
		return nil, err
	}
	if req.BookID == "" {
		return nil, status.Error(codes.InvalidArgument, "bookId is required")
	}
	cart, err := h.carts.AddLine(ctx, userID, req.BookID, req.Quantity)
	if err != nil {
		return nil, toStatus(err)
	}
	return cart, nil
}

func (h *GRPCHandler) SetLineQuantity(ctx context.Context, req *SetLineQuantityRequest) (*domain.Cart, error) {
	userID, err := incomingUserID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Quantity == nil {
		return nil, status.Error(codes.InvalidArgument, "quantity is required")
	}
	cart, err := h.carts.SetLineQuantity(ctx, userID, req.LineID, *req.Quantity)
	if err != nil {
		return nil, toStatus(err)
	}
	return cart, nil
}

func (h *GRPCHandler) RemoveLine(ctx context.Context, req *RemoveLineRequest) (*domain.Cart, error) {
	userID, err := incomingUserID(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.RemoveLine(ctx, userID, req.LineID)
	if err != nil {
		return nil, toStatus(err)
	}
	return cart, nil
}

func (h *GRPCHandler) ClearCart(ctx context.Context, _ *ClearCartRequest) (*ClearCartResponse, error) {
	userID, err := incomingUserID(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.carts.Clear(ctx, userID); err != nil {
		return nil, toStatus(err)
	}
	return &ClearCartResponse{}, nil
}

// PlaceOrder reports business failures in the result; only storage failures
// become a status error.
func (h *GRPCHandler) PlaceOrder(ctx context.Context, _ *PlaceOrderRequest) (*domain.OrderResult, error) {
	userID, err := incomingUserID(ctx)
	if err != nil {
		return nil, err
	}
	result, err := h.checkout.PlaceOrder(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return result, nil
}

func incomingUserID(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(userIDMetadata); len(ids) > 0 && ids[0] != "" {
		return ids[0], nil
	}
	return "", status.Error(codes.Unauthenticated, "missing user-id metadata")
}

func toStatus(err error) error {
	_, code, _ := classify(err)
	return status.Error(code, publicMessage(err))
}

// UnaryLogger logs every call with its status code.
func UnaryLogger(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With().Str("component", "grpc").Logger()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		event := logger.Debug()
		if code == codes.Unavailable || code == codes.Internal {
			event = logger.Error().Err(err)
		}
		event.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}
