package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/topup-pins/internal/core/domain"
	"github.com/rl1809/topup-pins/internal/core/service"
)

// Messages travel as JSON over gRPC (content-subtype "json"), so the
// service needs no generated code.
const (
	CodecName          = "json"
	pinServiceName     = "topup.PinService"
	purchaseMethod     = "/" + pinServiceName + "/Purchase"
	availabilityMethod = "/" + pinServiceName + "/CheckAvailability"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type PurchaseRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	PackageID int32  `json:"package_id"`
	Quantity  int32  `json:"quantity"`
}

type PurchaseResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	Status        string   `json:"status,omitempty"`
	ErrorType     string   `json:"error_type,omitempty"`
	TransactionID string   `json:"transaction_id,omitempty"`
	ControlNumber string   `json:"control_number,omitempty"`
	Amount        string   `json:"amount,omitempty"`
	Pins          []string `json:"pins,omitempty"`
}

type AvailabilityRequest struct {
	PackageID int32 `json:"package_id"`
}

type AvailabilityResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	PackageID         int32  `json:"package_id"`
	LocalStock        int32  `json:"local_stock"`
	ExternalAvailable bool   `json:"external_available"`
	Available         bool   `json:"available"`
}

type PinServiceServer interface {
	Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error)
	CheckAvailability(ctx context.Context, req *AvailabilityRequest) (*AvailabilityResponse, error)
}

func RegisterPinServiceServer(s grpc.ServiceRegistrar, srv PinServiceServer) {
	s.RegisterService(&pinServiceDesc, srv)
}

var pinServiceDesc = grpc.ServiceDesc{
	ServiceName: pinServiceName,
	HandlerType: (*PinServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Purchase", Handler: purchaseHandler},
		{MethodName: "CheckAvailability", Handler: availabilityHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "topup/pin_service",
}

func purchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PurchaseRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PinServiceServer).Purchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: purchaseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PinServiceServer).Purchase(ctx, req.(*PurchaseRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func availabilityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AvailabilityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PinServiceServer).CheckAvailability(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: availabilityMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PinServiceServer).CheckAvailability(ctx, req.(*AvailabilityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// PinServiceClient calls topup.PinService with the JSON codec.
type PinServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPinServiceClient(cc grpc.ClientConnInterface) *PinServiceClient {
	return &PinServiceClient{cc: cc}
}

func (c *PinServiceClient) Purchase(ctx context.Context, in *PurchaseRequest, opts ...grpc.CallOption) (*PurchaseResponse, error) {
	out := new(PurchaseResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, purchaseMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PinServiceClient) CheckAvailability(ctx context.Context, in *AvailabilityRequest, opts ...grpc.CallOption) (*AvailabilityResponse, error) {
	out := new(AvailabilityResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, availabilityMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	purchases    PurchaseService
	availability AvailabilityChecker
	logger       *zap.Logger
}

func NewGRPCHandler(purchases PurchaseService, availability AvailabilityChecker, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{purchases: purchases, availability: availability, logger: logger}
}

// Purchase reports business failures in the response body; transport
// errors are reserved for malformed calls.
func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResponse, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	res, err := h.purchases.Purchase(ctx, service.PurchaseRequest{
		RequestID: requestID,
		UserID:    req.UserID,
		PackageID: int(req.PackageID),
		Quantity:  int(req.Quantity),
	})

	resp := &PurchaseResponse{}
	if res != nil {
		resp.Status = string(res.Allocation.Status)
		resp.ErrorType = string(res.Allocation.Kind)
		resp.Message = res.Allocation.Message
		resp.Pins = res.Allocation.Codes()
		if res.Record != nil {
			resp.TransactionID = res.Record.TransactionID
			resp.ControlNumber = res.Record.ControlNumber
			resp.Amount = res.Record.Amount.StringFixed(2)
		}
	}

	if err != nil {
		if res != nil && res.Allocation.Obtained() > 0 {
			h.logger.Error("purchase delivered without record", zap.String("request_id", requestID), zap.Error(err))
			resp.Success = true
			resp.Message = "purchase not recorded"
			return resp, nil
		}

		switch {
		case errors.Is(err, service.ErrDuplicateRequest):
			resp.Message = "duplicate request"
		case errors.Is(err, domain.ErrInsufficientBalance):
			resp.Message = "insufficient balance"
		case errors.Is(err, service.ErrInvalidRequest):
			resp.Message = "invalid request"
		case errors.Is(err, service.ErrAllocationFailed):
			if resp.Message == "" {
				resp.Message = "sold out"
			}
		default:
			h.logger.Error("grpc purchase failed", zap.String("request_id", requestID), zap.Error(err))
			resp.Message = "internal error"
		}
		return resp, nil
	}

	resp.Success = true
	if resp.Message == "" {
		resp.Message = "purchase completed"
	}
	return resp, nil
}

func (h *GRPCHandler) CheckAvailability(ctx context.Context, req *AvailabilityRequest) (*AvailabilityResponse, error) {
	av, err := h.availability.CheckCombinedAvailability(ctx, int(req.PackageID))
	if err != nil {
		resp := &AvailabilityResponse{PackageID: req.PackageID, Message: "internal error"}
		if errors.Is(err, domain.ErrPackageNotFound) {
			resp.Message = "package not found"
		} else {
			h.logger.Error("grpc availability check failed", zap.Int32("package_id", req.PackageID), zap.Error(err))
		}
		return resp, nil
	}

	return &AvailabilityResponse{
		Success:           true,
		PackageID:         int32(av.PackageID),
		LocalStock:        int32(av.LocalStock),
		ExternalAvailable: av.ExternalAvailable,
		Available:         av.Available,
	}, nil
}
