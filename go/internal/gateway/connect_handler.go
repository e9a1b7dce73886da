package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/relay/go/internal/pubsub"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// PublishProcedure is the Connect procedure for server-side publishes. The
// request is a google.protobuf.Struct with "channel", "name" and either
// "data" or "text" fields.
const PublishProcedure = "/relay.v1.RelayService/Publish"

// NewPublishRPCHandler returns the path and handler of the Connect publish
// endpoint. It shares defaults and semantics with POST /publish.
func NewPublishRPCHandler(h *PublishHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	return PublishProcedure, connect.NewUnaryHandler(
		PublishProcedure,
		func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[emptypb.Empty], error) {
			publishReq, err := publishRequestFromStruct(req.Msg)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			if err := h.validate.Struct(publishReq); err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}

			channel, name, payload, err := h.resolve(publishReq)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			if err := h.bus.AcceptExternalPublish(ctx, channel, name, payload); err != nil {
				if errors.Is(err, pubsub.ErrTransportUnavailable) {
					return nil, connect.NewError(connect.CodeUnavailable, err)
				}
				return nil, connect.NewError(connect.CodeInternal, err)
			}
			return connect.NewResponse(&emptypb.Empty{}), nil
		},
		opts...,
	)
}

func publishRequestFromStruct(s *structpb.Struct) (PublishRequest, error) {
	fields := s.GetFields()
	req := PublishRequest{
		Channel: fields["channel"].GetStringValue(),
		Name:    fields["name"].GetStringValue(),
		Text:    fields["text"].GetStringValue(),
	}
	if data, ok := fields["data"]; ok {
		raw, err := json.Marshal(data.AsInterface())
		if err != nil {
			return PublishRequest{}, err
		}
		req.Data = raw
	}
	return req, nil
}
