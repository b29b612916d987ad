package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asurechain/ledger/internal/crypto"
	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/internal/storage"
	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

// Info summarizes the ledger state
type Info struct {
	Height        int    `json:"height"`
	Difficulty    uint32 `json:"difficulty"`
	Tip           string `json:"tip"`
	Checkpoint    string `json:"checkpoint"`
	IssuerAddress string `json:"issuer_address"`
}

// IntegrityReport is the result of a full chain verification.
// Index and Kind are set only when OK is false.
type IntegrityReport struct {
	OK     bool   `json:"ok"`
	Height int    `json:"height"`
	Index  uint64 `json:"index,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// ArtifactList carries every issued record
type ArtifactList struct {
	Artifacts []*types.Artifact `json:"artifacts"`
}

// toStruct converts v to a Struct through its JSON encoding
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	return structpb.NewStruct(m)
}

// fromStruct decodes a Struct into v through its JSON encoding
func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}

	raw, err := protojson.Marshal(s)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, v)
}

// statusError maps domain errors to gRPC status codes
func statusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, verify.ErrEmptyQuery),
		errors.Is(err, verify.ErrInvalidRequest),
		errors.Is(err, crypto.ErrInvalidPayload),
		errors.Is(err, ledger.ErrInvalidDifficulty):
		code = codes.InvalidArgument
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, ledger.ErrBlockNotFound):
		code = codes.NotFound
	case errors.Is(err, storage.ErrDuplicate):
		code = codes.AlreadyExists
	case errors.Is(err, ledger.ErrProofOfWorkExhausted):
		code = codes.ResourceExhausted
	case errors.Is(err, ledger.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}

	return status.Error(code, err.Error())
}

func encodeError(err error) error {
	return status.Error(codes.Internal, fmt.Sprintf("failed to encode response: %v", err))
}
