package firestore

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/shopnest/api/internal/platform/firestore"
)

func notFoundError(op, msg string) error {
	return pfirestore.WrapError(op, status.Error(codes.NotFound, msg))
}
