package source

import (
	"context"
	"errors"

	"github.com/mashable/elasticsearch-river-mongodb/river"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Server error codes that clear up once the replica set settles
var transientCodes = []int{
	43,    // CursorNotFound
	91,    // ShutdownInProgress
	136,   // CappedPositionLost
	189,   // PrimarySteppedDown
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
}

// classify wraps driver errors with a river failure kind
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return river.Transient(err)
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range transientCodes {
			if se.HasErrorCode(code) {
				return river.Transient(err)
			}
		}
	}
	return river.Fatal(err)
}
