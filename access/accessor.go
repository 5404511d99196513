package access

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"

	"github.com/cartograph-io/cartograph/stats"
)

var permittedOperations = regexp.MustCompile(`^(Get|List|Describe)`)

// API error codes meaning the service is simply not available in this
// account or partition. Scans treat these as zero resources, not errors.
var notSubscribedCodes = map[string]struct{}{
	"NotSignedUp":                   {},
	"OptInRequired":                 {},
	"SubscriptionRequiredException": {},
	"InvalidAction":                 {},
}

// IsNotSubscribedError reports whether err indicates the service is not
// subscribed/enabled for the calling account.
func IsNotSubscribedError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	_, ok := notSubscribedCodes[apiErr.ErrorCode()]
	return ok
}

// Accessor binds an aws.Config to one (account, region) scope. Every API
// call made through its config is counted into Stats with the path
// account/region/service/operation, and mutating operations are rejected
// when the accessor is read-only.
//
// Stats is not synchronized: one scan task owns one accessor, and counters
// are merged single-threaded after the task completes.
type Accessor struct {
	AccountID string
	Region    string
	Stats     *stats.Counter

	cfg      aws.Config
	readOnly bool
}

// NewAccessor wraps cfg with read-only enforcement and call counting.
func NewAccessor(cfg aws.Config, accountID, region string) *Accessor {
	a := &Accessor{
		AccountID: accountID,
		Region:    region,
		Stats:     stats.NewCounter(),
		readOnly:  true,
	}
	cfg = cfg.Copy()
	if region != "" {
		cfg.Region = region
	}
	cfg.APIOptions = append(cfg.APIOptions, func(stack *middleware.Stack) error {
		return stack.Initialize.Add(a.guardMiddleware(), middleware.Before)
	})
	a.cfg = cfg
	return a
}

// Config returns the instrumented config. Service clients built from it
// inherit the guard middleware.
func (a *Accessor) Config() aws.Config {
	return a.cfg
}

func (a *Accessor) guardMiddleware() middleware.InitializeMiddleware {
	return middleware.InitializeMiddlewareFunc("cartographAccessGuard",
		func(ctx context.Context, in middleware.InitializeInput, next middleware.InitializeHandler) (
			middleware.InitializeOutput, middleware.Metadata, error,
		) {
			service := awsmiddleware.GetServiceID(ctx)
			operation := awsmiddleware.GetOperationName(ctx)
			if a.readOnly && !permittedOperations.MatchString(operation) {
				return middleware.InitializeOutput{}, middleware.Metadata{},
					fmt.Errorf("operation %s.%s is not a read-only call", service, operation)
			}
			a.Stats.Increment(a.AccountID, a.Region, service, operation)
			return next.HandleInitialize(ctx, in)
		})
}
