package aws

import (
	"fmt"
	"strings"

	"github.com/cartograph-io/cartograph/types"
)

// UnscannedAccountTypeName labels the placeholder resource emitted for an
// account whose scan failed outright. The real account resource is allowed
// to replace it during deduplication, so a later successful attempt wins.
const UnscannedAccountTypeName = "aws:unscanned-account"

// AccountARN builds the synthetic arn shared by the account resource and
// its unscanned placeholder. Sharing the id is what lets deduplication
// resolve the two against each other.
func AccountARN(accountID string) string {
	return fmt.Sprintf("arn:aws::::account/%s", accountID)
}

// NewUnscannedAccountResource builds the placeholder resource recording why
// an account could not be scanned.
func NewUnscannedAccountResource(accountID string, errs []string) types.Resource {
	return types.Resource{
		ID:   AccountARN(accountID),
		Type: UnscannedAccountTypeName,
		Links: types.LinkCollection{
			SimpleLinks: []types.SimpleLink{
				{Pred: "account_id", Obj: accountID},
				{Pred: "error", Obj: strings.Join(errs, "\n")},
			},
		},
	}
}
