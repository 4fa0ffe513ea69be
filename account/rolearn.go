package account

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ripcord-io/ripcord"
)

// DefaultRolePrefix is the naming-convention prefix for orchestrator
// failover roles registered in target accounts.
const DefaultRolePrefix = "ripcord-failover-"

var accountIDPattern = regexp.MustCompile(`^\d{12}$`)

// ValidAccountID reports whether id is a well-formed 12-digit account id.
func ValidAccountID(id string) bool {
	return accountIDPattern.MatchString(id)
}

// RoleArnForAccount deterministically constructs the role identifier for a
// target account from the fixed naming convention. The same account id always
// yields the same identifier.
func RoleArnForAccount(rolePrefix, accountID string) (string, error) {
	if !ValidAccountID(accountID) {
		return "", ripcord.NewValidationError("account id %q is not a 12-digit account id", accountID)
	}
	if rolePrefix == "" {
		rolePrefix = DefaultRolePrefix
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/%s%s", accountID, rolePrefix, accountID), nil
}

// AccountFromRoleArn extracts the account id from a role identifier built by
// RoleArnForAccount. The two functions round-trip for all valid account ids.
func AccountFromRoleArn(roleArn string) (string, error) {
	parts := strings.Split(roleArn, ":")
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "iam" {
		return "", ripcord.NewValidationError("malformed role arn %q", roleArn)
	}
	accountID := parts[4]
	if !ValidAccountID(accountID) {
		return "", ripcord.NewValidationError("role arn %q carries invalid account id %q", roleArn, accountID)
	}
	return accountID, nil
}
