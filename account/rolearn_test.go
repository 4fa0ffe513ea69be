package account

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoleArnForAccount(t *testing.T) {
	arn, err := RoleArnForAccount("", "123456789012")
	require.NoError(t, err)
	require.Equal(t, "arn:aws:iam::123456789012:role/ripcord-failover-123456789012", arn)

	arn, err = RoleArnForAccount("dr-role-", "999988887777")
	require.NoError(t, err)
	require.Equal(t, "arn:aws:iam::999988887777:role/dr-role-999988887777", arn)
}

func TestRoleArnForAccountRejectsBadIDs(t *testing.T) {
	for _, id := range []string{"", "12345", "12345678901a", "1234567890123"} {
		_, err := RoleArnForAccount("", id)
		require.Error(t, err, "account id %q", id)
	}
}

func TestRoleArnRoundTrip(t *testing.T) {
	for _, id := range []string{"123456789012", "000000000001", "999999999999"} {
		arn, err := RoleArnForAccount("", id)
		require.NoError(t, err)
		got, err := AccountFromRoleArn(arn)
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestAccountFromRoleArnRejectsMalformed(t *testing.T) {
	for _, arn := range []string{
		"",
		"not-an-arn",
		"arn:aws:s3:::bucket",
		"arn:aws:iam::12345:role/short-account",
	} {
		_, err := AccountFromRoleArn(arn)
		require.Error(t, err, "arn %q", arn)
	}
}
