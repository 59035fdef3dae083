package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCheckInvariant(t *testing.T) {
	acc := &WalletAccount{
		ID:               uuid.New(),
		AccountType:      AccountTypeUserWallet,
		Balance:          decimal.NewFromInt(100),
		AvailableBalance: decimal.NewFromInt(70),
		HeldBalance:      decimal.NewFromInt(30),
	}
	assert.NoError(t, acc.CheckInvariant())

	acc.HeldBalance = decimal.NewFromInt(31)
	assert.Error(t, acc.CheckInvariant())

	acc.Balance = decimal.NewFromInt(-1)
	acc.AvailableBalance = decimal.NewFromInt(-1)
	acc.HeldBalance = decimal.Zero
	assert.Error(t, acc.CheckInvariant())

	acc.AccountType = AccountTypeUbiFloat
	assert.NoError(t, acc.CheckInvariant())
}

func TestSystemOwnerIDStable(t *testing.T) {
	assert.Equal(t, SystemOwnerID("float"), SystemOwnerID("float"))
	assert.NotEqual(t, SystemOwnerID("float"), SystemOwnerID("MPESA"))
}

func TestProviderDisplayName(t *testing.T) {
	assert.Equal(t, "Orange Money", ProviderOrangeMoney.DisplayName())
	assert.Equal(t, "ACME", Provider("ACME").DisplayName())
	assert.Nil(t, ProviderPtr(""))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
}

func TestMetadataScan(t *testing.T) {
	var m Metadata
	assert.NoError(t, m.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, float64(1), m["a"])
	assert.NoError(t, m.Scan(nil))
	assert.Nil(t, m)
}

func TestScaleThreshold(t *testing.T) {
	base := decimal.NewFromInt(1000)
	assert.True(t, ScaleThreshold(base, KES).Equal(base))
	assert.True(t, ScaleThreshold(base, UGX).Equal(decimal.NewFromInt(30000)))
	assert.True(t, ScaleThreshold(base, USD).Equal(decimal.NewFromInt(8)))
	assert.True(t, ScaleThreshold(base, Currency("XYZ")).Equal(base))

	assert.True(t, ToReference(decimal.NewFromInt(30000), UGX).Equal(base))
}
