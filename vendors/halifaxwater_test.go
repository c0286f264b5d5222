package vendors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bill-scraper/config"
)

var hwaterAccounts = []config.AccountMetadata{
	{VendorCode: "HALI01", AccountNumber: "6893", GLAccount: "68100-YHZ-11-412", DisplayLabel: "270 GOUDEY DR"},
	{VendorCode: "HALI01", AccountNumber: "2291", GLAccount: "68100-YHZ-11-412", DisplayLabel: "438 CYGNET DR"},
}

func hwaterDriver() *fakeDriver {
	d := newFakeDriver()
	for _, sel := range []string{hwaterUsername, hwaterPassword, hwaterDropdown, hwaterAccountHeader, hwaterBillButton} {
		d.visible[sel] = true
	}
	d.texts["a|"+hwaterBillingText] = true
	d.texts[hwaterAccountHeader+"|438 CYGNET DR"] = true
	d.tabURL = "https://portal.example.com/bill/123.pdf"
	d.fetchStatus = 200
	d.fetchBody = pdfBytes
	return d
}

func TestHalifaxWater_HappyPath(t *testing.T) {
	d := hwaterDriver()
	s := newHalifaxWater(testProfile("halifaxwater", hwaterAccounts...), d, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Authenticate(ctx))
	require.NoError(t, s.SelectAccount(ctx, 1))
	assert.Equal(t, 1, d.count("clicktext "+hwaterAccountOption+"|438 CYGNET DR"))
	assert.Equal(t, 0, d.count("clicktext button|Switch"), "no confirmation dialog shown")

	require.NoError(t, s.LocateBill(ctx))
	assert.True(t, d.hasScreenshot("04_billing_page_account_2"), "labels are 1-based")

	bill, err := s.RetrieveBill(ctx)
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, bill.Data)
	assert.Equal(t, d.tabURL, bill.SourceURL)
	assert.Empty(t, bill.SavePath)
	assert.Equal(t, 1, d.count("clicknth "+hwaterBillButton+" 0"))
	assert.Equal(t, StateDone, s.State())
}

func TestHalifaxWater_ConfirmsSwitch(t *testing.T) {
	d := hwaterDriver()
	d.texts["button|"+hwaterSwitchText] = true
	s := newHalifaxWater(testProfile("halifaxwater", hwaterAccounts...), d, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Authenticate(ctx))
	require.NoError(t, s.SelectAccount(ctx, 1))
	assert.Equal(t, 1, d.count("clicktext button|Switch"))
}

func TestHalifaxWater_SwitchNotReflected(t *testing.T) {
	d := hwaterDriver()
	s := newHalifaxWater(testProfile("halifaxwater", hwaterAccounts...), d, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Authenticate(ctx))
	// header never shows "270 GOUDEY DR"
	err := s.SelectAccount(ctx, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigation)
	assert.Equal(t, StageSelect, StageOf(err, StageUnexpected))
	assert.True(t, d.hasScreenshot("error_select_account"))
}

func TestHalifaxWater_SingleAccountSkipsSwitch(t *testing.T) {
	d := hwaterDriver()
	s := newHalifaxWater(testProfile("halifaxwater", hwaterAccounts[0]), d, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Authenticate(ctx))
	require.NoError(t, s.SelectAccount(ctx, 0))
	assert.Equal(t, 0, d.count("click "+hwaterDropdown))
}

func TestHalifaxWater_FetchNotOK(t *testing.T) {
	d := hwaterDriver()
	d.fetchStatus = 404
	s := newHalifaxWater(testProfile("halifaxwater", hwaterAccounts...), d, testOptions())
	ctx := context.Background()

	require.NoError(t, s.Authenticate(ctx))
	require.NoError(t, s.SelectAccount(ctx, 1))
	require.NoError(t, s.LocateBill(ctx))

	_, err := s.RetrieveBill(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.True(t, d.hasScreenshot("error_account_2"))
}

func TestHalifaxWater_LoginNeverReady(t *testing.T) {
	d := hwaterDriver()
	delete(d.texts, "a|"+hwaterBillingText)
	s := newHalifaxWater(testProfile("halifaxwater", hwaterAccounts...), d, testOptions())

	err := s.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, StateFailed, s.State())
	assert.True(t, d.hasScreenshot("error_login_failed"))
}
