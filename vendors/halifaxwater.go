package vendors

import (
	"context"
	"fmt"
	"time"

	"github.com/bill-scraper/config"
)

const (
	hwaterUsername      = `input[placeholder="Username"]`
	hwaterPassword      = `input[placeholder="Password"]`
	hwaterSignIn        = `#mxui_widget_DataView_2 > div > div > div.mx-name-container88 > button`
	hwaterDropdown      = `button.dropdown-toggle.dropdown-button`
	hwaterAccountOption = `a, button, li, span`
	hwaterAccountHeader = `p.mx-name-layout-snippetCall1-snippetCall2-text16`
	hwaterBillButton    = `button.billbtn`

	hwaterBillingText = "Billing & Payments"
	hwaterSwitchText  = "Switch"

	hwaterSwitchTimeout = 5 * time.Second
	hwaterHeaderTimeout = 30 * time.Second
)

func init() {
	Register("halifaxwater", newHalifaxWater)
}

// halifaxWater switches accounts through a header dropdown matched by the
// account's display label and opens bills in a new tab.
type halifaxWater struct {
	*base
}

func newHalifaxWater(profile *config.VendorProfile, d driver, opts Options) Session {
	return &halifaxWater{base: newBase(profile, d, opts)}
}

func (s *halifaxWater) Authenticate(ctx context.Context) error {
	if err := s.enter(StateAuthenticating, StateStart); err != nil {
		return authError(err)
	}
	if err := s.openLogin(ctx); err != nil {
		return s.failed(ctx, "error_login_page", authError(err))
	}

	timeout := s.opts.Browser.ElementTimeout
	steps := []func() error{
		func() error { return s.d.WaitVisible(ctx, hwaterUsername, timeout) },
		func() error { return s.typeHuman(ctx, hwaterUsername, s.profile.Credentials.Username) },
		func() error { return s.human.Pause(ctx) },
		func() error { return s.d.WaitVisible(ctx, hwaterPassword, timeout) },
		func() error { return s.typeHuman(ctx, hwaterPassword, s.profile.Credentials.Password) },
		func() error { return s.human.Pause(ctx) },
		func() error { return s.d.Click(ctx, hwaterSignIn) },
		func() error { return s.d.WaitText(ctx, "a", hwaterBillingText, s.opts.Browser.LoginTimeout) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return s.failed(ctx, "error_login_failed", authError(err))
		}
	}

	if err := s.enter(StateNavigating, StateAuthenticating); err != nil {
		return s.failed(ctx, "error_login_failed", authError(err))
	}
	s.d.Screenshot(ctx, "02_after_login")
	s.logger.Info("login successful")
	return nil
}

func (s *halifaxWater) SelectAccount(ctx context.Context, accountIndex int) error {
	if err := s.selectIndex(ctx, accountIndex); err != nil {
		return err
	}
	if s.profile.MaxAccounts() < 2 {
		return nil
	}

	meta, _ := s.profile.Account(accountIndex)
	label := meta.DisplayLabel
	if label == "" {
		return s.failed(ctx, "error_select_account", selectError(
			fmt.Errorf("account %d has no display label to switch by", accountIndex)))
	}
	s.logger.Info("switching account", "label", label)

	timeout := s.opts.Browser.ElementTimeout
	if err := s.d.WaitVisible(ctx, hwaterDropdown, timeout); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}
	if err := s.d.Click(ctx, hwaterDropdown); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}
	if err := s.d.ClickText(ctx, hwaterAccountOption, label); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}

	// the confirmation dialog only appears when the account actually changes
	if err := s.d.WaitText(ctx, "button", hwaterSwitchText, hwaterSwitchTimeout); err == nil {
		if err := s.d.ClickText(ctx, "button", hwaterSwitchText); err != nil {
			return s.failed(ctx, "error_select_account", selectError(err))
		}
	} else {
		s.logger.Info("no account switch confirmation needed")
	}

	if err := s.d.WaitVisible(ctx, hwaterAccountHeader, timeout); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}
	if err := s.d.WaitText(ctx, hwaterAccountHeader, label, hwaterHeaderTimeout); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}

	s.logger.Info("account switched", "label", label)
	return nil
}

func (s *halifaxWater) LocateBill(ctx context.Context) error {
	if err := s.enter(StateNavigating, StateNavigating); err != nil {
		return navigationError(err)
	}

	if err := s.d.WaitText(ctx, "a", hwaterBillingText, s.opts.Browser.LoginTimeout); err != nil {
		return s.failed(ctx, "error_navigation", navigationError(err))
	}
	if err := s.d.ClickText(ctx, "a", hwaterBillingText); err != nil {
		return s.failed(ctx, "error_navigation", navigationError(err))
	}
	s.logger.Info("opened billing and payments")

	if err := s.d.WaitVisible(ctx, hwaterBillButton, s.opts.Browser.NavigateTimeout); err != nil {
		return s.failed(ctx, "error_navigation", navigationError(err))
	}
	if err := s.enter(StateRetrieving, StateNavigating); err != nil {
		return s.failed(ctx, "error_navigation", navigationError(err))
	}
	s.d.Screenshot(ctx, fmt.Sprintf("04_billing_page_account_%d", s.accountIndex+1))
	return nil
}

func (s *halifaxWater) RetrieveBill(ctx context.Context) (*Bill, error) {
	if err := s.enter(StateRetrieving, StateRetrieving); err != nil {
		return nil, retrievalError(err)
	}
	label := fmt.Sprintf("error_account_%d", s.accountIndex+1)

	// the first bill button is the most recent invoice
	bill, err := s.fetchFromTab(ctx, func(ctx context.Context) error {
		return s.d.ClickNth(ctx, hwaterBillButton, 0)
	})
	if err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}

	if err := s.enter(StateDone, StateRetrieving); err != nil {
		return nil, retrievalError(err)
	}
	return bill, nil
}
