package vendors

import (
	"context"

	"github.com/bill-scraper/config"
)

const (
	mhydroUsername = `#txtLogin`
	mhydroPassword = `#txtpwd`
	mhydroSignIn   = `#btnlogin`
	mhydroViewBill = `#ContentPlaceHolder1_BillingUserControl_spn_ViewBill > div > a`
)

func init() {
	Register("mhydro", newManitobaHydro)
}

// manitobaHydro is a single-account portal whose dashboard links straight
// to the current bill.
type manitobaHydro struct {
	*base
}

func newManitobaHydro(profile *config.VendorProfile, d driver, opts Options) Session {
	return &manitobaHydro{base: newBase(profile, d, opts)}
}

func (s *manitobaHydro) Authenticate(ctx context.Context) error {
	if err := s.enter(StateAuthenticating, StateStart); err != nil {
		return authError(err)
	}
	if err := s.openLogin(ctx); err != nil {
		return s.failed(ctx, "error_login_page", authError(err))
	}

	timeout := s.opts.Browser.ElementTimeout
	steps := []func() error{
		func() error { return s.d.WaitVisible(ctx, mhydroUsername, timeout) },
		func() error { return s.typeHuman(ctx, mhydroUsername, s.profile.Credentials.Username) },
		func() error { return s.human.Pause(ctx) },
		func() error { return s.d.WaitVisible(ctx, mhydroPassword, timeout) },
		func() error { return s.typeHuman(ctx, mhydroPassword, s.profile.Credentials.Password) },
		func() error { return s.human.Pause(ctx) },
		func() error { return s.d.Click(ctx, mhydroSignIn) },
		func() error { return s.d.WaitVisible(ctx, mhydroViewBill, s.opts.Browser.LoginTimeout) },
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

// SelectAccount only checks the index; the portal has one account
func (s *manitobaHydro) SelectAccount(ctx context.Context, accountIndex int) error {
	return s.selectIndex(ctx, accountIndex)
}

func (s *manitobaHydro) LocateBill(ctx context.Context) error {
	if err := s.enter(StateNavigating, StateNavigating); err != nil {
		return navigationError(err)
	}
	if err := s.d.WaitVisible(ctx, mhydroViewBill, s.opts.Browser.NavigateTimeout); err != nil {
		return s.failed(ctx, "error_navigation", navigationError(err))
	}
	if err := s.enter(StateRetrieving, StateNavigating); err != nil {
		return s.failed(ctx, "error_navigation", navigationError(err))
	}
	return nil
}

func (s *manitobaHydro) RetrieveBill(ctx context.Context) (*Bill, error) {
	if err := s.enter(StateRetrieving, StateRetrieving); err != nil {
		return nil, retrievalError(err)
	}

	bill, err := s.fetchFromTab(ctx, func(ctx context.Context) error {
		return s.d.Click(ctx, mhydroViewBill)
	})
	if err != nil {
		return nil, s.failed(ctx, "error_account_1", retrievalError(err))
	}

	if err := s.enter(StateDone, StateRetrieving); err != nil {
		return nil, retrievalError(err)
	}
	return bill, nil
}
