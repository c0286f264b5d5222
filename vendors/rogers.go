package vendors

import (
	"context"
	"errors"
	"fmt"

	"github.com/bill-scraper/config"
)

const (
	rogersUsername      = `#ds-form-input-id-0`
	rogersContinue      = `body > app-root > div > div > div > div > div > div > div > div > ng-component > form > div.text-center.signInButton > button`
	rogersPassword      = `#input_password`
	rogersLogin         = `#LoginForm > div.text-center.signInButton > button > span`
	rogersAccountModal  = `#ds-modal-container-0 > rss-account-selector`
	rogersAccountButton = `#ds-modal-container-0 > rss-account-selector > ds-modal > div.ds-modal__wrapper.d-flex.flex-column.h-100.px-sm-40.px-24 > div.ds-modal__body.px-24.px-sm-40.pb-40 > div > div > a`
	rogersViewBill      = `a[aria-label*="View bill for account number"]`
	rogersSavePDF       = `#mainContent > rss-view-bill > div > div.col-xs-12.ng-star-inserted > rss-brite-bill > rss-bill-control-panel > div.col-xs-12.col-md-8 > rss-save-bill > div > div.d-sm-flex.flex-sm-row.mt-8.justify-content-end.saveBillContent > button:nth-child(2)`
	rogersDownload      = `#ds-modal-container-1 > rss-save-pdf-modal > ds-modal > div.ds-modal__wrapper.d-flex.flex-column.h-100.px-sm-40.px-24.pt-24.ds-border-top > div.ds-modal__fixedContent.mt-24.pt-24.ds-border-top > div > div.ds-modal__footer.mb-24.mb-sm-40 > div > button.ds-button.ds-pointer.text-center.mw-100.d-inline-block.-primary.-large.text-no-decoration`
	rogersTryAgain      = `body > dam-root > div > div > div > dam-signin-callback > dam-app-tile > div > div > div > div > div > dam-shared-eas-error-page > div > div:nth-child(2) > button`
)

func init() {
	Register("rogers", newRogers)
}

// rogers signs in through a two-step form guarded by the rc01 bot check,
// picks the account from a modal and downloads the bill as a file.
type rogers struct {
	*base
}

func newRogers(profile *config.VendorProfile, d driver, opts Options) Session {
	return &rogers{base: newBase(profile, d, opts)}
}

func (s *rogers) Authenticate(ctx context.Context) error {
	if err := s.enter(StateAuthenticating, StateStart); err != nil {
		return authError(err)
	}
	s.logger.Info("performing login", "username", s.profile.Credentials.Username)

	if err := s.openLogin(ctx); err != nil {
		return s.failed(ctx, "error_login_page", authError(err))
	}

	attempts := max(s.opts.Recovery.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.logger.Info("retrying login", "attempt", attempt, "of", attempts)
		}

		err := s.attemptLogin(ctx)
		if err == nil {
			if err := s.enter(StateNavigating, StateAuthenticating); err != nil {
				return s.failed(ctx, "error_login_failed", authError(err))
			}
			s.d.Screenshot(ctx, "02_after_login")
			s.logger.Info("login successful")
			return nil
		}
		if ctx.Err() != nil {
			return s.failed(ctx, "error_login_cancelled", authError(ctx.Err()))
		}
		lastErr = err

		if !errors.Is(err, ErrBlocked) {
			if attempt == attempts {
				break
			}
			s.logger.Warn("login attempt failed, retrying", "attempt", attempt, "error", err)
			if err := s.openLogin(ctx); err != nil {
				return s.failed(ctx, "error_login_page", authError(err))
			}
			continue
		}

		if attempt == attempts {
			s.logger.Error("maximum login attempts reached, rc01 persists", "attempts", attempts)
			return s.failed(ctx, "error_max_login_attempts_rc01",
				authError(fmt.Errorf("%w: still blocked after %d attempts", ErrBlocked, attempts)))
		}

		if err := s.enter(StateErrorRecovering, StateAuthenticating); err != nil {
			return s.failed(ctx, "error_login_failed", authError(err))
		}
		if err := s.recoverBlock(ctx, rogersTryAgain); err != nil {
			return s.failed(ctx, "error_recovery_failed", authError(fmt.Errorf("%w: %v", ErrBlocked, err)))
		}
		if err := s.cooldown(ctx); err != nil {
			return s.failed(ctx, "error_login_cancelled", authError(err))
		}
		if err := s.enter(StateAuthenticating, StateErrorRecovering); err != nil {
			return s.failed(ctx, "error_login_failed", authError(err))
		}
	}

	return s.failed(ctx, "error_login_failed", authError(lastErr))
}

// attemptLogin runs the username, continue, password, sign-in sequence once.
// It returns an error wrapping ErrBlocked when the rc01 page appears.
func (s *rogers) attemptLogin(ctx context.Context) error {
	timeout := s.opts.Browser.ElementTimeout

	if err := s.d.WaitVisible(ctx, rogersUsername, timeout); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, rogersUsername, s.profile.Credentials.Username); err != nil {
		return err
	}
	if err := s.human.Pause(ctx); err != nil {
		return err
	}

	if err := s.d.Click(ctx, rogersContinue); err != nil {
		return err
	}
	if err := s.human.Pause(ctx); err != nil {
		return err
	}

	// rc01 shows up between the username and password steps
	if s.isBlocked(ctx) {
		return fmt.Errorf("%w: after continue", ErrBlocked)
	}

	if err := s.d.WaitVisible(ctx, rogersPassword, timeout); err != nil {
		return err
	}
	if err := s.typeHuman(ctx, rogersPassword, s.profile.Credentials.Password); err != nil {
		return err
	}
	if err := s.d.Click(ctx, rogersLogin); err != nil {
		return err
	}
	s.logger.Info("login button clicked")

	if err := s.d.WaitVisible(ctx, rogersAccountModal, s.opts.Browser.LoginTimeout); err != nil {
		if s.isBlocked(ctx) {
			return fmt.Errorf("%w: after sign in", ErrBlocked)
		}
		return err
	}
	return nil
}

func (s *rogers) SelectAccount(ctx context.Context, accountIndex int) error {
	if err := s.selectIndex(ctx, accountIndex); err != nil {
		return err
	}
	s.logger.Info("selecting account", "account", accountIndex+1)

	if err := s.d.ClickNth(ctx, rogersAccountButton, accountIndex); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}

	// the view bill link only renders once the account page has loaded
	if err := s.d.WaitVisible(ctx, rogersViewBill, s.opts.Browser.NavigateTimeout); err != nil {
		return s.failed(ctx, "error_select_account", selectError(err))
	}
	s.d.Screenshot(ctx, fmt.Sprintf("03_account_%d", accountIndex+1))
	return nil
}

func (s *rogers) LocateBill(ctx context.Context) error {
	if err := s.enter(StateNavigating, StateNavigating); err != nil {
		return navigationError(err)
	}
	label := fmt.Sprintf("error_navigation_%d", s.accountIndex+1)

	if err := s.human.Pause(ctx); err != nil {
		return s.failed(ctx, label, navigationError(err))
	}
	if err := s.d.ScrollIntoView(ctx, rogersViewBill); err != nil {
		return s.failed(ctx, label, navigationError(err))
	}
	if err := s.d.Click(ctx, rogersViewBill); err != nil {
		return s.failed(ctx, label, navigationError(err))
	}
	s.logger.Info("clicked view bill", "account", s.accountIndex+1)

	if err := s.d.WaitVisible(ctx, rogersSavePDF, s.opts.Browser.NavigateTimeout); err != nil {
		return s.failed(ctx, label, navigationError(err))
	}
	if err := s.enter(StateRetrieving, StateNavigating); err != nil {
		return s.failed(ctx, label, navigationError(err))
	}
	s.d.Screenshot(ctx, fmt.Sprintf("04_bill_page_%d", s.accountIndex+1))
	return nil
}

func (s *rogers) RetrieveBill(ctx context.Context) (*Bill, error) {
	if err := s.enter(StateRetrieving, StateRetrieving); err != nil {
		return nil, retrievalError(err)
	}
	label := fmt.Sprintf("error_account_%d", s.accountIndex+1)

	if err := s.d.ScrollIntoView(ctx, rogersSavePDF); err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}
	if err := s.d.Click(ctx, rogersSavePDF); err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}
	if err := s.human.Pause(ctx); err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}
	s.d.Screenshot(ctx, fmt.Sprintf("05_save_modal_%d", s.accountIndex+1))

	if err := s.d.WaitVisible(ctx, rogersDownload, s.opts.Browser.ElementTimeout); err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}

	dl, err := s.d.ExpectDownload(ctx, func(ctx context.Context) error {
		return s.d.Click(ctx, rogersDownload)
	}, s.opts.Browser.DownloadTimeout)
	if err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}
	if err := checkPDF(dl.Data); err != nil {
		return nil, s.failed(ctx, label, retrievalError(err))
	}

	if err := s.enter(StateDone, StateRetrieving); err != nil {
		return nil, retrievalError(err)
	}
	return &Bill{Data: dl.Data, SavePath: dl.Path}, nil
}
