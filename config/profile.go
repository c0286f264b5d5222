package config

import (
	"fmt"
	"strings"
)

// AccountMetadata is the static GL reference data for one vendor account
type AccountMetadata struct {
	VendorCode    string
	AccountNumber string
	GLAccount     string
	// DisplayLabel is the text the portal shows for the account, used by
	// vendors that switch accounts by visible label.
	DisplayLabel string
}

// Credentials are the portal login details for one vendor
type Credentials struct {
	LoginURL string
	Username string
	Password string
}

// Region is a rectangle in PDF page coordinates with the origin at the
// top-left corner of the page (x grows right, y grows down).
type Region struct {
	X0, Y0, X1, Y1 float64
}

// VendorProfile is the immutable, resolved configuration of one vendor
type VendorProfile struct {
	Name        string
	Kind        string
	Credentials Credentials
	DateRegion  Region
	DateFormat  string
	DateCleanup string
	Accounts    []AccountMetadata
}

// MaxAccounts is the number of configured accounts; valid indexes are 0..MaxAccounts-1
func (p *VendorProfile) MaxAccounts() int {
	return len(p.Accounts)
}

// Account returns the metadata for accountIndex
func (p *VendorProfile) Account(accountIndex int) (AccountMetadata, bool) {
	if accountIndex < 0 || accountIndex >= len(p.Accounts) {
		return AccountMetadata{}, false
	}
	return p.Accounts[accountIndex], true
}

// DisplayName is the upper-case vendor name used in labels and messages
func (p *VendorProfile) DisplayName() string {
	return strings.ToUpper(p.Name)
}

// Profiles resolves every vendor block into a VendorProfile, reading
// credentials through lookup. Missing credentials fail fast.
func (c *Config) Profiles(lookup func(string) (string, bool)) ([]VendorProfile, error) {
	profiles := make([]VendorProfile, 0, len(c.Vendors))
	for _, v := range c.Vendors {
		creds, err := resolveCredentials(v, lookup)
		if err != nil {
			return nil, err
		}

		accounts := make([]AccountMetadata, len(v.Accounts))
		for i, a := range v.Accounts {
			accounts[i] = AccountMetadata{
				VendorCode:    a.VendorCode,
				AccountNumber: a.AccountNumber,
				GLAccount:     a.GLAccount,
				DisplayLabel:  a.DisplayLabel,
			}
		}

		var region Region
		if len(v.DateRegion) == 4 {
			region = Region{X0: v.DateRegion[0], Y0: v.DateRegion[1], X1: v.DateRegion[2], Y1: v.DateRegion[3]}
		}

		profiles = append(profiles, VendorProfile{
			Name:        v.Name,
			Kind:        v.Kind,
			Credentials: creds,
			DateRegion:  region,
			DateFormat:  v.DateFormat,
			DateCleanup: v.DateCleanup,
			Accounts:    accounts,
		})
	}
	return profiles, nil
}

func resolveCredentials(v VendorConfig, lookup func(string) (string, bool)) (Credentials, error) {
	get := func(name string) (string, error) {
		val, ok := lookup(name)
		val = strings.TrimSpace(val)
		if !ok || val == "" {
			return "", fmt.Errorf("vendor %s: environment variable %s must be set", v.Name, name)
		}
		return val, nil
	}

	loginURL, err := get(v.LoginURLEnv)
	if err != nil {
		return Credentials{}, err
	}
	username, err := get(v.UsernameEnv)
	if err != nil {
		return Credentials{}, err
	}
	password, err := get(v.PasswordEnv)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{LoginURL: loginURL, Username: username, Password: password}, nil
}
