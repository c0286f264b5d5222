package service

import "github.com/kardianos/service"

const (
	ServiceName        = "bill-scraper"
	ServiceDisplayName = "Bill Scraper Service"
	ServiceDescription = "Downloads vendor billing PDFs on request and on schedule, and mails them to accounts payable"
)

// NewServiceConfig creates the service registration; args are passed to
// the binary when the service manager starts it
func NewServiceConfig(args []string) *service.Config {
	return &service.Config{
		Name:        ServiceName,
		DisplayName: ServiceDisplayName,
		Description: ServiceDescription,
		Arguments:   args,
		Option: service.KeyValue{
			// Windows
			"StartType": "automatic",
			"OnFailure": "restart",
			// systemd
			"Restart": "on-failure",
		},
	}
}
