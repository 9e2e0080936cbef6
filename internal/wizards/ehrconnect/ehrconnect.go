// Package ehrconnect implements the EHR connector setup wizard: collect
// credentials, authenticate, verify connectivity against a known resource,
// then activate the integration.
package ehrconnect

import (
	"github.com/docwell/stepflow/pkg/protocol"
	"github.com/docwell/stepflow/pkg/wizard"
)

const WizardType = "ehr-connect"

// Session field keys written by the steps. Later steps read what earlier
// steps stored.
const (
	fieldBaseURL      = "ehr.base_url"
	fieldClientID     = "ehr.client_id"
	fieldClientSecret = "ehr.client_secret"
	fieldAccessToken  = "ehr.access_token"
	fieldTokenType    = "ehr.token_type"
	fieldVerifiedID   = "ehr.verified_resource_id"
)

// New builds the four-step connector wizard over the given EHR client.
func New(client protocol.EHRClient) (*wizard.Definition, error) {
	return wizard.NewDefinition(WizardType, "Connect an external EHR system",
		&credentialsStep{},
		&authenticateStep{client: client},
		&connectivityStep{client: client},
		&activateStep{},
	)
}
