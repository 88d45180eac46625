package credentialbridge

import (
	"encoding/json"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// rawCredential mirrors one entry of the GEMINI_OAUTH_CREDENTIALS JSON
// array: a list of refresh tokens under rotation, keyed by an operator-
// assigned id for logging.
type rawCredential struct {
	ID           string `json:"id"`
	RefreshToken string `json:"refreshToken"`
	AccessToken  string `json:"accessToken,omitempty"`
}

// LoadCredentials parses GEMINI_OAUTH_CREDENTIALS into the rotation list
// lifecycle.Config.Credentials expects. The wire shape has no spec precedent
// (spec.md describes credential rotation's behavior but not its
// environment-variable encoding); a JSON array of {id, refreshToken} is
// the natural fit for a single environment variable.
func LoadCredentials(raw string) ([]Credential, error) {
	if raw == "" {
		return nil, svcerrors.MissingConfig("GEMINI_OAUTH_CREDENTIALS")
	}

	var entries []rawCredential
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, svcerrors.InvalidInput("GEMINI_OAUTH_CREDENTIALS", err.Error())
	}

	out := make([]Credential, 0, len(entries))
	for _, e := range entries {
		if e.RefreshToken == "" {
			continue
		}
		out = append(out, Credential{ID: e.ID, RefreshToken: e.RefreshToken, AccessToken: e.AccessToken})
	}
	if len(out) == 0 {
		return nil, svcerrors.InvalidInput("GEMINI_OAUTH_CREDENTIALS", "no credential entries with a refreshToken")
	}
	return out, nil
}
