package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/qmx/internal/shared"
)

// Login type tags sent as tmeLoginType.
const (
	LoginTypePhone  = 0
	LoginTypeWX     = 1
	LoginTypeQQ     = 2
	LoginTypeMobile = 6
)

// Credential is the renewable identity used to sign API calls.
type Credential struct {
	MusicID      int64          `json:"musicid"`
	MusicKey     string         `json:"musickey"`
	RefreshKey   string         `json:"refresh_key"`
	RefreshToken string         `json:"refresh_token"`
	LoginType    int            `json:"login_type"`
	OpenID       string         `json:"openid,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	UnionID      string         `json:"unionid,omitempty"`
	StrMusicID   string         `json:"str_musicid,omitempty"`
	EncryptUin   string         `json:"encrypt_uin,omitempty"`
	ExpiredAt    int64          `json:"expired_at,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// loginPayload mirrors the login server's response data.
type loginPayload struct {
	OpenID       string  `json:"openid"`
	RefreshToken string  `json:"refresh_token"`
	AccessToken  string  `json:"access_token"`
	ExpiredAt    flexInt `json:"expired_at"`
	MusicID      flexInt `json:"musicid"`
	MusicKey     string  `json:"musickey"`
	UnionID      string  `json:"unionid"`
	StrMusicID   string  `json:"str_musicid"`
	RefreshKey   string  `json:"refresh_key"`
	EncryptUin   string  `json:"encryptUin"`
	LoginType    flexInt `json:"loginType"`
}

var knownLoginKeys = map[string]bool{
	"openid": true, "refresh_token": true, "access_token": true, "expired_at": true,
	"musicid": true, "musickey": true, "unionid": true, "str_musicid": true,
	"refresh_key": true, "encryptUin": true, "loginType": true,
}

// CredentialFromLogin builds a Credential from the data block of a login-service response.
// Unknown keys are kept in [Credential.Extra].
func CredentialFromLogin(data json.RawMessage) (*Credential, error) {
	var p loginPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to decode login response: %v", shared.ErrInvalidCredentials, err)
	}

	var all map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&all); err != nil {
		return nil, fmt.Errorf("%w: failed to decode login response: %v", shared.ErrInvalidCredentials, err)
	}

	c := &Credential{
		MusicID:      int64(p.MusicID),
		MusicKey:     p.MusicKey,
		RefreshKey:   p.RefreshKey,
		RefreshToken: p.RefreshToken,
		LoginType:    int(p.LoginType),
		OpenID:       p.OpenID,
		AccessToken:  p.AccessToken,
		UnionID:      p.UnionID,
		StrMusicID:   p.StrMusicID,
		EncryptUin:   p.EncryptUin,
		ExpiredAt:    int64(p.ExpiredAt),
	}
	if c.LoginType == 0 {
		c.LoginType = inferLoginType(c.MusicKey)
	}

	for k, v := range all {
		if knownLoginKeys[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WeChat session keys carry a W_X prefix; everything else is treated as a QQ session.
func inferLoginType(musicKey string) int {
	if strings.HasPrefix(musicKey, "W_X") {
		return LoginTypeWX
	}
	return LoginTypeQQ
}

// Complete reports whether the credential has a primary session key.
func (c *Credential) Complete() bool {
	return c != nil && c.MusicKey != ""
}

// CanRefresh reports whether both refresh key and refresh token are present.
func (c *Credential) CanRefresh() bool {
	return c != nil && c.RefreshKey != "" && c.RefreshToken != ""
}

// Validate rejects credentials that are neither complete nor refreshable.
func (c *Credential) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil credential", shared.ErrInvalidCredentials)
	}
	if !c.Complete() && !c.CanRefresh() {
		return fmt.Errorf("%w: neither session key nor refresh material present", shared.ErrInvalidCredentials)
	}
	return nil
}

// Replace overwrites c's fields with next's, keeping c's identity.
// Refresh responses may omit the user id, in which case the old one is kept.
func (c *Credential) Replace(next *Credential) {
	musicID := c.MusicID
	*c = *next
	if c.MusicID == 0 {
		c.MusicID = musicID
	}
	if next.Extra != nil {
		c.Extra = make(map[string]any, len(next.Extra))
		for k, v := range next.Extra {
			c.Extra[k] = v
		}
	}
}

// LoginTypeTag is the tmeLoginType value for this credential.
func (c *Credential) LoginTypeTag() string {
	lt := c.LoginType
	if lt == 0 {
		lt = inferLoginType(c.MusicKey)
	}
	return strconv.Itoa(lt)
}

// flexInt accepts a JSON number, a numeric string, or an empty string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}
