package login

import (
	"context"
	"fmt"
	"strconv"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/services"
)

// PhoneEvent is the outcome of an SMS code request.
type PhoneEvent int

const (
	PhoneSent PhoneEvent = iota
	PhoneCaptcha
	PhoneFrequency
	PhoneUnknown
)

func (e PhoneEvent) String() string {
	switch e {
	case PhoneSent:
		return "sent"
	case PhoneCaptcha:
		return "captcha"
	case PhoneFrequency:
		return "frequency"
	}
	return "unknown"
}

const (
	codeDeviceLimit   = 20274
	codeWrongAuthCode = 20271
	codeNeedCaptcha   = 20276
	codeTooFrequent   = 100001
)

type phoneResultData struct {
	SecurityURL string `json:"securityURL"`
	ErrMsg      string `json:"errMsg"`
}

// SendAuthCode requests an SMS login code. For [PhoneCaptcha] the detail is the verification
// URL to open; for [PhoneUnknown] it is the server message.
func SendAuthCode(ctx context.Context, sess *services.Session, phone string, countryCode int) (PhoneEvent, string, error) {
	res, err := sess.Call(ctx, services.Request{
		Module: loginModule,
		Method: "SendPhoneAuthCode",
		Params: map[string]any{
			"tmeAppid": "qqmusic",
			"phoneNo":  phone,
			"areaCode": strconv.Itoa(countryCode),
		},
		Common:     map[string]any{"tmeLoginMethod": "3"},
		IgnoreCode: true,
	})
	if err != nil {
		return PhoneUnknown, "", err
	}

	switch res.Code {
	case 0:
		return PhoneSent, "", nil
	case codeTooFrequent:
		return PhoneFrequency, "", nil
	}

	var data phoneResultData
	if len(res.Data) > 0 {
		if err := res.Decode(&data); err != nil {
			return PhoneUnknown, "", loginError(ProviderPhone, fmt.Sprintf("invalid reply for code %d", res.Code), err)
		}
	}
	if res.Code == codeNeedCaptcha {
		return PhoneCaptcha, data.SecurityURL, nil
	}
	return PhoneUnknown, data.ErrMsg, nil
}

// PhoneAuthorize exchanges an SMS code for a credential.
func PhoneAuthorize(ctx context.Context, sess *services.Session, phone, code string, countryCode int) (*models.Credential, error) {
	res, err := sess.Call(ctx, services.Request{
		Module: loginModule,
		Method: "Login",
		Params: map[string]any{
			"code":      code,
			"phoneNo":   phone,
			"areaCode":  strconv.Itoa(countryCode),
			"loginMode": 1,
		},
		Common:     map[string]any{"tmeLoginMethod": "3", "tmeLoginType": strconv.Itoa(models.LoginTypePhone)},
		IgnoreCode: true,
	})
	if err != nil {
		if services.IsExpired(err) {
			return nil, loginError(ProviderPhone, "cannot re-authorize", err)
		}
		return nil, err
	}

	switch res.Code {
	case 0:
		cred, err := models.CredentialFromLogin(res.Data)
		if err != nil {
			return nil, loginError(ProviderPhone, "invalid login response", err)
		}
		return cred, nil
	case codeDeviceLimit:
		return nil, loginError(ProviderPhone, "device limit reached", nil)
	case codeWrongAuthCode:
		return nil, loginError(ProviderPhone, "wrong or already used code", nil)
	}
	return nil, loginError(ProviderPhone, fmt.Sprintf("authorization failed with code %d", res.Code), nil)
}
