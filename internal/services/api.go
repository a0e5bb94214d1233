// Signed RPC requests against the unified music endpoint (musicu.fcg / musics.fcg)
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/desertthunder/qmx/internal/models"
	"github.com/desertthunder/qmx/internal/shared"
)

// Request is one module/method call on the RPC endpoint.
type Request struct {
	Module     string
	Method     string
	Params     map[string]any
	Common     map[string]any     // per-call overrides of the common block
	Credential *models.Credential // overrides the session credential when set
	IgnoreCode bool               // return non-zero codes in [Result] instead of failing
}

// Result is the embedded result of one call. Data is the raw "data" field.
type Result struct {
	Code int
	Data json.RawMessage
}

// Decode unmarshals the result data into v.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: empty result data", shared.ErrAPIRequest)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode result data: %w", err)
	}
	return nil
}

type moduleCall struct {
	Module string         `json:"module"`
	Method string         `json:"method"`
	Param  map[string]any `json:"param"`
}

type moduleResult struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
}

// common builds the shared request block from session and device state, then applies overrides.
func (s *Session) common(cred *models.Credential, overrides map[string]any) map[string]any {
	c := map[string]any{
		"ct":         "11",
		"cv":         s.config.VersionCode,
		"v":          s.config.VersionCode,
		"tmeAppID":   "qqmusic",
		"format":     "json",
		"inCharset":  "utf-8",
		"outCharset": "utf-8",
		"uid":        "3931641530",
		"QIMEI36":    s.qimei,
	}
	if cred != nil {
		c["qq"] = strconv.FormatInt(cred.MusicID, 10)
		c["authst"] = cred.MusicKey
		c["tmeLoginType"] = cred.LoginTypeTag()
	}
	for k, v := range overrides {
		c[k] = v
	}
	return c
}

// Call sends req and classifies its result code.
//
// Code 0 yields the data payload. Expiry codes always fail with [CredentialExpiredError].
// Any other non-zero code fails with [ResponseCodeError] unless req.IgnoreCode is set, in which
// case the raw code and data are returned for the caller to branch on.
func (s *Session) Call(ctx context.Context, req Request) (*Result, error) {
	if req.Module == "" || req.Method == "" {
		return nil, fmt.Errorf("%w: module and method are required", shared.ErrMissingArgument)
	}

	cred := req.Credential
	if cred == nil {
		cred = s.credential
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	key := "req_" + strconv.FormatInt(s.nextSeq(), 10)
	envelope := map[string]any{
		"comm": s.common(cred, req.Common),
		key:    moduleCall{Module: req.Module, Method: req.Method, Param: params},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := s.config.Endpoint
	var query url.Values
	if s.config.EnableSign {
		endpoint = s.config.EncEndpoint
		query = url.Values{"sign": {Sign(body)}}
	}

	logger := s.logger.With("module", req.Module, "method", req.Method)
	logger.Debug("sending request", "key", key, "signed", s.config.EnableSign)

	resp, err := s.Fetch(ctx, HTTPRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Query:  query,
		Body:   body,
		Header: http.Header{"Content-Type": {"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", req.Module, req.Method, err)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: invalid response body: %v", shared.ErrAPIRequest, req.Module, req.Method, err)
	}

	raw, ok := payload[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s: result %s missing from response", shared.ErrAPIRequest, req.Module, req.Method, key)
	}

	var result moduleResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: invalid result: %v", shared.ErrAPIRequest, req.Module, req.Method, err)
	}

	logger.Debug("received result", "code", result.Code)

	if IsExpiredCode(result.Code) {
		return nil, &CredentialExpiredError{Module: req.Module, Method: req.Method, Code: result.Code}
	}

	if result.Code != 0 && !req.IgnoreCode {
		msg := result.Message
		if msg == "" {
			msg = result.Msg
		}
		if result.Code == codeSignInvalid && msg == "" {
			msg = "sign invalid"
		}
		return nil, &ResponseCodeError{Module: req.Module, Method: req.Method, Code: result.Code, Message: msg}
	}

	return &Result{Code: result.Code, Data: result.Data}, nil
}

// IsExpired reports whether err carries the credential-expiry signal.
func IsExpired(err error) bool {
	var expired *CredentialExpiredError
	return errors.As(err, &expired)
}
