package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
)


const DefaultApiUrl = "http://127.0.0.1:7898/api/v1"

// the panel server pings endpoints inline, so keep this above the server ping timeout
const defaultHttpTimeout = 10 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second


func defaultClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}


type apiCallback[R any] interface {
	Result(result R, err error)
}


// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	HandleError(func() {
		self.callback(result, err)
	})
}


type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}


func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}


// the server answered with `success: false`
type ApiError struct {
	Path    string
	Message string
}

func (self *ApiError) Error() string {
	return fmt.Sprintf("%s: %s", self.Path, self.Message)
}


// the server answered with a non-200 status
type HttpError struct {
	Path       string
	StatusCode int
	Message    string
}

func (self *HttpError) Error() string {
	if self.Message == "" {
		return fmt.Sprintf("%s: http %d", self.Path, self.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", self.Path, self.StatusCode, self.Message)
}


// every response of the panel server is wrapped in this envelope
type apiEnvelope[R any] struct {
	Success bool   `json:"success"`
	Data    R      `json:"data,omitempty"`
	Message string `json:"message"`
}


type Subscription struct {
	Url          string   `json:"url"`
	ProtocolUrls []string `json:"protocolUrls"`
}

type PingResult struct {
	ProtocolUrl string  `json:"protocolUrl"`
	Ping        float64 `json:"ping"`
}

type VpnConfig struct {
	Port string `json:"port"`
}

type UpdateSubscriberByContentArgs struct {
	Url     string `json:"url"`
	Content string `json:"content"`
}

// data of calls that return nothing
type EmptyResult struct {
}


// the subset of the panel server used by `SubscriptionPanel`
type PanelApi interface {
	GetSubscribersSync(ctx context.Context) ([]*Subscription, error)
	AddSubscribersSync(ctx context.Context, subscriptionUrls []string) error
	RemoveSubscribersSync(ctx context.Context, subscriptionUrls []string) error
	UpdateSubscribersSync(ctx context.Context, subscriptionUrls []string) ([]*Subscription, error)
	UpdateSubscriberByContentSync(ctx context.Context, args *UpdateSubscriberByContentArgs) error
	SwitchToProtocolUrlSync(ctx context.Context, protocolUrl string) error
	SwitchToFastestProtocolUrlSync(ctx context.Context) error
	PingSync(ctx context.Context, protocolUrls []string) ([]*PingResult, error)
	GetCurrentProtocolUrlSync(ctx context.Context) (string, error)
	GetConfigSync(ctx context.Context) (*VpnConfig, error)
	SetConfigSync(ctx context.Context, config *VpnConfig) error
	RestartSync(ctx context.Context) error
}


type ProxyPanelApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	client *http.Client

	byJwt string
}

func NewProxyPanelApi(apiUrl string) *ProxyPanelApi {
	return NewProxyPanelApiWithContext(context.Background(), apiUrl)
}

func NewProxyPanelApiWithContext(ctx context.Context, apiUrl string) *ProxyPanelApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	if apiUrl == "" {
		apiUrl = DefaultApiUrl
	}

	return &ProxyPanelApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: strings.TrimRight(apiUrl, "/"),
		client: defaultClient(defaultHttpTimeout),
	}
}

func (self *ProxyPanelApi) ApiUrl() string {
	return self.apiUrl
}

func (self *ProxyPanelApi) SetHttpTimeout(timeout time.Duration) {
	self.client = defaultClient(timeout)
}

// this gets attached to every api call when set
func (self *ProxyPanelApi) SetByJwt(byJwt string) error {
	if byJwt == "" {
		self.byJwt = ""
		return nil
	}
	panelJwt, err := ParsePanelJwtUnverified(byJwt)
	if err != nil {
		return err
	}
	if panelJwt.Expired(time.Now()) {
		glog.Warningf("[api]jwt for %s expired at %s\n", panelJwt.Subject, panelJwt.ExpiresAt)
	}
	self.byJwt = byJwt
	return nil
}

func (self *ProxyPanelApi) Close() {
	self.cancel()
}

func (self *ProxyPanelApi) url(path string) string {
	return fmt.Sprintf("%s%s", self.apiUrl, path)
}


func (self *ProxyPanelApi) GetSubscribersSync(ctx context.Context) ([]*Subscription, error) {
	return get[[]*Subscription](
		ctx,
		self.client,
		self.url("/get_subscribers"),
		self.byJwt,
		NewNoopApiCallback[[]*Subscription](),
	)
}


func (self *ProxyPanelApi) AddSubscribersSync(ctx context.Context, subscriptionUrls []string) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/add_subscribers"),
		subscriptionUrls,
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


func (self *ProxyPanelApi) RemoveSubscribersSync(ctx context.Context, subscriptionUrls []string) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/remove_subscribers"),
		subscriptionUrls,
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


// the server refetches each subscription and returns the refreshed lists
func (self *ProxyPanelApi) UpdateSubscribersSync(ctx context.Context, subscriptionUrls []string) ([]*Subscription, error) {
	return post[[]*Subscription](
		ctx,
		self.client,
		self.url("/update_subscribers"),
		subscriptionUrls,
		self.byJwt,
		NewNoopApiCallback[[]*Subscription](),
	)
}


// replaces the endpoints of one subscription with the given raw (usually base64) content
func (self *ProxyPanelApi) UpdateSubscriberByContentSync(ctx context.Context, args *UpdateSubscriberByContentArgs) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/update_subscriber_by_content"),
		args,
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


// the server reads the url as the whole body, not as a json string
func (self *ProxyPanelApi) SwitchToProtocolUrlSync(ctx context.Context, protocolUrl string) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/switch_to_protocol_url"),
		textBody(protocolUrl),
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


func (self *ProxyPanelApi) SwitchToFastestProtocolUrlSync(ctx context.Context) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/switch_to_fastest_protocol_url"),
		nil,
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


func (self *ProxyPanelApi) PingSync(ctx context.Context, protocolUrls []string) ([]*PingResult, error) {
	return post[[]*PingResult](
		ctx,
		self.client,
		self.url("/ping"),
		protocolUrls,
		self.byJwt,
		NewNoopApiCallback[[]*PingResult](),
	)
}


func (self *ProxyPanelApi) GetCurrentProtocolUrlSync(ctx context.Context) (string, error) {
	return get[string](
		ctx,
		self.client,
		self.url("/get_current_protocol_url"),
		self.byJwt,
		NewNoopApiCallback[string](),
	)
}


type GetConfigCallback apiCallback[*VpnConfig]

func (self *ProxyPanelApi) GetConfig(callback GetConfigCallback) {
	go get[*VpnConfig](
		self.ctx,
		self.client,
		self.url("/get_config"),
		self.byJwt,
		callback,
	)
}

func (self *ProxyPanelApi) GetConfigSync(ctx context.Context) (*VpnConfig, error) {
	return get[*VpnConfig](
		ctx,
		self.client,
		self.url("/get_config"),
		self.byJwt,
		NewNoopApiCallback[*VpnConfig](),
	)
}


type SetConfigCallback apiCallback[*EmptyResult]

func (self *ProxyPanelApi) SetConfig(config *VpnConfig, callback SetConfigCallback) {
	go post[*EmptyResult](
		self.ctx,
		self.client,
		self.url("/set_config"),
		config,
		self.byJwt,
		callback,
	)
}

func (self *ProxyPanelApi) SetConfigSync(ctx context.Context, config *VpnConfig) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/set_config"),
		config,
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


type RestartCallback apiCallback[*EmptyResult]

func (self *ProxyPanelApi) Restart(callback RestartCallback) {
	go post[*EmptyResult](
		self.ctx,
		self.client,
		self.url("/restart"),
		nil,
		self.byJwt,
		callback,
	)
}

func (self *ProxyPanelApi) RestartSync(ctx context.Context) error {
	_, err := post[*EmptyResult](
		ctx,
		self.client,
		self.url("/restart"),
		nil,
		self.byJwt,
		NewNoopApiCallback[*EmptyResult](),
	)
	return err
}


// post args that are sent as-is
type textBody string

func post[R any](ctx context.Context, client *http.Client, url string, args any, byJwt string, callback apiCallback[R]) (R, error) {
	contentType := "application/json"
	var requestBodyBytes []byte
	switch v := args.(type) {
	case nil:
		requestBodyBytes = make([]byte, 0)
	case textBody:
		contentType = "text/plain; charset=utf-8"
		requestBodyBytes = []byte(v)
	default:
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", contentType)

	return do(client, req, byJwt, callback)
}


func get[R any](ctx context.Context, client *http.Client, url string, byJwt string, callback apiCallback[R]) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	return do(client, req, byJwt, callback)
}


func do[R any](client *http.Client, req *http.Request, byJwt string, callback apiCallback[R]) (R, error) {
	path := req.URL.Path

	if byJwt != "" {
		auth := fmt.Sprintf("Bearer %s", byJwt)
		req.Header.Add("Authorization", auth)
	}

	result, err := TraceWithReturnError(
		fmt.Sprintf("[api]%s %s", req.Method, path),
		func() (R, error) {
			var empty R

			r, err := client.Do(req)
			if err != nil {
				return empty, err
			}
			defer r.Body.Close()

			responseBodyBytes, err := io.ReadAll(r.Body)

			if http.StatusOK != r.StatusCode {
				// the response body is the error message
				return empty, &HttpError{
					Path:       path,
					StatusCode: r.StatusCode,
					Message:    strings.TrimSpace(string(responseBodyBytes)),
				}
			}

			if err != nil {
				return empty, err
			}

			var envelope apiEnvelope[R]
			err = json.Unmarshal(responseBodyBytes, &envelope)
			if err != nil {
				return empty, fmt.Errorf("%s: invalid response: %w", path, err)
			}
			if !envelope.Success {
				return empty, &ApiError{
					Path:    path,
					Message: envelope.Message,
				}
			}
			return envelope.Data, nil
		},
	)

	callback.Result(result, err)
	return result, err
}


func IsApiError(err error) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr)
}
