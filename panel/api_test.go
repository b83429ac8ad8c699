package panel

import (
	"context"
	"errors"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/go-playground/assert/v2"
)


func TestApiEnvelope(t *testing.T) {
	server := newTestPanelServer(t)
	server.setSubscriptions(&Subscription{
		Url:          "https://sub.example/a",
		ProtocolUrls: []string{"ss://a0#A0"},
	})
	server.setPing("ss://a0#A0", 64)

	api := server.api()
	defer api.Close()
	ctx := context.Background()

	subscriptions, err := api.GetSubscribersSync(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(subscriptions), 1)
	assert.Equal(t, subscriptions[0].ProtocolUrls, []string{"ss://a0#A0"})

	pingResults, err := api.PingSync(ctx, []string{"ss://a0#A0", "ss://missing"})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(pingResults), 1)
	assert.Equal(t, pingResults[0].Ping, float64(64))
	assert.Equal(t, server.bodies("/ping"), []string{`["ss://a0#A0","ss://missing"]`})

	err = api.SwitchToProtocolUrlSync(ctx, "ss://a0#A0")
	assert.Equal(t, err, nil)
	// the url is the whole body
	assert.Equal(t, server.bodies("/switch_to_protocol_url"), []string{"ss://a0#A0"})
	assert.Equal(t, server.contentType("/switch_to_protocol_url"), "text/plain; charset=utf-8")
	assert.Equal(t, server.contentType("/ping"), "application/json")

	active, err := api.GetCurrentProtocolUrlSync(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, active, "ss://a0#A0")

	config, err := api.GetConfigSync(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Port, "7890")

	err = api.SetConfigSync(ctx, &VpnConfig{Port: "1080"})
	assert.Equal(t, err, nil)
	assert.Equal(t, server.bodies("/set_config"), []string{`{"port":"1080"}`})

	err = api.RestartSync(ctx)
	assert.Equal(t, err, nil)
	// no body
	assert.Equal(t, server.bodies("/restart"), []string{""})
}

func TestApiFailure(t *testing.T) {
	server := newTestPanelServer(t)
	server.fail("/update_subscribers", "subscription unreachable")
	server.failStatus("/get_subscribers", 502)

	api := server.api()
	defer api.Close()
	ctx := context.Background()

	_, err := api.UpdateSubscribersSync(ctx, []string{"https://sub.example/a"})
	assert.Equal(t, IsApiError(err), true)
	var apiErr *ApiError
	assert.Equal(t, errors.As(err, &apiErr), true)
	assert.Equal(t, apiErr.Message, "subscription unreachable")
	assert.Equal(t, apiErr.Path, "/api/v1/update_subscribers")

	_, err = api.GetSubscribersSync(ctx)
	assert.Equal(t, IsApiError(err), false)
	var httpErr *HttpError
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.StatusCode, 502)
	assert.Equal(t, httpErr.Message, "server exploded")
}

func TestApiTransportFailure(t *testing.T) {
	server := newTestPanelServer(t)
	api := server.api()
	defer api.Close()
	server.server.Close()

	_, err := api.GetSubscribersSync(context.Background())
	assert.NotEqual(t, err, nil)
	assert.Equal(t, IsApiError(err), false)
}

func TestApiCallback(t *testing.T) {
	server := newTestPanelServer(t)

	api := server.api()
	defer api.Close()

	callback, result := NewBlockingApiCallback[*VpnConfig]()
	api.GetConfig(callback)

	select {
	case r := <-result:
		assert.Equal(t, r.Error, nil)
		assert.Equal(t, r.Result.Port, "7890")
	case <-time.After(5 * time.Second):
		t.Fatal("no callback")
	}

	setConfigCallback, setConfigResult := NewBlockingApiCallback[*EmptyResult]()
	api.SetConfig(&VpnConfig{Port: "1080"}, setConfigCallback)
	select {
	case r := <-setConfigResult:
		assert.Equal(t, r.Error, nil)
		assert.Equal(t, server.bodies("/set_config"), []string{`{"port":"1080"}`})
	case <-time.After(5 * time.Second):
		t.Fatal("no callback")
	}

	restartCallback, restartResult := NewBlockingApiCallback[*EmptyResult]()
	api.Restart(restartCallback)
	select {
	case r := <-restartResult:
		assert.Equal(t, r.Error, nil)
	case <-time.After(5 * time.Second):
		t.Fatal("no callback")
	}
}

func TestApiJwt(t *testing.T) {
	server := newTestPanelServer(t)
	api := server.api()
	defer api.Close()

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	byJwt, err := token.SignedString([]byte("test"))
	assert.Equal(t, err, nil)

	err = api.SetByJwt(byJwt)
	assert.Equal(t, err, nil)

	_, err = api.GetSubscribersSync(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, server.authorization, "Bearer "+byJwt)

	err = api.SetByJwt("not a jwt")
	assert.NotEqual(t, err, nil)
}

func TestPanelJwt(t *testing.T) {
	now := time.Now()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": "admin",
		"exp": now.Add(-time.Minute).Unix(),
	})
	byJwt, err := token.SignedString([]byte("test"))
	assert.Equal(t, err, nil)

	panelJwt, err := ParsePanelJwtUnverified(byJwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, panelJwt.Subject, "admin")
	assert.Equal(t, panelJwt.Expired(now), true)
	assert.Equal(t, panelJwt.IssuedAt.IsZero(), true)

	assert.Equal(t, (&PanelJwt{}).Expired(now), false)
}
