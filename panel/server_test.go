package panel

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)


// an in-process panel server speaking the `{success, data, message}` envelope
type testPanelServer struct {
	mutex sync.Mutex

	subscriptions []*Subscription
	// subscription url -> protocol urls returned by the next update
	updates            map[string][]string
	pings              map[string]float64
	activeProtocolUrl  string
	fastestProtocolUrl string
	config             *VpnConfig
	// path -> message for a `success: false` answer
	failures map[string]string
	// path -> status code for a non-200 answer
	statusFailures map[string]int

	requestPaths  []string
	requestBodies map[string][]string
	// path -> content type of the last request
	contentTypes  map[string]string
	authorization string
	restarts      int

	gateLock sync.Mutex
	gates    map[string]*testGate

	server *httptest.Server
}

// holds one request at the server until released
type testGate struct {
	entered chan struct{}
	release chan struct{}
}

func newTestPanelServer(t *testing.T) *testPanelServer {
	self := &testPanelServer{
		updates:        map[string][]string{},
		pings:          map[string]float64{},
		config:         &VpnConfig{Port: "7890"},
		failures:       map[string]string{},
		statusFailures: map[string]int{},
		requestBodies:  map[string][]string{},
		contentTypes:   map[string]string{},
		gates:          map[string]*testGate{},
	}
	self.server = httptest.NewServer(http.HandlerFunc(self.handle))
	t.Cleanup(self.server.Close)
	return self
}

func (self *testPanelServer) apiUrl() string {
	return self.server.URL + "/api/v1"
}

func (self *testPanelServer) api() *ProxyPanelApi {
	return NewProxyPanelApi(self.apiUrl())
}

func (self *testPanelServer) setSubscriptions(subscriptions ...*Subscription) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.subscriptions = subscriptions
}

func (self *testPanelServer) setPing(protocolUrl string, ping float64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.pings[protocolUrl] = ping
}

func (self *testPanelServer) setActiveProtocolUrl(protocolUrl string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.activeProtocolUrl = protocolUrl
}

// the next request to `path` waits at the server until the gate is released
func (self *testPanelServer) block(path string) *testGate {
	self.gateLock.Lock()
	defer self.gateLock.Unlock()
	gate := &testGate{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	self.gates[path] = gate
	return gate
}

func (self *testPanelServer) takeGate(path string) *testGate {
	self.gateLock.Lock()
	defer self.gateLock.Unlock()
	gate, ok := self.gates[path]
	if !ok {
		return nil
	}
	delete(self.gates, path)
	return gate
}

func (self *testPanelServer) clearFailures() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	clear(self.failures)
	clear(self.statusFailures)
}

func (self *testPanelServer) fail(path string, message string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.failures[path] = message
}

func (self *testPanelServer) failStatus(path string, statusCode int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.statusFailures[path] = statusCode
}

func (self *testPanelServer) paths() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return append([]string{}, self.requestPaths...)
}

func (self *testPanelServer) bodies(path string) []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return append([]string{}, self.requestBodies[path]...)
}

func (self *testPanelServer) contentType(path string) string {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.contentTypes[path]
}

func (self *testPanelServer) handle(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")

	// the answer is made after the release, from the server state at that time
	if gate := self.takeGate(path); gate != nil {
		close(gate.entered)
		<-gate.release
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	body, _ := io.ReadAll(r.Body)

	self.requestPaths = append(self.requestPaths, path)
	self.requestBodies[path] = append(self.requestBodies[path], string(body))
	self.contentTypes[path] = r.Header.Get("Content-Type")
	self.authorization = r.Header.Get("Authorization")

	if statusCode, ok := self.statusFailures[path]; ok {
		http.Error(w, "server exploded", statusCode)
		return
	}
	if message, ok := self.failures[path]; ok {
		writeEnvelope(w, false, nil, message)
		return
	}

	var urls []string
	if 0 < len(body) {
		json.Unmarshal(body, &urls)
	}

	switch path {
	case "/get_subscribers":
		writeEnvelope(w, true, self.subscriptions, "")
	case "/add_subscribers":
		for _, url := range urls {
			self.subscriptions = append(self.subscriptions, &Subscription{
				Url:          url,
				ProtocolUrls: []string{},
			})
		}
		writeEnvelope(w, true, nil, "")
	case "/remove_subscribers":
		subscriptions := []*Subscription{}
		for _, subscription := range self.subscriptions {
			removed := false
			for _, url := range urls {
				if subscription.Url == url {
					removed = true
				}
			}
			if !removed {
				subscriptions = append(subscriptions, subscription)
			}
		}
		self.subscriptions = subscriptions
		writeEnvelope(w, true, nil, "")
	case "/update_subscribers":
		updated := []*Subscription{}
		for _, url := range urls {
			for _, subscription := range self.subscriptions {
				if subscription.Url != url {
					continue
				}
				if protocolUrls, ok := self.updates[url]; ok {
					subscription.ProtocolUrls = protocolUrls
				}
				updated = append(updated, &Subscription{
					Url:          subscription.Url,
					ProtocolUrls: subscription.ProtocolUrls,
				})
			}
		}
		writeEnvelope(w, true, updated, "")
	case "/update_subscriber_by_content":
		var args UpdateSubscriberByContentArgs
		json.Unmarshal(body, &args)
		for _, subscription := range self.subscriptions {
			if subscription.Url == args.Url {
				subscription.ProtocolUrls = strings.Fields(args.Content)
			}
		}
		writeEnvelope(w, true, nil, "")
	case "/switch_to_protocol_url":
		self.activeProtocolUrl = string(body)
		writeEnvelope(w, true, nil, "")
	case "/switch_to_fastest_protocol_url":
		self.activeProtocolUrl = self.fastestProtocolUrl
		writeEnvelope(w, true, nil, "")
	case "/ping":
		pingResults := []*PingResult{}
		for _, url := range urls {
			if ping, ok := self.pings[url]; ok {
				pingResults = append(pingResults, &PingResult{
					ProtocolUrl: url,
					Ping:        ping,
				})
			}
		}
		writeEnvelope(w, true, pingResults, "")
	case "/get_current_protocol_url":
		writeEnvelope(w, true, self.activeProtocolUrl, "")
	case "/get_config":
		writeEnvelope(w, true, self.config, "")
	case "/set_config":
		var config VpnConfig
		json.Unmarshal(body, &config)
		self.config = &config
		writeEnvelope(w, true, nil, "")
	case "/restart":
		self.restarts += 1
		writeEnvelope(w, true, nil, "")
	default:
		http.NotFound(w, r)
	}
}

func writeEnvelope(w http.ResponseWriter, success bool, data any, message string) {
	envelope := map[string]any{
		"success": success,
		"message": message,
	}
	if data != nil {
		envelope["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope)
}
