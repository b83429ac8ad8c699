package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)


// The panel owns the displayed tree, the ping cache and the active endpoint.
// Network calls never hold `stateLock`. Each action captures what it needs, makes its calls,
// and then commits a functional update against the latest state. A failed call commits nothing.


type NotificationLevel string

const (
	NotificationLevelSuccess NotificationLevel = "success"
	NotificationLevelError   NotificationLevel = "error"
)


type Notification struct {
	Id      Id                `json:"id"`
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
	Time    time.Time         `json:"time"`
}


type PanelState struct {
	Tree              []*DisplayNode `json:"tree"`
	ActiveProtocolUrl string         `json:"activeProtocolUrl"`
	LastPingTime      string         `json:"lastPingTime"`
	// busy indicator only. New actions are never blocked.
	Loading bool `json:"loading"`
}


type ChangeFunction func(state *PanelState)

type NotificationFunction func(notification *Notification)


type SubscriptionPanelSettings struct {
	LastPingTimeFormat string
	ImportTitle        string
	ImportPlaceholder  string
}

func DefaultSubscriptionPanelSettings() *SubscriptionPanelSettings {
	return &SubscriptionPanelSettings{
		LastPingTimeFormat: "2006-01-02 15:04:05",
		ImportTitle:        "Import subscription content",
		ImportPlaceholder:  "Paste the subscription content",
	}
}


type SubscriptionPanel struct {
	ctx    context.Context
	cancel context.CancelFunc

	api        PanelApi
	cacheStore CacheStore
	modal      *ModalController

	settings *SubscriptionPanelSettings

	log      LogFunction
	cacheLog LogFunction

	stateLock         sync.Mutex
	tree              []*DisplayNode
	cache             *PingCache
	activeProtocolUrl string
	// incremented on each commit of `activeProtocolUrl`
	activeVersion     uint64
	loading           int

	// serializes writes to `cacheStore`
	storeLock sync.Mutex

	changeCallbacks       *CallbackList[ChangeFunction]
	notificationCallbacks *CallbackList[NotificationFunction]
}

func NewSubscriptionPanel(
	ctx context.Context,
	api PanelApi,
	cacheStore CacheStore,
	modal *ModalController,
) *SubscriptionPanel {
	return NewSubscriptionPanelWithSettings(ctx, api, cacheStore, modal, DefaultSubscriptionPanelSettings())
}

func NewSubscriptionPanelWithSettings(
	ctx context.Context,
	api PanelApi,
	cacheStore CacheStore,
	modal *ModalController,
	settings *SubscriptionPanelSettings,
) *SubscriptionPanel {
	cancelCtx, cancel := context.WithCancel(ctx)

	if cacheStore == nil {
		cacheStore = NewMemoryCacheStore()
	}
	if modal == nil {
		modal = NewModalController(&NoModalSurface{})
	}

	log := LogFn(LogLevelInfo, "panel")

	return &SubscriptionPanel{
		ctx:                   cancelCtx,
		cancel:                cancel,
		api:                   api,
		cacheStore:            cacheStore,
		modal:                 modal,
		settings:              settings,
		log:                   log,
		cacheLog:              SubLogFn(LogLevelDebug, log, "cache"),
		tree:                  []*DisplayNode{},
		cache:                 NewPingCache(),
		changeCallbacks:       NewCallbackList[ChangeFunction](),
		notificationCallbacks: NewCallbackList[NotificationFunction](),
	}
}

func (self *SubscriptionPanel) Modal() *ModalController {
	return self.modal
}

func (self *SubscriptionPanel) AddChangeCallback(changeCallback ChangeFunction) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *SubscriptionPanel) AddNotificationCallback(notificationCallback NotificationFunction) func() {
	callbackId := self.notificationCallbacks.Add(notificationCallback)
	return func() {
		self.notificationCallbacks.Remove(callbackId)
	}
}

func (self *SubscriptionPanel) State() *PanelState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.stateWithLock()
}

// must be called with `stateLock`
func (self *SubscriptionPanel) stateWithLock() *PanelState {
	return &PanelState{
		Tree:              self.tree,
		ActiveProtocolUrl: self.activeProtocolUrl,
		LastPingTime:      self.cache.LastPingTime,
		Loading:           0 < self.loading,
	}
}

// a copy of the in-memory ping cache
func (self *SubscriptionPanel) Cache() *PingCache {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cache.Clone()
}

// fetch subscriptions, build the tree, apply cached pings, then query the active endpoint
func (self *SubscriptionPanel) Mount(ctx context.Context) error {
	return self.action(ctx, "Load subscriptions", func(ctx context.Context) (string, error) {
		if err := self.refresh(ctx); err != nil {
			return "", err
		}
		if err := self.queryActiveProtocolUrl(ctx); err != nil {
			return "", err
		}
		return "Loaded subscriptions", nil
	})
}

// the active endpoint is queried again while it is unset, e.g. after a failed mount
func (self *SubscriptionPanel) Refresh(ctx context.Context) error {
	return self.action(ctx, "Refresh", func(ctx context.Context) (string, error) {
		if err := self.refresh(ctx); err != nil {
			return "", err
		}
		if self.State().ActiveProtocolUrl == "" {
			if err := self.queryActiveProtocolUrl(ctx); err != nil {
				return "", err
			}
		}
		return "Refreshed subscriptions", nil
	})
}

func (self *SubscriptionPanel) refresh(ctx context.Context) error {
	subscriptions, err := self.api.GetSubscribersSync(ctx)
	if err != nil {
		return err
	}
	tree := BuildTree(subscriptions)
	storedCache := self.loadStoredCache()
	self.commit(func() {
		self.mergeStoredCacheWithLock(storedCache)
		self.tree = ApplyCache(tree, self.cache)
	})
	self.log("refresh %d subscriptions", len(subscriptions))
	return nil
}

// the persisted cache is read on every tree rebuild
// nil when the store cannot be read, since the cache is advisory
func (self *SubscriptionPanel) loadStoredCache() *PingCache {
	storedCache, err := self.cacheStore.Load()
	if err != nil {
		glog.Warningf("[panel]load ping cache failed = %s\n", err)
		return nil
	}
	self.cacheLog("loaded %d pings", storedCache.Len())
	return storedCache
}

// in-memory entries win, since pings that committed while the store was read are newer
func (self *SubscriptionPanel) mergeStoredCacheWithLock(storedCache *PingCache) {
	if storedCache != nil {
		self.cache = MergePingCache(storedCache, self.cache)
	}
}

// commits the server's active endpoint unless a switch committed while it was asked
func (self *SubscriptionPanel) queryActiveProtocolUrl(ctx context.Context) error {
	var activeVersion uint64
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		activeVersion = self.activeVersion
	}()

	activeProtocolUrl, err := self.api.GetCurrentProtocolUrlSync(ctx)
	if err != nil {
		return fmt.Errorf("get active endpoint: %w", err)
	}
	self.commit(func() {
		if self.activeVersion == activeVersion {
			self.setActiveProtocolUrlWithLock(activeProtocolUrl)
		}
	})
	return nil
}

func (self *SubscriptionPanel) setActiveProtocolUrlWithLock(activeProtocolUrl string) {
	self.activeProtocolUrl = activeProtocolUrl
	self.activeVersion += 1
}

// pings exactly `protocolUrls`
func (self *SubscriptionPanel) Ping(ctx context.Context, protocolUrls []string) error {
	return self.action(ctx, "Ping", func(ctx context.Context) (string, error) {
		return self.ping(ctx, protocolUrls)
	})
}

// pings every endpoint of one subscription
func (self *SubscriptionPanel) PingSubscription(ctx context.Context, subscriptionUrl string) error {
	return self.action(ctx, "Ping", func(ctx context.Context) (string, error) {
		root := FindRoot(self.State().Tree, subscriptionUrl)
		if root == nil {
			return "", fmt.Errorf("subscription not found: %s", subscriptionUrl)
		}
		return self.ping(ctx, root.ProtocolUrls())
	})
}

func (self *SubscriptionPanel) PingAll(ctx context.Context) error {
	return self.action(ctx, "Ping", func(ctx context.Context) (string, error) {
		return self.ping(ctx, AllProtocolUrls(self.State().Tree))
	})
}

func (self *SubscriptionPanel) ping(ctx context.Context, protocolUrls []string) (string, error) {
	if len(protocolUrls) == 0 {
		return "Nothing to ping", nil
	}

	pingResults, err := self.api.PingSync(ctx, protocolUrls)
	if err != nil {
		return "", err
	}
	lastPingTime := time.Now().Format(self.settings.LastPingTimeFormat)

	self.commit(func() {
		self.tree, self.cache = ApplyFreshMeasurements(self.tree, self.cache, pingResults, lastPingTime)
	})
	self.storeCache()

	if glog.V(LogLevelTrace) {
		for _, pingResult := range pingResults {
			glog.Infof("[panel]ping %s = %.0fms\n", pingResult.ProtocolUrl, pingResult.Ping)
		}
	}

	return fmt.Sprintf("Pinged %d endpoints", len(pingResults)), nil
}

// writes the latest in-memory cache
func (self *SubscriptionPanel) storeCache() {
	self.storeLock.Lock()
	defer self.storeLock.Unlock()

	cache := self.Cache()
	if err := self.cacheStore.Store(cache); err != nil {
		glog.Warningf("[panel]store ping cache failed = %s\n", err)
		return
	}
	self.cacheLog("stored %d pings", cache.Len())
}

// refetches one subscription and replaces only its root
func (self *SubscriptionPanel) Update(ctx context.Context, subscriptionUrl string) error {
	return self.action(ctx, "Update", func(ctx context.Context) (string, error) {
		if err := self.update(ctx, []string{subscriptionUrl}); err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated %s", DecodeUrl(subscriptionUrl)), nil
	})
}

func (self *SubscriptionPanel) UpdateAll(ctx context.Context) error {
	return self.action(ctx, "Update", func(ctx context.Context) (string, error) {
		tree := self.State().Tree
		subscriptionUrls := make([]string, 0, len(tree))
		for _, root := range tree {
			subscriptionUrls = append(subscriptionUrls, root.Url)
		}
		if len(subscriptionUrls) == 0 {
			return "Nothing to update", nil
		}
		if err := self.update(ctx, subscriptionUrls); err != nil {
			return "", err
		}
		return fmt.Sprintf("Updated %d subscriptions", len(subscriptionUrls)), nil
	})
}

func (self *SubscriptionPanel) update(ctx context.Context, subscriptionUrls []string) error {
	subscriptions, err := self.api.UpdateSubscribersSync(ctx, subscriptionUrls)
	if err != nil {
		return err
	}
	updatedRoots := BuildTree(subscriptions)
	storedCache := self.loadStoredCache()
	self.commit(func() {
		self.mergeStoredCacheWithLock(storedCache)
		self.tree = MergeUpdatedSubtree(self.tree, ApplyCache(updatedRoots, self.cache))
	})
	return nil
}

func (self *SubscriptionPanel) Add(ctx context.Context, subscriptionUrls []string) error {
	return self.action(ctx, "Add", func(ctx context.Context) (string, error) {
		if err := self.api.AddSubscribersSync(ctx, subscriptionUrls); err != nil {
			return "", err
		}
		if err := self.refresh(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Added %d subscriptions", len(subscriptionUrls)), nil
	})
}

func (self *SubscriptionPanel) Remove(ctx context.Context, subscriptionUrls []string) error {
	return self.action(ctx, "Remove", func(ctx context.Context) (string, error) {
		if err := self.api.RemoveSubscribersSync(ctx, subscriptionUrls); err != nil {
			return "", err
		}
		if err := self.refresh(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed %d subscriptions", len(subscriptionUrls)), nil
	})
}

// asks for pasted content in a modal and replaces the endpoints of `subscriptionUrl` with it
// cancel makes no network call and returns `ErrModalCanceled`
func (self *SubscriptionPanel) ImportContent(ctx context.Context, subscriptionUrl string) error {
	input := NewModalInput(self.settings.ImportPlaceholder, true)
	confirmed, err := self.modal.ShowModalSync(
		ctx,
		func(modalSelf *ModalSelf) *ModalContent {
			return &ModalContent{
				Title: self.settings.ImportTitle,
				Body:  DecodeUrl(subscriptionUrl),
				Input: input,
			}
		},
		&ModalOptions{
			ConfirmLabel: "Import",
			CancelLabel:  "Cancel",
		},
	)
	if err != nil {
		return err
	}
	if !confirmed {
		self.log("import %s canceled", subscriptionUrl)
		return ErrModalCanceled
	}

	return self.action(ctx, "Import", func(ctx context.Context) (string, error) {
		content := input.Value()
		if strings.TrimSpace(content) == "" {
			return "", errors.New("import content is empty")
		}
		err := self.api.UpdateSubscriberByContentSync(ctx, &UpdateSubscriberByContentArgs{
			Url:     subscriptionUrl,
			Content: content,
		})
		if err != nil {
			return "", err
		}
		if err := self.refresh(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Imported %s", DecodeUrl(subscriptionUrl)), nil
	})
}

func (self *SubscriptionPanel) Switch(ctx context.Context, protocolUrl string) error {
	return self.action(ctx, "Switch", func(ctx context.Context) (string, error) {
		if err := self.api.SwitchToProtocolUrlSync(ctx, protocolUrl); err != nil {
			return "", err
		}
		self.commit(func() {
			self.setActiveProtocolUrlWithLock(protocolUrl)
		})
		return fmt.Sprintf("Switched to %s", DecodeUrl(protocolUrl)), nil
	})
}

// the server picks the fastest endpoint. The active endpoint is read back afterwards.
func (self *SubscriptionPanel) SwitchFastest(ctx context.Context) error {
	return self.action(ctx, "Switch", func(ctx context.Context) (string, error) {
		if err := self.api.SwitchToFastestProtocolUrlSync(ctx); err != nil {
			return "", err
		}
		if err := self.queryActiveProtocolUrl(ctx); err != nil {
			return "", err
		}
		return fmt.Sprintf("Switched to %s", DecodeUrl(self.State().ActiveProtocolUrl)), nil
	})
}

func (self *SubscriptionPanel) GetConfig(ctx context.Context) (*VpnConfig, error) {
	var config *VpnConfig
	err := self.action(ctx, "Get config", func(ctx context.Context) (string, error) {
		var err error
		config, err = self.api.GetConfigSync(ctx)
		return "", err
	})
	return config, err
}

func (self *SubscriptionPanel) SetConfig(ctx context.Context, config *VpnConfig) error {
	return self.action(ctx, "Set config", func(ctx context.Context) (string, error) {
		if err := ValidateVpnConfig(config); err != nil {
			return "", err
		}
		if err := self.api.SetConfigSync(ctx, config); err != nil {
			return "", err
		}
		return "Saved config", nil
	})
}

func (self *SubscriptionPanel) Restart(ctx context.Context) error {
	return self.action(ctx, "Restart", func(ctx context.Context) (string, error) {
		if err := self.api.RestartSync(ctx); err != nil {
			return "", err
		}
		return "Restarted", nil
	})
}

func (self *SubscriptionPanel) Close() {
	self.cancel()
}

// runs one user action
// `do` returns the success message. An empty message means no success notification.
func (self *SubscriptionPanel) action(
	ctx context.Context,
	name string,
	do func(ctx context.Context) (string, error),
) (returnErr error) {
	actionCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(self.ctx, cancel)
	if self.ctx.Err() != nil {
		// closed panel
		cancel()
	}
	defer func() {
		stop()
		cancel()
	}()

	self.commit(func() {
		self.loading += 1
	})
	defer self.commit(func() {
		self.loading -= 1
	})

	var message string
	if r := HandleError(func() {
		message, returnErr = do(actionCtx)
	}); r != nil {
		returnErr = fmt.Errorf("%s", r)
	}

	if returnErr != nil {
		self.log("%s failed = %s", name, returnErr)
		self.notify(NotificationLevelError, fmt.Sprintf("%s failed: %s", name, errorMessage(returnErr)))
		return
	}
	self.log("%s ok", name)
	if message != "" {
		self.notify(NotificationLevelSuccess, message)
	}
	return
}

// applies `update` to the latest state under `stateLock`, then notifies change callbacks
func (self *SubscriptionPanel) commit(update func()) {
	var state *PanelState
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		update()
		state = self.stateWithLock()
	}()

	for _, changeCallback := range self.changeCallbacks.Get() {
		HandleError(func() {
			changeCallback(state)
		})
	}
}

func (self *SubscriptionPanel) notify(level NotificationLevel, message string) {
	notification := &Notification{
		Id:      NewId(),
		Level:   level,
		Message: message,
		Time:    time.Now(),
	}
	for _, notificationCallback := range self.notificationCallbacks.Get() {
		HandleError(func() {
			notificationCallback(notification)
		})
	}
}

// the server message when the server reported the failure
func errorMessage(err error) string {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}


func ValidateVpnConfig(config *VpnConfig) error {
	if config == nil {
		return errors.New("missing config")
	}
	port, err := strconv.Atoi(strings.TrimSpace(config.Port))
	if err != nil {
		return fmt.Errorf("invalid port \"%s\"", config.Port)
	}
	if port < 1 || 65535 < port {
		return fmt.Errorf("port must be between 1 and 65535: %d", port)
	}
	return nil
}
