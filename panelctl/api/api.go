package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/bringyour/proxypanel/panel"
)


type Api struct {
	server *http.Server
	router *gin.Engine
	panel  *panel.SubscriptionPanel
	hub    *Hub

	// actions started by the web panel outlive their request
	ctx    context.Context
	cancel context.CancelFunc

	unsubs []func()
}

type ApiOptions struct {
	ListenAddr string
	Panel      *panel.SubscriptionPanel
	// must be the surface of the panel's modal controller for browsers to see modals
	Hub *Hub
}

func (o *ApiOptions) AreValid() error {
	if o.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if o.Panel == nil {
		return fmt.Errorf("panel is required")
	}
	if o.Hub == nil {
		return fmt.Errorf("hub is required")
	}
	return nil
}

// routes are wired but nothing listens
func NewApi(o ApiOptions) (*Api, error) {
	if err := o.AreValid(); err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	api := &Api{
		panel:  o.Panel,
		hub:    o.Hub,
		ctx:    ctx,
		cancel: cancel,
	}

	router := gin.Default()

	router.GET("/ws", func(c *gin.Context) { api.websocket(c) })

	group := router.Group("/api")
	group.GET("/state", func(c *gin.Context) { api.getState(c) })
	group.POST("/refresh", func(c *gin.Context) { api.refresh(c) })
	// body `{"protocolUrls": [...]}`
	group.POST("/ping", func(c *gin.Context) { api.ping(c) })
	group.POST("/ping/subscription", func(c *gin.Context) { api.pingSubscription(c) })
	group.POST("/ping/all", func(c *gin.Context) { api.pingAll(c) })
	group.POST("/update", func(c *gin.Context) { api.update(c) })
	group.POST("/update/all", func(c *gin.Context) { api.updateAll(c) })
	group.POST("/subscriptions", func(c *gin.Context) { api.addSubscriptions(c) })
	group.DELETE("/subscriptions", func(c *gin.Context) { api.removeSubscriptions(c) })
	group.POST("/import", func(c *gin.Context) { api.importContent(c) })
	group.GET("/modal", func(c *gin.Context) { api.getModal(c) })
	group.POST("/modal/:session_id/close", func(c *gin.Context) { api.closeModal(c) })
	group.POST("/switch", func(c *gin.Context) { api.switchProtocolUrl(c) })
	group.POST("/switch/fastest", func(c *gin.Context) { api.switchFastest(c) })
	group.GET("/config", func(c *gin.Context) { api.getConfig(c) })
	group.PUT("/config", func(c *gin.Context) { api.setConfig(c) })
	group.POST("/restart", func(c *gin.Context) { api.restart(c) })

	api.router = router

	api.unsubs = append(
		api.unsubs,
		o.Panel.AddChangeCallback(func(state *panel.PanelState) {
			api.hub.Broadcast(&Event{
				Type: EventTypeState,
				Data: NewStateView(state),
			})
		}),
		o.Panel.AddNotificationCallback(func(notification *panel.Notification) {
			api.hub.Broadcast(&Event{
				Type: EventTypeNotification,
				Data: notification,
			})
		}),
	)

	return api, nil
}

func StartApi(o ApiOptions, errorCallback func(err error)) (*Api, error) {
	api, err := NewApi(o)
	if err != nil {
		return nil, err
	}

	// wrap Gin router in an HTTP server
	api.server = &http.Server{
		Addr:    o.ListenAddr,
		Handler: api.router,
	}
	glog.Infof("[api]listening on %s\n", o.ListenAddr)

	// start server in goroutine
	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errorCallback(err)
			return
		}
	}()

	return api, nil
}

func (a *Api) Handler() http.Handler {
	return a.router
}

func (a *Api) StopApi() error {
	a.cancel()
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	a.hub.Close()

	if a.server == nil {
		return nil
	}
	// try to shutdown the server gracefully (wait max 5 secs to finish pending requests)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.server = nil
	return nil
}


type urlArgs struct {
	Url string `json:"url" binding:"required"`
}

type urlsArgs struct {
	Urls []string `json:"urls" binding:"required"`
}

type pingArgs struct {
	ProtocolUrls []string `json:"protocolUrls" binding:"required"`
}

type switchArgs struct {
	ProtocolUrl string `json:"protocolUrl" binding:"required"`
}

type closeModalArgs struct {
	Result bool `json:"result"`
	// written to the modal input before closing
	Value *string `json:"value"`
}


func (a *Api) websocket(context *gin.Context) {
	a.hub.serve(
		context.Writer,
		context.Request,
		&Event{
			Type: EventTypeState,
			Data: NewStateView(a.panel.State()),
		},
		&Event{
			Type: EventTypeModalOpen,
			Data: NewModalView(a.panel.Modal().Session()),
		},
	)
}

func (a *Api) getState(context *gin.Context) {
	context.JSON(http.StatusOK, NewStateView(a.panel.State()))
}

func (a *Api) refresh(context *gin.Context) {
	a.respond(context, a.panel.Refresh(context.Request.Context()))
}

func (a *Api) ping(context *gin.Context) {
	var args pingArgs
	if !bindJson(context, &args) {
		return
	}
	a.respond(context, a.panel.Ping(context.Request.Context(), args.ProtocolUrls))
}

func (a *Api) pingSubscription(context *gin.Context) {
	var args urlArgs
	if !bindJson(context, &args) {
		return
	}
	a.respond(context, a.panel.PingSubscription(context.Request.Context(), args.Url))
}

func (a *Api) pingAll(context *gin.Context) {
	a.respond(context, a.panel.PingAll(context.Request.Context()))
}

func (a *Api) update(context *gin.Context) {
	var args urlArgs
	if !bindJson(context, &args) {
		return
	}
	a.respond(context, a.panel.Update(context.Request.Context(), args.Url))
}

func (a *Api) updateAll(context *gin.Context) {
	a.respond(context, a.panel.UpdateAll(context.Request.Context()))
}

func (a *Api) addSubscriptions(context *gin.Context) {
	var args urlsArgs
	if !bindJson(context, &args) {
		return
	}
	a.respond(context, a.panel.Add(context.Request.Context(), args.Urls))
}

func (a *Api) removeSubscriptions(context *gin.Context) {
	var args urlsArgs
	if !bindJson(context, &args) {
		return
	}
	a.respond(context, a.panel.Remove(context.Request.Context(), args.Urls))
}

// the import waits on the modal, so it runs past this request
// browsers see the modal on the websocket and answer with `/modal/:session_id/close`
func (a *Api) importContent(context *gin.Context) {
	var args urlArgs
	if !bindJson(context, &args) {
		return
	}
	go panel.HandleError(func() {
		err := a.panel.ImportContent(a.ctx, args.Url)
		if err != nil && !errors.Is(err, panel.ErrModalCanceled) {
			glog.Infof("[api]import %s = %s\n", args.Url, err)
		}
	})
	context.JSON(http.StatusAccepted, NewStateView(a.panel.State()))
}

func (a *Api) getModal(context *gin.Context) {
	context.JSON(http.StatusOK, NewModalView(a.panel.Modal().Session()))
}

func (a *Api) closeModal(context *gin.Context) {
	sessionId, err := panel.ParseId(context.Param("session_id"))
	if err != nil {
		context.String(http.StatusBadRequest, fmt.Sprintf("%d Bad Request - Invalid session id %q", http.StatusBadRequest, context.Param("session_id")))
		return
	}
	var args closeModalArgs
	if !bindJson(context, &args) {
		return
	}

	modal := a.panel.Modal()
	if args.Value != nil {
		if session := modal.Session(); session != nil && session.SessionId == sessionId && session.Content.Input != nil {
			session.Content.Input.SetValue(*args.Value)
		}
	}
	if !modal.CloseSession(sessionId, args.Result) {
		context.String(http.StatusConflict, fmt.Sprintf("%d Conflict - Modal %s is not open", http.StatusConflict, sessionId))
		return
	}
	context.JSON(http.StatusOK, NewModalView(modal.Session()))
}

func (a *Api) switchProtocolUrl(context *gin.Context) {
	var args switchArgs
	if !bindJson(context, &args) {
		return
	}
	a.respond(context, a.panel.Switch(context.Request.Context(), args.ProtocolUrl))
}

func (a *Api) switchFastest(context *gin.Context) {
	a.respond(context, a.panel.SwitchFastest(context.Request.Context()))
}

func (a *Api) getConfig(context *gin.Context) {
	config, err := a.panel.GetConfig(context.Request.Context())
	if err != nil {
		respondError(context, err)
		return
	}
	context.JSON(http.StatusOK, config)
}

func (a *Api) setConfig(context *gin.Context) {
	var config panel.VpnConfig
	if !bindJson(context, &config) {
		return
	}
	if err := panel.ValidateVpnConfig(&config); err != nil {
		context.String(http.StatusBadRequest, fmt.Sprintf("%d Bad Request - %v", http.StatusBadRequest, err))
		return
	}
	if err := a.panel.SetConfig(context.Request.Context(), &config); err != nil {
		respondError(context, err)
		return
	}
	context.JSON(http.StatusOK, &config)
}

func (a *Api) restart(context *gin.Context) {
	a.respond(context, a.panel.Restart(context.Request.Context()))
}

// answers with the state after the action
func (a *Api) respond(context *gin.Context, err error) {
	if err != nil {
		respondError(context, err)
		return
	}
	context.JSON(http.StatusOK, NewStateView(a.panel.State()))
}

func respondError(context *gin.Context, err error) {
	if panel.IsApiError(err) {
		// the panel server refused
		context.String(http.StatusUnprocessableEntity, fmt.Sprintf("%d Unprocessable Entity - %v", http.StatusUnprocessableEntity, err))
		return
	}
	context.String(http.StatusBadGateway, fmt.Sprintf("%d Bad Gateway - %v", http.StatusBadGateway, err))
}

func bindJson(context *gin.Context, args any) bool {
	if err := context.ShouldBindJSON(args); err != nil {
		context.String(http.StatusBadRequest, fmt.Sprintf("%d Bad Request - %v", http.StatusBadRequest, err))
		return false
	}
	return true
}
