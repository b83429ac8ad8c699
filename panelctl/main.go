package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/bringyour/proxypanel/panel"
	"github.com/bringyour/proxypanel/panelctl/api"
)


const PanelCtlVersion = "0.0.1"


func main() {
	usage := fmt.Sprintf(
		`Proxy panel control.

The default urls are:
    api_url: %s
    listen: %s

Usage:
    panelctl list [options]
    panelctl add <url>... [options]
    panelctl remove <url>... [options]
    panelctl update [<url>...] [options]
    panelctl import <subscription_url> [--content=<content>] [options]
    panelctl ping [<protocol_url>...] [--sub=<sub_url>] [options]
    panelctl switch <endpoint_url> [options]
    panelctl switch-fastest [options]
    panelctl config get [options]
    panelctl config set --port=<port> [options]
    panelctl restart [options]
    panelctl cli [options]
    panelctl serve [options]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --config=<config>        Yaml config file with api_url, cache, jwt, listen and timeout.
    --api_url=<api_url>      Panel server api url.
    --cache=<cache>          Ping cache directory. The cache is kept in memory when not set.
    --jwt=<jwt>              Bearer jwt for the panel server. Use - to enter it on the terminal.
    --listen=<listen>        Web panel listen address for serve.
    --timeout=<timeout>      Request timeout, e.g. 10s.
    --content=<content>      Subscription content to import without prompting.
    --sub=<sub_url>          Ping every endpoint of one subscription.
    --port=<port>            Local proxy port.
    -v=<level>               Log verbosity [default: 0].`,
		panel.DefaultApiUrl,
		DefaultListenAddr,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PanelCtlVersion)
	if err != nil {
		panic(err)
	}

	initGlog(opts)
	defer glog.Flush()

	config, err := panelCtlConfig(opts)
	if err != nil {
		exit(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if list_, _ := opts.Bool("list"); list_ {
		err = list(ctx, config)
	} else if add_, _ := opts.Bool("add"); add_ {
		err = add(ctx, config, opts)
	} else if remove_, _ := opts.Bool("remove"); remove_ {
		err = remove(ctx, config, opts)
	} else if update_, _ := opts.Bool("update"); update_ {
		err = update(ctx, config, opts)
	} else if import_, _ := opts.Bool("import"); import_ {
		err = importContent(ctx, config, opts)
	} else if ping_, _ := opts.Bool("ping"); ping_ {
		err = ping(ctx, config, opts)
	} else if switch_, _ := opts.Bool("switch"); switch_ {
		err = switchProtocolUrl(ctx, config, opts)
	} else if switchFastest_, _ := opts.Bool("switch-fastest"); switchFastest_ {
		err = switchFastest(ctx, config)
	} else if config_, _ := opts.Bool("config"); config_ {
		if get_, _ := opts.Bool("get"); get_ {
			err = getConfig(ctx, config)
		} else {
			err = setConfig(ctx, config, opts)
		}
	} else if restart_, _ := opts.Bool("restart"); restart_ {
		err = restart(ctx, config)
	} else if cli_, _ := opts.Bool("cli"); cli_ {
		err = cli(ctx, config)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		err = serve(ctx, config)
	} else {
		docopt.PrintHelpAndExit(nil, usage)
	}

	if err != nil {
		exit(err)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	if level, err := opts.String("-v"); err == nil {
		flag.Set("v", level)
	}
}

func exit(err error) {
	if errors.Is(err, panel.ErrModalCanceled) {
		fmt.Fprintf(os.Stderr, "Canceled.\n")
	} else {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
	}
	glog.Flush()
	os.Exit(1)
}


// everything one command needs
type panelEnv struct {
	api        *panel.ProxyPanelApi
	cacheStore panel.CacheStore
	modal      *panel.ModalController
	panel      *panel.SubscriptionPanel

	unsubs []func()
}

func newPanelEnv(ctx context.Context, config *PanelCtlConfig, surface panel.ModalSurface) (*panelEnv, error) {
	proxyPanelApi := panel.NewProxyPanelApiWithContext(ctx, config.ApiUrl)
	proxyPanelApi.SetHttpTimeout(config.Timeout)

	jwt, err := config.ResolveJwt()
	if err != nil {
		proxyPanelApi.Close()
		return nil, err
	}
	if err := proxyPanelApi.SetByJwt(jwt); err != nil {
		proxyPanelApi.Close()
		return nil, fmt.Errorf("invalid jwt: %w", err)
	}

	var cacheStore panel.CacheStore
	if config.Cache == "" {
		cacheStore = panel.NewMemoryCacheStore()
	} else {
		cacheStore, err = panel.NewPebbleCacheStore(config.Cache)
		if err != nil {
			proxyPanelApi.Close()
			return nil, err
		}
	}

	modal := panel.NewModalController(surface)
	if setter, ok := surface.(interface{ SetModal(*panel.ModalController) }); ok {
		setter.SetModal(modal)
	}

	subscriptionPanel := panel.NewSubscriptionPanel(ctx, proxyPanelApi, cacheStore, modal)

	return &panelEnv{
		api:        proxyPanelApi,
		cacheStore: cacheStore,
		modal:      modal,
		panel:      subscriptionPanel,
	}, nil
}

// prints notifications on stderr
func (self *panelEnv) printNotifications() {
	self.unsubs = append(self.unsubs, self.panel.AddNotificationCallback(func(notification *panel.Notification) {
		RenderNotification(os.Stderr, notification)
	}))
}

func (self *panelEnv) printTree() {
	RenderTree(os.Stdout, self.panel.State(), isTerminal(os.Stdout))
}

func (self *panelEnv) Close() {
	for _, unsub := range self.unsubs {
		unsub()
	}
	self.panel.Close()
	if err := self.cacheStore.Close(); err != nil {
		glog.Warningf("[panelctl]close cache = %s\n", err)
	}
	self.api.Close()
}

// opens an env and mounts the panel
func mountedPanelEnv(ctx context.Context, config *PanelCtlConfig, surface panel.ModalSurface) (*panelEnv, error) {
	env, err := newPanelEnv(ctx, config, surface)
	if err != nil {
		return nil, err
	}
	if err := env.panel.Mount(ctx); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}


func list(ctx context.Context, config *PanelCtlConfig) error {
	env, err := mountedPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	env.printTree()
	return nil
}

func add(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	env, err := newPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	if err := env.panel.Add(ctx, opts["<url>"].([]string)); err != nil {
		return err
	}
	env.printTree()
	return nil
}

func remove(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	env, err := newPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	if err := env.panel.Remove(ctx, opts["<url>"].([]string)); err != nil {
		return err
	}
	env.printTree()
	return nil
}

func update(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	env, err := mountedPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	subscriptionUrls, _ := opts["<url>"].([]string)
	if len(subscriptionUrls) == 0 {
		err = env.panel.UpdateAll(ctx)
	} else {
		for _, subscriptionUrl := range subscriptionUrls {
			if err = env.panel.Update(ctx, subscriptionUrl); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}
	env.printTree()
	return nil
}

func importContent(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	var surface panel.ModalSurface
	if content, err := opts.String("--content"); err == nil {
		surface = NewPresetModalSurface(content, true)
	} else {
		surface = NewTerminalModalSurface(bufio.NewReader(os.Stdin), os.Stdout)
	}

	env, err := mountedPanelEnv(ctx, config, surface)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	subscriptionUrl, _ := opts.String("<subscription_url>")
	if err := env.panel.ImportContent(ctx, subscriptionUrl); err != nil {
		return err
	}
	env.printTree()
	return nil
}

func ping(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	env, err := mountedPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	protocolUrls, _ := opts["<protocol_url>"].([]string)
	if subscriptionUrl, err := opts.String("--sub"); err == nil {
		err = env.panel.PingSubscription(ctx, subscriptionUrl)
		if err != nil {
			return err
		}
	} else if 0 < len(protocolUrls) {
		if err := env.panel.Ping(ctx, protocolUrls); err != nil {
			return err
		}
	} else {
		if err := env.panel.PingAll(ctx); err != nil {
			return err
		}
	}
	env.printTree()
	return nil
}

func switchProtocolUrl(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	env, err := mountedPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	protocolUrl, _ := opts.String("<endpoint_url>")
	if err := env.panel.Switch(ctx, protocolUrl); err != nil {
		return err
	}
	env.printTree()
	return nil
}

func switchFastest(ctx context.Context, config *PanelCtlConfig) error {
	env, err := mountedPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	if err := env.panel.SwitchFastest(ctx); err != nil {
		return err
	}
	env.printTree()
	return nil
}

// config and restart go straight to the api
func getConfig(ctx context.Context, config *PanelCtlConfig) error {
	env, err := newPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	callback, result := panel.NewBlockingApiCallback[*panel.VpnConfig]()
	env.api.GetConfig(callback)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-result:
		if r.Error != nil {
			return r.Error
		}
		fmt.Printf("port: %s\n", r.Result.Port)
		return nil
	}
}

func setConfig(ctx context.Context, config *PanelCtlConfig, opts docopt.Opts) error {
	port, _ := opts.String("--port")
	vpnConfig := &panel.VpnConfig{
		Port: port,
	}
	if err := panel.ValidateVpnConfig(vpnConfig); err != nil {
		return err
	}

	env, err := newPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	callback, result := panel.NewBlockingApiCallback[*panel.EmptyResult]()
	env.api.SetConfig(vpnConfig, callback)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-result:
		if r.Error != nil {
			return r.Error
		}
		fmt.Printf("port: %s\n", vpnConfig.Port)
		return nil
	}
}

func restart(ctx context.Context, config *PanelCtlConfig) error {
	env, err := newPanelEnv(ctx, config, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	callback, result := panel.NewBlockingApiCallback[*panel.EmptyResult]()
	env.api.Restart(callback)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-result:
		if r.Error != nil {
			return r.Error
		}
		fmt.Printf("Restarted.\n")
		return nil
	}
}

func serve(ctx context.Context, config *PanelCtlConfig) error {
	hub := api.NewHub()

	env, err := newPanelEnv(ctx, config, hub)
	if err != nil {
		return err
	}
	defer env.Close()

	// the web panel is usable while the panel server is down
	if err := env.panel.Mount(ctx); err != nil {
		glog.Warningf("[panelctl]mount = %s\n", err)
	}

	errs := make(chan error, 1)
	webApi, err := api.StartApi(
		api.ApiOptions{
			ListenAddr: config.Listen,
			Panel:      env.panel,
			Hub:        hub,
		},
		func(err error) {
			errs <- err
		},
	)
	if err != nil {
		return err
	}
	fmt.Printf("Web panel on http://%s\n", config.Listen)

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	if stopErr := webApi.StopApi(); stopErr != nil {
		glog.Warningf("[panelctl]%s\n", stopErr)
	}
	return err
}
