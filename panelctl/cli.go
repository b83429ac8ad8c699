package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/mattn/go-shellwords"

	"github.com/bringyour/proxypanel/panel"
)


// one mounted panel for the whole session
func cli(ctx context.Context, config *PanelCtlConfig) error {
	usage := `Proxy panel cli.

Usage:
    panelcli list
    panelcli refresh
    panelcli add <url>...
    panelcli remove <url>...
    panelcli update [<url>...]
    panelcli import <subscription_url>
    panelcli ping [<protocol_url>...] [--sub=<sub_url>]
    panelcli switch <endpoint_url>
    panelcli switch-fastest
    panelcli config get
    panelcli config set --port=<port>
    panelcli restart
    panelcli quit

Options:
    -h --help             Show this screen.
    --version             Show version.
    --sub=<sub_url>       Ping every endpoint of one subscription.
    --port=<port>         Local proxy port.
    `

	// the modal prompts read the same input as the prompt loop
	reader := bufio.NewReader(os.Stdin)
	surface := NewTerminalModalSurface(reader, os.Stdout)

	env, err := newPanelEnv(ctx, config, surface)
	if err != nil {
		return err
	}
	defer env.Close()
	env.printNotifications()

	if err := env.panel.Mount(ctx); err == nil {
		env.printTree()
	}

	docopt.DefaultParser.HelpHandler = func(err error, usage string) {
		if err == nil {
			fmt.Println(usage)
		} else {
			fmt.Fprintf(os.Stderr, "Invalid command or arguments. Use 'panelcli --help' for usage.\n")
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Print("> ")

		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		args, err := shellwords.Parse(input)
		if err != nil {
			docopt.DefaultParser.HelpHandler(err, usage)
			continue
		}

		opts, err := docopt.ParseArgs(usage, args, PanelCtlVersion)
		if err != nil {
			continue
		}

		if quit_, _ := opts.Bool("quit"); quit_ {
			return nil
		}

		// failures are already notified
		if err := cliCommand(ctx, env, opts); err == nil {
			env.printTree()
		} else if errors.Is(err, panel.ErrModalCanceled) {
			fmt.Println("Canceled.")
		}
	}
}

func cliCommand(ctx context.Context, env *panelEnv, opts docopt.Opts) error {
	subscriptionPanel := env.panel

	if list_, _ := opts.Bool("list"); list_ {
		return nil
	} else if refresh_, _ := opts.Bool("refresh"); refresh_ {
		return subscriptionPanel.Refresh(ctx)
	} else if add_, _ := opts.Bool("add"); add_ {
		return subscriptionPanel.Add(ctx, opts["<url>"].([]string))
	} else if remove_, _ := opts.Bool("remove"); remove_ {
		return subscriptionPanel.Remove(ctx, opts["<url>"].([]string))
	} else if update_, _ := opts.Bool("update"); update_ {
		subscriptionUrls, _ := opts["<url>"].([]string)
		if len(subscriptionUrls) == 0 {
			return subscriptionPanel.UpdateAll(ctx)
		}
		for _, subscriptionUrl := range subscriptionUrls {
			if err := subscriptionPanel.Update(ctx, subscriptionUrl); err != nil {
				return err
			}
		}
		return nil
	} else if import_, _ := opts.Bool("import"); import_ {
		subscriptionUrl, _ := opts.String("<subscription_url>")
		return subscriptionPanel.ImportContent(ctx, subscriptionUrl)
	} else if ping_, _ := opts.Bool("ping"); ping_ {
		if subscriptionUrl, err := opts.String("--sub"); err == nil {
			return subscriptionPanel.PingSubscription(ctx, subscriptionUrl)
		}
		protocolUrls, _ := opts["<protocol_url>"].([]string)
		if len(protocolUrls) == 0 {
			return subscriptionPanel.PingAll(ctx)
		}
		return subscriptionPanel.Ping(ctx, protocolUrls)
	} else if switch_, _ := opts.Bool("switch"); switch_ {
		protocolUrl, _ := opts.String("<endpoint_url>")
		return subscriptionPanel.Switch(ctx, protocolUrl)
	} else if switchFastest_, _ := opts.Bool("switch-fastest"); switchFastest_ {
		return subscriptionPanel.SwitchFastest(ctx)
	} else if config_, _ := opts.Bool("config"); config_ {
		if get_, _ := opts.Bool("get"); get_ {
			vpnConfig, err := subscriptionPanel.GetConfig(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("port: %s\n", vpnConfig.Port)
			return nil
		}
		port, _ := opts.String("--port")
		return subscriptionPanel.SetConfig(ctx, &panel.VpnConfig{
			Port: port,
		})
	} else if restart_, _ := opts.Bool("restart"); restart_ {
		return subscriptionPanel.Restart(ctx)
	}
	return nil
}
