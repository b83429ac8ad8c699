package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bringyour/proxypanel/panel"
)


const ansiBold = "\x1b[1m"
const ansiReset = "\x1b[0m"

// a line with only this ends multi-line input
const inputTerminator = "."


// modal sessions as prompts on the terminal
type TerminalModalSurface struct {
	modal  *panel.ModalController
	reader *bufio.Reader
	out    io.Writer
}

func NewTerminalModalSurface(reader *bufio.Reader, out io.Writer) *TerminalModalSurface {
	return &TerminalModalSurface{
		reader: reader,
		out:    out,
	}
}

// must be set before the first modal opens
func (self *TerminalModalSurface) SetModal(modal *panel.ModalController) {
	self.modal = modal
}

func (self *TerminalModalSurface) OpenModal(session *panel.ModalSession) {
	go panel.HandleError(func() {
		result := self.prompt(session)
		self.modal.CloseSession(session.SessionId, result)
	})
}

func (self *TerminalModalSurface) CloseModal(sessionId panel.Id) {
}

// a closed or replaced session reads no further lines, so the next shell line is left for the shell
// a read that is already waiting when the session closes still takes one line
func (self *TerminalModalSurface) prompt(session *panel.ModalSession) bool {
	content := session.Content
	if !self.isOpen(session) {
		return false
	}
	if content.Title != "" {
		fmt.Fprintf(self.out, "%s\n", content.Title)
	}
	if content.Body != "" {
		fmt.Fprintf(self.out, "%s\n", content.Body)
	}

	if input := content.Input; input != nil {
		if input.Multiline {
			fmt.Fprintf(self.out, "%s (end with a line containing only \"%s\"):\n", input.Placeholder, inputTerminator)
			lines := []string{}
			for {
				if !self.isOpen(session) {
					return false
				}
				line, err := self.reader.ReadString('\n')
				line = strings.TrimRight(line, "\r\n")
				if line == inputTerminator {
					break
				}
				if err != nil {
					// eof before the terminator cancels
					return false
				}
				lines = append(lines, line)
			}
			input.SetValue(strings.Join(lines, "\n"))
		} else {
			fmt.Fprintf(self.out, "%s: ", input.Placeholder)
			line, err := self.reader.ReadString('\n')
			if err != nil && line == "" {
				return false
			}
			input.SetValue(strings.TrimRight(line, "\r\n"))
		}
	}

	if !self.isOpen(session) {
		return false
	}
	fmt.Fprintf(self.out, "%s? [y/N] ", session.Options.ConfirmLabel)
	answer, _ := self.reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (self *TerminalModalSurface) isOpen(session *panel.ModalSession) bool {
	current := self.modal.Session()
	return current != nil && current.SessionId == session.SessionId
}


// answers every modal with a fixed value, for non-interactive use
type PresetModalSurface struct {
	modal  *panel.ModalController
	value  string
	result bool
}

func NewPresetModalSurface(value string, result bool) *PresetModalSurface {
	return &PresetModalSurface{
		value:  value,
		result: result,
	}
}

func (self *PresetModalSurface) SetModal(modal *panel.ModalController) {
	self.modal = modal
}

func (self *PresetModalSurface) OpenModal(session *panel.ModalSession) {
	if input := session.Content.Input; input != nil {
		input.SetValue(self.value)
	}
	self.modal.CloseSession(session.SessionId, self.result)
}

func (self *PresetModalSurface) CloseModal(sessionId panel.Id) {
}


func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// roots with their endpoints. The active endpoint is marked `*`.
func RenderTree(w io.Writer, state *panel.PanelState, bold bool) {
	if len(state.Tree) == 0 {
		fmt.Fprintf(w, "No subscriptions.\n")
		return
	}

	activeLeaf := panel.ActiveLeaf(state.Tree, state.ActiveProtocolUrl)

	for _, root := range state.Tree {
		fmt.Fprintf(w, "[%s] %s\n", root.Key, root.Label())
		for _, child := range root.Children {
			mark := " "
			label := child.Label()
			if child == activeLeaf {
				mark = "*"
				if bold {
					label = ansiBold + label + ansiReset
				}
			}
			fmt.Fprintf(w, "  %s [%s] %-40s %s\n", mark, child.Key, label, formatPing(child.Ping))
		}
	}
	if state.LastPingTime != "" {
		fmt.Fprintf(w, "Last ping: %s\n", state.LastPingTime)
	}
}

func formatPing(ping *float64) string {
	switch {
	case ping == nil:
		return "-"
	case *ping < 0:
		return "timeout"
	default:
		return fmt.Sprintf("%.0fms", *ping)
	}
}

func RenderNotification(w io.Writer, notification *panel.Notification) {
	switch notification.Level {
	case panel.NotificationLevelError:
		fmt.Fprintf(w, "error: %s\n", notification.Message)
	default:
		fmt.Fprintf(w, "%s\n", notification.Message)
	}
}
