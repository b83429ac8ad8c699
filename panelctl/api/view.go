package api

import (
	"github.com/bringyour/proxypanel/panel"
)


// display node with the decoded label and the active mark
type NodeView struct {
	Key      string      `json:"key"`
	Url      string      `json:"url"`
	Label    string      `json:"label"`
	IsLeaf   bool        `json:"isLeaf"`
	Ping     *float64    `json:"ping,omitempty"`
	Active   bool        `json:"active,omitempty"`
	Children []*NodeView `json:"children,omitempty"`
}

type StateView struct {
	Tree              []*NodeView `json:"tree"`
	ActiveProtocolUrl string      `json:"activeProtocolUrl"`
	LastPingTime      string      `json:"lastPingTime"`
	Loading           bool        `json:"loading"`
}

func NewStateView(state *panel.PanelState) *StateView {
	activeLeaf := panel.ActiveLeaf(state.Tree, state.ActiveProtocolUrl)

	var newNodeView func(node *panel.DisplayNode) *NodeView
	newNodeView = func(node *panel.DisplayNode) *NodeView {
		nodeView := &NodeView{
			Key:    node.Key,
			Url:    node.Url,
			Label:  node.Label(),
			IsLeaf: node.IsLeaf,
			Ping:   node.Ping,
			Active: node == activeLeaf,
		}
		for _, child := range node.Children {
			nodeView.Children = append(nodeView.Children, newNodeView(child))
		}
		return nodeView
	}

	tree := make([]*NodeView, 0, len(state.Tree))
	for _, root := range state.Tree {
		tree = append(tree, newNodeView(root))
	}
	return &StateView{
		Tree:              tree,
		ActiveProtocolUrl: state.ActiveProtocolUrl,
		LastPingTime:      state.LastPingTime,
		Loading:           state.Loading,
	}
}


type ModalView struct {
	SessionId        panel.Id `json:"sessionId"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	HasInput         bool     `json:"hasInput"`
	InputPlaceholder string   `json:"inputPlaceholder,omitempty"`
	InputMultiline   bool     `json:"inputMultiline,omitempty"`
	ConfirmLabel     string   `json:"confirmLabel"`
	CancelLabel      string   `json:"cancelLabel"`
}

// nil for no session
func NewModalView(session *panel.ModalSession) *ModalView {
	if session == nil {
		return nil
	}
	modalView := &ModalView{
		SessionId:    session.SessionId,
		Title:        session.Content.Title,
		Body:         session.Content.Body,
		ConfirmLabel: session.Options.ConfirmLabel,
		CancelLabel:  session.Options.CancelLabel,
	}
	if input := session.Content.Input; input != nil {
		modalView.HasInput = true
		modalView.InputPlaceholder = input.Placeholder
		modalView.InputMultiline = input.Multiline
	}
	return modalView
}
