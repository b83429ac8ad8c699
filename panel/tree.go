package panel

import (
	"fmt"

	"golang.org/x/exp/maps"
)


// Display tree:
// - two levels. Roots are subscriptions, leaves are protocol urls.
// - keys are positional, `i` for roots and `i-j` for leaves
// - trees are values. Functions here never mutate their inputs and share
//   untouched roots between the input and output trees.
// - pings are set on leaves only and only from the ping cache


type DisplayNode struct {
	Key      string         `json:"key"`
	Url      string         `json:"url"`
	IsLeaf   bool           `json:"isLeaf"`
	Ping     *float64       `json:"ping,omitempty"`
	Children []*DisplayNode `json:"children,omitempty"`
}

func (self *DisplayNode) Label() string {
	return DecodeUrl(self.Url)
}

func (self *DisplayNode) ProtocolUrls() []string {
	protocolUrls := make([]string, 0, len(self.Children))
	for _, child := range self.Children {
		protocolUrls = append(protocolUrls, child.Url)
	}
	return protocolUrls
}


func rootKey(i int) string {
	return fmt.Sprintf("%d", i)
}

func leafKey(i int, j int) string {
	return fmt.Sprintf("%d-%d", i, j)
}


func BuildTree(subscriptions []*Subscription) []*DisplayNode {
	tree := make([]*DisplayNode, 0, len(subscriptions))
	for i, subscription := range subscriptions {
		root := &DisplayNode{
			Key:    rootKey(i),
			IsLeaf: false,
		}
		if subscription != nil {
			root.Url = subscription.Url
			root.Children = make([]*DisplayNode, 0, len(subscription.ProtocolUrls))
			for j, protocolUrl := range subscription.ProtocolUrls {
				root.Children = append(root.Children, &DisplayNode{
					Key:    leafKey(i, j),
					Url:    protocolUrl,
					IsLeaf: true,
				})
			}
		}
		tree = append(tree, root)
	}
	return tree
}


func ApplyCache(tree []*DisplayNode, cache *PingCache) []*DisplayNode {
	nextTree := make([]*DisplayNode, 0, len(tree))
	for _, root := range tree {
		nextRoot := &DisplayNode{
			Key:    root.Key,
			Url:    root.Url,
			IsLeaf: root.IsLeaf,
		}
		if root.Children != nil {
			nextRoot.Children = make([]*DisplayNode, 0, len(root.Children))
			for _, child := range root.Children {
				nextChild := &DisplayNode{
					Key:    child.Key,
					Url:    child.Url,
					IsLeaf: child.IsLeaf,
				}
				if ping, ok := cache.Get(child.Url); ok {
					nextChild.Ping = &ping
				}
				nextRoot.Children = append(nextRoot.Children, nextChild)
			}
		}
		nextTree = append(nextTree, nextRoot)
	}
	return nextTree
}


// returns the next tree and the next cache
// the next cache is the previous cache with one entry overwritten per ping result.
// Entries not named in `pingResults` are kept unchanged.
// An empty `lastPingTime` keeps the previous one.
func ApplyFreshMeasurements(
	tree []*DisplayNode,
	cache *PingCache,
	pingResults []*PingResult,
	lastPingTime string,
) ([]*DisplayNode, *PingCache) {
	nextPingResults := map[string]float64{}
	if cache != nil {
		nextPingResults = maps.Clone(cache.PingResults)
		if nextPingResults == nil {
			nextPingResults = map[string]float64{}
		}
	}
	for _, pingResult := range pingResults {
		if pingResult == nil {
			continue
		}
		nextPingResults[pingResult.ProtocolUrl] = pingResult.Ping
	}
	if lastPingTime == "" && cache != nil {
		lastPingTime = cache.LastPingTime
	}
	nextCache := &PingCache{
		PingResults:  nextPingResults,
		LastPingTime: lastPingTime,
	}
	return ApplyCache(tree, nextCache), nextCache
}


// replaces each root whose url matches an updated root
// the replacement takes the key position of the root it replaces.
// Updated roots with no matching root are ignored.
func MergeUpdatedSubtree(tree []*DisplayNode, updatedRoots []*DisplayNode) []*DisplayNode {
	if len(updatedRoots) == 0 {
		return tree
	}

	updatedRootsByUrl := map[string]*DisplayNode{}
	for _, updatedRoot := range updatedRoots {
		if updatedRoot == nil {
			continue
		}
		updatedRootsByUrl[updatedRoot.Url] = updatedRoot
	}

	nextTree := make([]*DisplayNode, 0, len(tree))
	for i, root := range tree {
		if updatedRoot, ok := updatedRootsByUrl[root.Url]; ok {
			nextTree = append(nextTree, rekeyRoot(updatedRoot, i))
		} else {
			nextTree = append(nextTree, root)
		}
	}
	return nextTree
}

func rekeyRoot(root *DisplayNode, i int) *DisplayNode {
	nextRoot := &DisplayNode{
		Key:    rootKey(i),
		Url:    root.Url,
		IsLeaf: false,
	}
	if root.Children != nil {
		nextRoot.Children = make([]*DisplayNode, 0, len(root.Children))
		for j, child := range root.Children {
			nextRoot.Children = append(nextRoot.Children, &DisplayNode{
				Key:    leafKey(i, j),
				Url:    child.Url,
				IsLeaf: true,
				Ping:   child.Ping,
			})
		}
	}
	return nextRoot
}


func FindRoot(tree []*DisplayNode, subscriptionUrl string) *DisplayNode {
	for _, root := range tree {
		if root.Url == subscriptionUrl {
			return root
		}
	}
	return nil
}

// the first leaf with the url, which is the one rendered as active
func ActiveLeaf(tree []*DisplayNode, activeProtocolUrl string) *DisplayNode {
	if activeProtocolUrl == "" {
		return nil
	}
	for _, root := range tree {
		for _, child := range root.Children {
			if child.Url == activeProtocolUrl {
				return child
			}
		}
	}
	return nil
}

// the leaf with the lowest cached ping. Negative pings are failed measurements and are skipped.
func FastestLeaf(tree []*DisplayNode) *DisplayNode {
	var fastest *DisplayNode
	for _, root := range tree {
		for _, child := range root.Children {
			if child.Ping == nil || *child.Ping < 0 {
				continue
			}
			if fastest == nil || *child.Ping < *fastest.Ping {
				fastest = child
			}
		}
	}
	return fastest
}

func AllProtocolUrls(tree []*DisplayNode) []string {
	protocolUrls := []string{}
	for _, root := range tree {
		protocolUrls = append(protocolUrls, root.ProtocolUrls()...)
	}
	return protocolUrls
}
