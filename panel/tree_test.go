package panel

import (
	"testing"

	"github.com/go-playground/assert/v2"
)


func testSubscriptions() []*Subscription {
	return []*Subscription{
		&Subscription{
			Url:          "https://sub.example/a",
			ProtocolUrls: []string{"ss://a0#A0", "ss://a1#A1"},
		},
		&Subscription{
			Url:          "https://sub.example/b",
			ProtocolUrls: []string{"ss://b0#B0", "ss://b1#B1", "ss://b2#B2"},
		},
	}
}

func pingOf(node *DisplayNode) float64 {
	if node.Ping == nil {
		return -1
	}
	return *node.Ping
}


func TestBuildTree(t *testing.T) {
	tree := BuildTree(testSubscriptions())

	assert.Equal(t, len(tree), 2)
	assert.Equal(t, tree[0].Key, "0")
	assert.Equal(t, tree[0].Url, "https://sub.example/a")
	assert.Equal(t, tree[0].IsLeaf, false)
	assert.Equal(t, tree[0].Ping == nil, true)
	assert.Equal(t, len(tree[0].Children), 2)
	assert.Equal(t, tree[1].Key, "1")
	assert.Equal(t, len(tree[1].Children), 3)

	for i, root := range tree {
		for j, child := range root.Children {
			assert.Equal(t, child.Key, leafKey(i, j))
			assert.Equal(t, child.IsLeaf, true)
			assert.Equal(t, child.Ping == nil, true)
		}
	}
	assert.Equal(t, tree[1].Children[2].Url, "ss://b2#B2")
	assert.Equal(t, tree[1].Children[2].Label(), "B2")
}

func TestBuildTreeIdempotent(t *testing.T) {
	a := BuildTree(testSubscriptions())
	b := BuildTree(testSubscriptions())
	assert.Equal(t, a, b)
}

func TestBuildTreeKeepsDuplicates(t *testing.T) {
	tree := BuildTree([]*Subscription{
		&Subscription{
			Url:          "https://sub.example/a",
			ProtocolUrls: []string{"ss://x", "ss://x"},
		},
		nil,
	})
	assert.Equal(t, len(tree), 2)
	assert.Equal(t, len(tree[0].Children), 2)
	assert.Equal(t, tree[0].Children[1].Key, "0-1")
	assert.Equal(t, tree[1].Key, "1")
	assert.Equal(t, len(tree[1].Children), 0)
}

func TestApplyCache(t *testing.T) {
	tree := BuildTree(testSubscriptions())
	cache := &PingCache{
		PingResults: map[string]float64{
			"ss://a1#A1":  120,
			"ss://b0#B0":  80,
			"ss://gone#G": 5,
		},
	}

	nextTree := ApplyCache(tree, cache)
	assert.Equal(t, pingOf(nextTree[0].Children[0]), float64(-1))
	assert.Equal(t, pingOf(nextTree[0].Children[1]), float64(120))
	assert.Equal(t, pingOf(nextTree[1].Children[0]), float64(80))
	// roots never carry a ping
	assert.Equal(t, nextTree[0].Ping == nil, true)
	assert.Equal(t, nextTree[1].Ping == nil, true)

	// input is not modified
	assert.Equal(t, tree[0].Children[1].Ping == nil, true)

	// no cache
	emptyTree := ApplyCache(tree, nil)
	assert.Equal(t, emptyTree[0].Children[1].Ping == nil, true)
}

func TestApplyFreshMeasurementsSubset(t *testing.T) {
	// scenario: ping A only with B=50 cached
	tree := BuildTree([]*Subscription{
		&Subscription{
			Url:          "https://sub.example/a",
			ProtocolUrls: []string{"ss://A", "ss://B"},
		},
	})
	cache := &PingCache{
		PingResults: map[string]float64{
			"ss://B":   50,
			"ss://old": 10,
		},
		LastPingTime: "earlier",
	}
	tree = ApplyCache(tree, cache)

	nextTree, nextCache := ApplyFreshMeasurements(
		tree,
		cache,
		[]*PingResult{
			&PingResult{ProtocolUrl: "ss://A", Ping: 33},
		},
		"now",
	)

	assert.Equal(t, nextCache.PingResults, map[string]float64{
		"ss://A":   33,
		"ss://B":   50,
		"ss://old": 10,
	})
	assert.Equal(t, nextCache.LastPingTime, "now")
	assert.Equal(t, pingOf(nextTree[0].Children[0]), float64(33))
	assert.Equal(t, pingOf(nextTree[0].Children[1]), float64(50))

	// the previous cache is untouched
	assert.Equal(t, len(cache.PingResults), 2)
	assert.Equal(t, cache.LastPingTime, "earlier")
	assert.Equal(t, pingOf(tree[0].Children[0]), float64(-1))
}

func TestApplyFreshMeasurementsLatestWins(t *testing.T) {
	tree := BuildTree([]*Subscription{
		&Subscription{
			Url:          "https://sub.example/a",
			ProtocolUrls: []string{"ss://A"},
		},
	})
	cache := &PingCache{
		PingResults: map[string]float64{
			"ss://A": 500,
		},
	}

	nextTree, nextCache := ApplyFreshMeasurements(
		tree,
		cache,
		[]*PingResult{
			&PingResult{ProtocolUrl: "ss://A", Ping: 40},
			&PingResult{ProtocolUrl: "ss://A", Ping: 20},
		},
		"",
	)
	assert.Equal(t, pingOf(nextTree[0].Children[0]), float64(20))
	assert.Equal(t, nextCache.PingResults["ss://A"], float64(20))

	// nil cache starts empty
	_, nextCache = ApplyFreshMeasurements(tree, nil, []*PingResult{
		&PingResult{ProtocolUrl: "ss://A", Ping: 7},
	}, "t")
	assert.Equal(t, nextCache.PingResults, map[string]float64{"ss://A": 7})
}

func TestMergeUpdatedSubtreeEmpty(t *testing.T) {
	tree := BuildTree(testSubscriptions())

	merged := MergeUpdatedSubtree(tree, nil)
	assert.Equal(t, len(merged), len(tree))
	assert.Equal(t, &merged[0] == &tree[0], true)

	merged = MergeUpdatedSubtree(tree, []*DisplayNode{})
	assert.Equal(t, &merged[0] == &tree[0], true)
}

func TestMergeUpdatedSubtree(t *testing.T) {
	tree := ApplyCache(BuildTree(testSubscriptions()), &PingCache{
		PingResults: map[string]float64{
			"ss://a0#A0": 11,
			"ss://b1#B1": 22,
		},
	})

	// subscription b now has a different set of endpoints
	updatedRoots := ApplyCache(BuildTree([]*Subscription{
		&Subscription{
			Url:          "https://sub.example/b",
			ProtocolUrls: []string{"ss://b9#B9", "ss://b1#B1"},
		},
		&Subscription{
			Url:          "https://sub.example/unknown",
			ProtocolUrls: []string{"ss://u"},
		},
	}), &PingCache{
		PingResults: map[string]float64{
			"ss://b1#B1": 22,
		},
	})

	merged := MergeUpdatedSubtree(tree, updatedRoots)
	assert.Equal(t, len(merged), 2)

	// sibling roots are the same nodes
	assert.Equal(t, merged[0] == tree[0], true)
	assert.Equal(t, pingOf(merged[0].Children[0]), float64(11))

	// replaced root takes the replaced position
	assert.Equal(t, merged[1].Key, "1")
	assert.Equal(t, merged[1].Url, "https://sub.example/b")
	assert.Equal(t, merged[1].ProtocolUrls(), []string{"ss://b9#B9", "ss://b1#B1"})
	assert.Equal(t, merged[1].Children[0].Key, "1-0")
	assert.Equal(t, merged[1].Children[1].Key, "1-1")
	assert.Equal(t, pingOf(merged[1].Children[0]), float64(-1))
	assert.Equal(t, pingOf(merged[1].Children[1]), float64(22))
	assert.Equal(t, merged[1].Ping == nil, true)

	// the input tree is untouched
	assert.Equal(t, len(tree[1].Children), 3)
}

func TestActiveAndFastestLeaf(t *testing.T) {
	tree := ApplyCache(BuildTree(testSubscriptions()), &PingCache{
		PingResults: map[string]float64{
			"ss://a0#A0": 90,
			"ss://a1#A1": -1,
			"ss://b2#B2": 30,
		},
	})

	assert.Equal(t, ActiveLeaf(tree, "ss://b1#B1").Key, "1-1")
	assert.Equal(t, ActiveLeaf(tree, "ss://none") == nil, true)
	assert.Equal(t, ActiveLeaf(tree, "") == nil, true)

	assert.Equal(t, FastestLeaf(tree).Url, "ss://b2#B2")
	assert.Equal(t, FastestLeaf(BuildTree(testSubscriptions())) == nil, true)

	assert.Equal(t, len(AllProtocolUrls(tree)), 5)
	assert.Equal(t, FindRoot(tree, "https://sub.example/b").Key, "1")
	assert.Equal(t, FindRoot(tree, "https://sub.example/z") == nil, true)
}
