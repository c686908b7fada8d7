package inventory

import "sync"

// Graph records the pages visited during a crawl and the links followed
// between them.
type Graph struct {
	mu    sync.Mutex
	pages map[string]*PageNode
	order []string
}

// PageNode is one visited (or attempted) page.
type PageNode struct {
	URL   string
	Depth int
	Dead  bool
	Links []string
}

// NewGraph returns an empty navigation graph.
func NewGraph() *Graph {
	return &Graph{pages: make(map[string]*PageNode)}
}

// AddPage registers a visited page. Re-adding an existing page is a no-op.
func (g *Graph) AddPage(url string, depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pages[url]; ok {
		return
	}
	g.pages[url] = &PageNode{URL: url, Depth: depth}
	g.order = append(g.order, url)
}

// AddLink records a followed link from one page to another.
func (g *Graph) AddLink(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.pages[from]
	if !ok {
		node = &PageNode{URL: from}
		g.pages[from] = node
		g.order = append(g.order, from)
	}
	node.Links = append(node.Links, to)
}

// MarkDead flags a page whose navigation failed.
func (g *Graph) MarkDead(url string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.pages[url]
	if !ok {
		node = &PageNode{URL: url}
		g.pages[url] = node
		g.order = append(g.order, url)
	}
	node.Dead = true
}

// Pages returns the pages in first-seen order.
func (g *Graph) Pages() []PageNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PageNode, 0, len(g.order))
	for _, url := range g.order {
		node := *g.pages[url]
		node.Links = append([]string(nil), node.Links...)
		out = append(out, node)
	}
	return out
}

// DeadLinks returns the URLs marked dead.
func (g *Graph) DeadLinks() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, url := range g.order {
		if g.pages[url].Dead {
			out = append(out, url)
		}
	}
	return out
}
