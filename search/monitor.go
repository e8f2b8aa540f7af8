package search

import "github.com/poiesic/qarchive/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query string)
	AfterTokenize(terms []string)
	AfterScoring(candidates int)
	Finish(results []core.ID)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)           {}
func (n *noopMonitor) AfterTokenize(_ []string) {}
func (n *noopMonitor) AfterScoring(_ int)       {}
func (n *noopMonitor) Finish(_ []core.ID)       {}
