package docsync

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

const DefaultFileName = "untitled.txt"

var (
	ErrLastTab    = errors.New("cannot close the last tab")
	ErrUnknownTab = errors.New("unknown tab")
)

// Tab is one named text buffer. FileName is the identity.
type Tab struct {
	FileName         string `json:"file_name"`
	Content          string `json:"content"`
	FileType         string `json:"file_type,omitempty"`
	LastEditBy       string `json:"last_edit_by,omitempty"`
	LastSavedContent string `json:"last_saved_content"`
}

// Modified reports whether the tab changed since the last snapshot.
func (t Tab) Modified() bool {
	return t.Content != t.LastSavedContent
}

// TabSet is the editor surface's tab collection. It always holds at least
// one tab and keeps tabs in opening order.
type TabSet struct {
	mu    sync.RWMutex
	order []string
	tabs  map[string]*Tab
}

func NewTabSet(initial ...Tab) *TabSet {
	ts := &TabSet{tabs: map[string]*Tab{}}
	for _, t := range initial {
		ts.Open(t)
	}
	if len(ts.order) == 0 {
		ts.Open(Tab{FileName: DefaultFileName, FileType: "text"})
	}
	return ts
}

// Open adds tab, or replaces the content of an existing tab with the same
// file name. It reports whether a new tab was created.
func (ts *TabSet) Open(tab Tab) bool {
	name := strings.TrimSpace(tab.FileName)
	if name == "" {
		return false
	}
	tab.FileName = name
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if existing, ok := ts.tabs[name]; ok {
		existing.Content = tab.Content
		if tab.FileType != "" {
			existing.FileType = tab.FileType
		}
		if tab.LastEditBy != "" {
			existing.LastEditBy = tab.LastEditBy
		}
		return false
	}
	t := tab
	ts.tabs[name] = &t
	ts.order = append(ts.order, name)
	return true
}

// Close removes a tab. The last remaining tab cannot be closed.
func (ts *TabSet) Close(fileName string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.tabs[fileName]; !ok {
		return errors.Wrap(ErrUnknownTab, fileName)
	}
	if len(ts.order) <= 1 {
		return ErrLastTab
	}
	delete(ts.tabs, fileName)
	for i, n := range ts.order {
		if n == fileName {
			ts.order = append(ts.order[:i], ts.order[i+1:]...)
			break
		}
	}
	return nil
}

// Update overwrites a tab's content. Unknown file names are a no-op.
func (ts *TabSet) Update(fileName, content, editedBy string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.tabs[fileName]
	if !ok {
		return false
	}
	t.Content = content
	if editedBy != "" {
		t.LastEditBy = editedBy
	}
	return true
}

// Apply materializes an accepted remote edit: opens create or replace, changes
// replace the whole buffer, closes remove the tab unless it is the last one.
func (ts *TabSet) Apply(p Proposal) bool {
	editor := p.Sender.Email
	if editor == "" {
		editor = p.Sender.Name
	}
	switch p.Kind {
	case protocol.TypeEditorOpen:
		ts.Open(Tab{FileName: p.FileName, Content: p.Content, FileType: p.FileType, LastEditBy: editor})
		return true
	case protocol.TypeEditorChange:
		return ts.Update(p.FileName, p.Content, editor)
	case protocol.TypeEditorClose:
		return ts.Close(p.FileName) == nil
	}
	return false
}

func (ts *TabSet) Tab(fileName string) (Tab, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.tabs[fileName]
	if !ok {
		return Tab{}, false
	}
	return *t, true
}

// Tabs returns copies in opening order.
func (ts *TabSet) Tabs() []Tab {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]Tab, 0, len(ts.order))
	for _, n := range ts.order {
		out = append(out, *ts.tabs[n])
	}
	return out
}

func (ts *TabSet) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.order)
}

// MarkSaved records the content captured in a snapshot as the saved content.
// Tabs edited after the snapshot keep reporting Modified.
func (ts *TabSet) MarkSaved(snapshot []Tab) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, s := range snapshot {
		if t, ok := ts.tabs[s.FileName]; ok {
			t.LastSavedContent = s.Content
		}
	}
}

func (ts *TabSet) Modified(fileName string) bool {
	t, ok := ts.Tab(fileName)
	return ok && t.Modified()
}

// Restore replaces the whole collection, e.g. from a loaded snapshot. An
// empty slice is ignored.
func (ts *TabSet) Restore(tabs []Tab) {
	if len(tabs) == 0 {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.order = nil
	ts.tabs = map[string]*Tab{}
	for _, t := range tabs {
		if t.FileName == "" {
			continue
		}
		if _, dup := ts.tabs[t.FileName]; dup {
			continue
		}
		tab := t
		ts.tabs[t.FileName] = &tab
		ts.order = append(ts.order, t.FileName)
	}
	if len(ts.order) == 0 {
		ts.tabs[DefaultFileName] = &Tab{FileName: DefaultFileName, FileType: "text"}
		ts.order = []string{DefaultFileName}
	}
}
