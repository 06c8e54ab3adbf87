package services

import (
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// folderIndex is a flat view of one owner's folders, built from a single
// listing.
type folderIndex struct {
	byID     map[string]*models.Folder
	children map[string][]string
	roots    []string
}

func newFolderIndex(all []*models.Folder) *folderIndex {
	idx := &folderIndex{
		byID:     make(map[string]*models.Folder, len(all)),
		children: make(map[string][]string),
	}
	for _, f := range all {
		idx.byID[f.ID] = f
	}
	for _, f := range all {
		if f.ParentID == nil {
			idx.roots = append(idx.roots, f.ID)
			continue
		}
		idx.children[*f.ParentID] = append(idx.children[*f.ParentID], f.ID)
	}
	return idx
}

// reaches reports whether walking up from start hits target. A parent chain
// longer than the index is itself a cycle and counts as reaching.
func (idx *folderIndex) reaches(start, target string) bool {
	cur := start
	for steps := 0; steps <= len(idx.byID); steps++ {
		if cur == target {
			return true
		}
		f, ok := idx.byID[cur]
		if !ok || f.ParentID == nil {
			return false
		}
		cur = *f.ParentID
	}
	return true
}

// subtree returns root and every folder below it, breadth first.
func (idx *folderIndex) subtree(root string) []string {
	out := []string{root}
	seen := map[string]struct{}{root: {}}
	for i := 0; i < len(out); i++ {
		for _, c := range idx.children[out[i]] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// buildTree assembles the forest of live folders without recursion. Folders
// below a trashed or missing parent are not reachable and are left out.
// Nodes deeper than maxDepth are not expanded.
func buildTree(live []*models.Folder, name func(*models.Folder) string, maxDepth int) []*models.TreeNode {
	idx := newFolderIndex(live)

	type frame struct {
		node  *models.TreeNode
		depth int
	}

	roots := make([]*models.TreeNode, 0, len(idx.roots))
	stack := make([]frame, 0, len(idx.roots))
	for _, id := range idx.roots {
		n := newTreeNode(idx.byID[id], name)
		roots = append(roots, n)
		stack = append(stack, frame{node: n, depth: 1})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.depth >= maxDepth {
			continue
		}
		for _, cid := range idx.children[top.node.ID] {
			child := newTreeNode(idx.byID[cid], name)
			top.node.Children = append(top.node.Children, child)
			stack = append(stack, frame{node: child, depth: top.depth + 1})
		}
	}
	return roots
}

func newTreeNode(f *models.Folder, name func(*models.Folder) string) *models.TreeNode {
	return &models.TreeNode{
		ID:       f.ID,
		Name:     name(f),
		ParentID: f.ParentID,
		Children: []*models.TreeNode{},
	}
}
