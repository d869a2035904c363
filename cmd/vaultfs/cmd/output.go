package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/disiqueira/gotree/v3"
	"github.com/fatih/color"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/store"
)

var (
	stdout io.Writer = color.Output
	stderr io.Writer = color.Error

	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgCyan)
	errorColor   = color.New(color.FgRed, color.Bold)
	folderColor  = color.New(color.FgBlue, color.Bold)
	linkColor    = color.New(color.FgMagenta)
)

func printSuccess(format string, args ...any) {
	successColor.Fprintf(stdout, "✓ "+format+"\n", args...)
}

func printInfo(format string, args ...any) {
	infoColor.Fprintf(stdout, format+"\n", args...)
}

func printError(format string, args ...any) {
	errorColor.Fprintf(stderr, "Error: "+format+"\n", args...)
}

// nodeLabel returns the display name of node. Folders end in a slash and
// symlinks in an at sign.
func nodeLabel(node vaultfs.CryptoNode) string {
	switch node.(type) {
	case *vaultfs.CryptoFolder:
		return folderColor.Sprint(node.Name() + "/")
	case *vaultfs.CryptoSymlink:
		return linkColor.Sprint(node.Name() + "@")
	default:
		return node.Name()
	}
}

// formatSize renders a byte count with a binary unit.
func formatSize(n int64) string {
	if n < 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatProgress renders a transfer progress update.
func formatProgress(p store.Progress) string {
	if !p.Bounded() {
		return fmt.Sprintf("%s %s", p.State, formatSize(p.Done))
	}
	return fmt.Sprintf("%s %3d%% of %s", p.State, p.Percent(), formatSize(p.Total))
}

// buildTree returns the tree of everything below folder. Folders that cannot
// be listed are shown with the error.
func buildTree(ctx context.Context, repo *vaultfs.Repository, folder *vaultfs.CryptoFolder) (gotree.Tree, error) {
	root := gotree.New(folder.Path())
	dirs := map[string]gotree.Tree{folder.Path(): root}
	err := repo.Walk(ctx, folder, func(node vaultfs.CryptoNode, err error) error {
		if node.Path() == folder.Path() {
			if err != nil {
				root.Add(errorColor.Sprint(err.Error()))
			}
			return nil
		}
		parent := dirs[node.Parent().Path()]
		branch := parent.Add(nodeLabel(node))
		if err != nil {
			branch.Add(errorColor.Sprint(err.Error()))
			return nil
		}
		if _, ok := node.(*vaultfs.CryptoFolder); ok {
			dirs[node.Path()] = branch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}
