package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/store"
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a folder of the selected vault",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Show the folder tree of the selected vault",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTree,
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runMkdir,
}

var putCmd = &cobra.Command{
	Use:   "put <local-file> [path]",
	Short: "Encrypt a local file into the vault",
	Example: `  vaultfs put report.pdf /docs/
  vaultfs put report.pdf /docs/2024.pdf --force`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPut,
}

var getCmd = &cobra.Command{
	Use:   "get <path> [local-file]",
	Short: "Decrypt a file of the vault to the local filesystem",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGet,
}

var mvCmd = &cobra.Command{
	Use:   "mv <source> <target>",
	Short: "Move or rename a file or folder",
	Args:  cobra.ExactArgs(2),
	RunE:  runMv,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a file or folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate-names [path]",
	Short: "Restore full names of shortened entries in format 5 and 6 vaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrate,
}

var (
	lsLong       bool
	mkdirParents bool
	putForce     bool
	putRename    bool
	getForce     bool
	showProgress bool
	rmRecursive  bool
)

func init() {
	rootCmd.AddCommand(lsCmd, treeCmd, mkdirCmd, putCmd, getCmd, mvCmd, rmCmd, migrateCmd)

	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show sizes")
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parent folders")
	putCmd.Flags().BoolVarP(&putForce, "force", "f", false, "Replace an existing file")
	putCmd.Flags().BoolVar(&putRename, "rename", false, "Pick a free name if the target exists")
	getCmd.Flags().BoolVarP(&getForce, "force", "f", false, "Overwrite an existing local file")
	rmCmd.Flags().BoolVarP(&rmRecursive, "recursive", "r", false, "Delete folders with their contents")
	for _, c := range []*cobra.Command{putCmd, getCmd} {
		c.Flags().BoolVar(&showProgress, "progress", false, "Report transfer progress")
	}
}

func progressReporter() store.ProgressFunc {
	if !showProgress {
		return nil
	}
	return func(p store.Progress) {
		fmt.Fprintf(stderr, "\r%-40s", formatProgress(p))
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	folder, err := repo.Resolve(ctx, optionalPath(args))
	if err != nil {
		return err
	}
	children, err := repo.List(ctx, folder)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })
	for _, child := range children {
		if !lsLong {
			fmt.Fprintln(app.out, nodeLabel(child))
			continue
		}
		size := "-"
		if f, ok := child.(*vaultfs.CryptoFile); ok {
			if n, known := f.Size(); known {
				size = formatSize(n)
			}
		}
		fmt.Fprintf(app.out, "%10s  %s\n", size, nodeLabel(child))
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	folder, err := repo.Resolve(ctx, optionalPath(args))
	if err != nil {
		return err
	}
	tree, err := buildTree(ctx, repo, folder)
	if err != nil {
		return err
	}
	fmt.Fprint(app.out, tree.Print())
	return nil
}

// makeFolder creates the folder at p, and its parents when parents is set.
func makeFolder(ctx context.Context, repo *vaultfs.Repository, p string, parents bool) (*vaultfs.CryptoFolder, error) {
	dir, name := splitPath(p)
	if name == "" {
		return nil, vaultfs.NewValidationError("path", p, "cannot create the root folder")
	}
	if !parents {
		parent, err := repo.Resolve(ctx, dir)
		if err != nil {
			return nil, err
		}
		folder, err := repo.Folder(ctx, parent, name)
		if err != nil {
			return nil, err
		}
		return repo.Create(ctx, folder)
	}
	folder := repo.Root()
	for _, segment := range strings.Split(strings.TrimPrefix(cleanPath(p), "/"), "/") {
		next, err := repo.Folder(ctx, folder, segment)
		if err != nil {
			return nil, err
		}
		if _, err := repo.Create(ctx, next); err != nil {
			if !store.IsAlreadyExists(err) {
				return nil, err
			}
			if ok, existsErr := repo.Exists(ctx, next); existsErr != nil || !ok {
				return nil, err
			}
		}
		folder = next
	}
	return folder, nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	folder, err := makeFolder(ctx, repo, args[0], mkdirParents)
	if err != nil {
		return err
	}
	printSuccess("Created %s", folder.Path())
	return nil
}

// putTarget returns the vault path a local file is written to. Targets
// ending in a slash, and existing folders, receive the local file name.
func putTarget(ctx context.Context, repo *vaultfs.Repository, local string, args []string) (string, error) {
	base := filepath.Base(local)
	if len(args) < 2 {
		return cleanPath(base), nil
	}
	target := args[1]
	if strings.HasSuffix(target, "/") {
		return cleanPath(path.Join(target, base)), nil
	}
	node, err := lookupNode(ctx, repo, target)
	switch {
	case err == nil:
		if _, ok := node.(*vaultfs.CryptoFolder); ok {
			return cleanPath(path.Join(target, base)), nil
		}
	case !store.IsNotFound(err):
		return "", err
	}
	return cleanPath(target), nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	src, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", args[0])
	}

	target, err := putTarget(ctx, repo, args[0], args)
	if err != nil {
		return err
	}
	dir, name := splitPath(target)
	parent, err := repo.Resolve(ctx, dir)
	if err != nil {
		return err
	}
	if putRename {
		if name, err = repo.AvailableName(ctx, parent, name); err != nil {
			return err
		}
	}
	file, err := repo.File(ctx, parent, name, info.Size())
	if err != nil {
		return err
	}
	written, err := repo.Write(ctx, file, src, progressReporter(), putForce, info.Size())
	if showProgress {
		fmt.Fprintln(stderr)
	}
	if err != nil {
		return err
	}
	printSuccess("Stored %s (%s)", written.Path(), formatSize(info.Size()))
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	node, err := lookupNode(ctx, repo, args[0])
	if err != nil {
		return err
	}
	file, ok := node.(*vaultfs.CryptoFile)
	if !ok {
		return fmt.Errorf("%s is not a file", node.Path())
	}
	local := file.Name()
	if len(args) == 2 {
		local = args[1]
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if getForce {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	dst, err := os.OpenFile(local, flags, 0o600)
	if err != nil {
		return err
	}
	if err := repo.Read(ctx, file, dst, progressReporter()); err != nil {
		dst.Close()
		os.Remove(local)
		return err
	}
	if showProgress {
		fmt.Fprintln(stderr)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	printSuccess("Saved %s to %s", file.Path(), local)
	return nil
}

// moveNode moves the node at src to the path dst.
func moveNode(ctx context.Context, repo *vaultfs.Repository, src, dst string) (vaultfs.CryptoNode, error) {
	node, err := lookupNode(ctx, repo, src)
	if err != nil {
		return nil, err
	}
	dir, name := splitPath(dst)
	if name == "" {
		return nil, vaultfs.NewValidationError("target", dst, "cannot move onto the root folder")
	}
	parent, err := repo.Resolve(ctx, dir)
	if err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *vaultfs.CryptoFolder:
		if n.IsRoot() {
			return nil, vaultfs.NewValidationError("source", src, "cannot move the root folder")
		}
		target, err := repo.Folder(ctx, parent, name)
		if err != nil {
			return nil, err
		}
		return repo.MoveFolder(ctx, n, target)
	case *vaultfs.CryptoFile:
		target, err := repo.File(ctx, parent, name, store.UnknownSize)
		if err != nil {
			return nil, err
		}
		return repo.MoveFile(ctx, n, target)
	default:
		return nil, fmt.Errorf("%s: moving symlinks is not supported", node.Path())
	}
}

func runMv(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	moved, err := moveNode(ctx, repo, args[0], args[1])
	if err != nil {
		return err
	}
	printSuccess("Moved %s to %s", cleanPath(args[0]), moved.Path())
	return nil
}

var errFolderNotEmpty = errors.New("folder is not empty, use --recursive")

// removeNode deletes the node at p. Non-empty folders need recursive.
func removeNode(ctx context.Context, repo *vaultfs.Repository, p string, recursive bool) (vaultfs.CryptoNode, error) {
	node, err := lookupNode(ctx, repo, p)
	if err != nil {
		return nil, err
	}
	if folder, ok := node.(*vaultfs.CryptoFolder); ok && !recursive {
		children, err := repo.List(ctx, folder)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			return nil, fmt.Errorf("%s: %w", folder.Path(), errFolderNotEmpty)
		}
	}
	return node, repo.Delete(ctx, node)
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	node, err := removeNode(ctx, repo, args[0], rmRecursive)
	if err != nil {
		return err
	}
	printSuccess("Deleted %s", node.Path())
	return nil
}

// migrateTree restores legacy long names in folder and everything below it.
// Children are listed after their parent was migrated so that moved
// surrogates are not visited under their old names.
func migrateTree(ctx context.Context, repo *vaultfs.Repository, folder *vaultfs.CryptoFolder) (int, error) {
	total, err := repo.MigrateLegacyNames(ctx, folder)
	if err != nil {
		return total, err
	}
	children, err := repo.List(ctx, folder)
	if err != nil {
		return total, err
	}
	for _, child := range children {
		sub, ok := child.(*vaultfs.CryptoFolder)
		if !ok {
			continue
		}
		n, err := migrateTree(ctx, repo, sub)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	folder, err := repo.Resolve(ctx, optionalPath(args))
	if err != nil {
		return err
	}
	n, err := migrateTree(ctx, repo, folder)
	if err != nil {
		return err
	}
	printSuccess("Restored %d names", n)
	return nil
}
