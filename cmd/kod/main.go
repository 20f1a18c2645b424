// Package main provides the kod CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kodeon-core/branch"
	"kodeon-core/cas"
	"kodeon-core/docs"
	"kodeon-core/gitio"
	"kodeon-core/ignore"
	"kodeon-core/merge"
	"kodeon-core/pack"
	"kodeon-core/repo"
	"kodeon-core/store"
)

// Version is the current kod CLI version.
var Version = "0.3.1"

var rootCmd = &cobra.Command{
	Use:     "kod",
	Short:   "kod - versioned project history and synchronization",
	Long:    `kod tracks project history as a content-addressed commit graph, manages branches and reviews, and reconciles offline snapshots.`,
	Version: Version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openRepo opens the repository in the working directory.
func openRepo() (*repo.Repository, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return repo.Open(dir)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repository in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		r, err := repo.Init(dir)
		if err != nil {
			return err
		}
		defer r.Close()
		b, err := r.Branches.Get(r.Config.DefaultBranch)
		if err != nil {
			return err
		}
		fmt.Printf("initialized repository on %s at %s\n", b.Name, short(b.Head))
		return nil
	},
}

var commitBranch string

var commitCmd = &cobra.Command{
	Use:   "commit <message>",
	Short: "Capture the working directory as a new commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		name := commitBranch
		if name == "" {
			name = r.Config.DefaultBranch
		}
		b, err := r.Branches.Get(name)
		if err != nil {
			return err
		}

		matcher, err := ignore.LoadFromDir(r.Root)
		if err != nil {
			return err
		}
		snap, err := r.Snapshots.Capture(r.Root, name, matcher)
		if err != nil {
			return err
		}

		c, err := r.Commits.Create([]string{b.Head}, snap.Files, r.Config.Author, args[0])
		if err != nil {
			return err
		}
		if err := r.Branches.Advance(name, b.Head, c.ID, r.Config.Author, branch.FastForward); err != nil {
			return err
		}
		fmt.Printf("[%s %s] %s (%d files)\n", name, short(c.ID), args[0], len(c.Tree))
		return nil
	},
}

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log [branch]",
	Short: "Show first-parent history of a branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		name := r.Config.DefaultBranch
		if len(args) == 1 {
			name = args[0]
		}
		b, err := r.Branches.Get(name)
		if err != nil {
			return err
		}
		entries, err := r.Commits.Log(b.Head, logLimit)
		if err != nil {
			return err
		}
		for _, c := range entries {
			ts := time.UnixMilli(c.Timestamp).Format("2006-01-02 15:04")
			fmt.Printf("%s  %s  %s  %s\n", short(c.ID), ts, c.Author, firstLine(c.Message))
		}
		return nil
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Branch commands",
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		branches, err := r.Branches.List()
		if err != nil {
			return err
		}
		for _, b := range branches {
			flag := " "
			if b.Protected {
				flag = "*"
			}
			fmt.Printf("%s %-20s %s\n", flag, b.Name, short(b.Head))
		}
		return nil
	},
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> [from-branch]",
	Short: "Create a branch from another branch's head",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		from := r.Config.DefaultBranch
		if len(args) == 2 {
			from = args[1]
		}
		src, err := r.Branches.Get(from)
		if err != nil {
			return err
		}
		b, err := r.Branches.Create(args[0], src.Head)
		if err != nil {
			return err
		}
		fmt.Printf("created %s at %s\n", b.Name, short(b.Head))
		return nil
	},
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		if err := r.Branches.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var branchProtectCmd = &cobra.Command{
	Use:   "protect <name> <on|off>",
	Short: "Toggle branch protection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		on := args[1] == "on"
		if err := r.Branches.SetProtected(args[0], on); err != nil {
			return err
		}
		fmt.Printf("protection for %s: %v\n", args[0], on)
		return nil
	},
}

var branchHistoryCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show the recorded head moves of a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		entries, err := r.Branches.History(args[0], 100)
		if err != nil {
			return err
		}
		for _, e := range entries {
			ts := time.UnixMilli(e.Time).Format("2006-01-02 15:04")
			fmt.Printf("%s  %s  %-12s %s -> %s\n",
				ts, e.Actor, e.Mode, short(cas.BytesToHex(e.Old)), short(cas.BytesToHex(e.New)))
		}
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <target>",
	Short: "Three-way merge source into target",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		sb, err := r.Branches.Get(args[0])
		if err != nil {
			return err
		}
		tb, err := r.Branches.Get(args[1])
		if err != nil {
			return err
		}

		// Fast-forward when the target has no work of its own.
		ff, err := r.Commits.IsAncestor(tb.Head, sb.Head)
		if err != nil {
			return err
		}
		if ff {
			if err := r.Branches.Advance(tb.Name, tb.Head, sb.Head, r.Config.Author, branch.FastForward); err != nil {
				return err
			}
			fmt.Printf("fast-forwarded %s to %s\n", tb.Name, short(sb.Head))
			return nil
		}

		mb, err := r.Commits.MergeBase(tb.Head, sb.Head)
		if err != nil {
			return err
		}
		if mb == nil {
			return fmt.Errorf("no common ancestor between %s and %s", args[0], args[1])
		}
		source, err := r.Commits.Get(sb.Head)
		if err != nil {
			return err
		}
		target, err := r.Commits.Get(tb.Head)
		if err != nil {
			return err
		}

		result := merge.Trees(mb.Tree, target.Tree, source.Tree)
		if !result.Clean() {
			for _, c := range result.Conflicts {
				fmt.Printf("CONFLICT %s\n", c)
			}
			return result.Err()
		}

		mc, err := r.Commits.Create(
			[]string{tb.Head, sb.Head}, result.Tree, r.Config.Author,
			fmt.Sprintf("Merge %s into %s", sb.Name, tb.Name),
		)
		if err != nil {
			return err
		}
		if err := r.Branches.Advance(tb.Name, tb.Head, mc.ID, r.Config.Author, branch.Merge); err != nil {
			return err
		}
		fmt.Printf("merged %s into %s as %s\n", sb.Name, tb.Name, short(mc.ID))
		return nil
	},
}

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Pull request commands",
}

var prReviewers string

var prOpenCmd = &cobra.Command{
	Use:   "open <title> <source> <target>",
	Short: "Open a pull request",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		var reviewers []string
		if prReviewers != "" {
			reviewers = strings.Split(prReviewers, ",")
		}
		pr, err := r.Reviews.Open(args[0], r.Config.Author, args[1], args[2], reviewers)
		if err != nil {
			return err
		}
		fmt.Printf("opened %s (%s -> %s, base %s)\n", pr.ID, pr.Source, pr.Target, short(pr.Base))
		return nil
	},
}

var prListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pull requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		prs, err := r.Reviews.List()
		if err != nil {
			return err
		}
		for _, pr := range prs {
			stale := ""
			if pr.Stale {
				stale = " (stale)"
			}
			fmt.Printf("%s  %-18s%s  %s -> %s  %s\n", pr.ID, pr.Status, stale, pr.Source, pr.Target, pr.Title)
		}
		return nil
	},
}

var prApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pull request as the configured author",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Reviews.Approve(args[0], r.Config.Author)
	},
}

var prRequestChangesCmd = &cobra.Command{
	Use:   "request-changes <id>",
	Short: "Request changes on a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Reviews.RequestChanges(args[0], r.Config.Author)
	},
}

var prResubmitCmd = &cobra.Command{
	Use:   "resubmit <id>",
	Short: "Return a pull request to open after new work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Reviews.Resubmit(args[0])
	},
}

var prUpdateBaseCmd = &cobra.Command{
	Use:   "update-base <id>",
	Short: "Refreeze a stale pull request on the current target head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Reviews.UpdateBase(args[0])
	},
}

var prMergeCmd = &cobra.Command{
	Use:   "merge <id>",
	Short: "Merge an approved pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		mc, err := r.Reviews.Merge(args[0], r.Config.Author)
		if err != nil {
			var ce *merge.ConflictError
			if errors.As(err, &ce) {
				for _, c := range ce.Conflicts {
					fmt.Printf("CONFLICT %s\n", c)
				}
			}
			return err
		}
		fmt.Printf("merged as %s\n", short(mc.ID))
		return nil
	},
}

var prCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a pull request without merging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Reviews.Close(args[0])
	},
}

var prCommentFile string

var prCommentCmd = &cobra.Command{
	Use:   "comment <id> <body>",
	Short: "Comment on a pull request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		c, err := r.Reviews.AddComment(args[0], r.Config.Author, args[1], prCommentFile)
		if err != nil {
			return err
		}
		fmt.Printf("comment %s\n", c.ID)
		return nil
	},
}

var prResolveReopen bool

var prResolveCmd = &cobra.Command{
	Use:   "resolve <comment-id>",
	Short: "Resolve a review comment (or reopen with --reopen)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()
		return r.Reviews.ResolveComment(args[0], r.Config.Author, !prResolveReopen)
	},
}

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Document commands",
}

var docTags string

var docCreateCmd = &cobra.Command{
	Use:   "create <title> <file>",
	Short: "Create a document from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		content, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var tags []string
		if docTags != "" {
			tags = strings.Split(docTags, ",")
		}
		doc, err := r.Documents.Create(args[0], tags, content, r.Config.Author)
		if err != nil {
			return err
		}
		fmt.Printf("created %s\n", doc.ID)
		return nil
	},
}

var docAppendCmd = &cobra.Command{
	Use:   "append <id> <file>",
	Short: "Append a new version from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		content, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		v, err := r.Documents.Append(args[0], content, r.Config.Author)
		if err != nil {
			return err
		}
		fmt.Printf("version %d\n", v.Number)
		return nil
	},
}

var docHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "List a document's versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		versions, err := r.Documents.History(args[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			ts := time.UnixMilli(v.Created).Format("2006-01-02 15:04")
			fmt.Printf("v%-4d %s  %s  %s\n", v.Number, ts, v.Author, short(v.ContentDigest))
		}
		return nil
	},
}

var docDiffCmd = &cobra.Command{
	Use:   "diff <id> <from> <to>",
	Short: "Show line changes between two versions",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		from, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing from version: %w", err)
		}
		to, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing to version: %w", err)
		}

		changes, err := r.Documents.Diff(args[0], from, to)
		if err != nil {
			return err
		}
		for _, c := range changes {
			switch c.Op {
			case docs.OpInsert:
				fmt.Printf("+ %s\n", c.Text)
			case docs.OpDelete:
				fmt.Printf("- %s\n", c.Text)
			default:
				fmt.Printf("  %s\n", c.Text)
			}
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <project-id>",
	Short: "Reconcile the working directory with the stored project snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		matcher, err := ignore.LoadFromDir(r.Root)
		if err != nil {
			return err
		}
		local, err := r.Snapshots.Capture(r.Root, args[0], matcher)
		if err != nil {
			return err
		}

		stored, err := r.Snapshots.Load(args[0])
		if err != nil && !errors.Is(err, store.ErrSnapshotNotFound) {
			return err
		}

		winner, err := merge.Reconcile(local, stored)
		if err != nil {
			return err
		}
		if err := r.Snapshots.Save(winner); err != nil {
			return err
		}
		if winner != local {
			if err := r.Snapshots.Restore(winner, r.Root); err != nil {
				return err
			}
			fmt.Printf("restored stored snapshot (%d files)\n", len(winner.Files))
		} else {
			fmt.Printf("local snapshot wins (%d files)\n", len(winner.Files))
		}
		return nil
	},
}

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove unreachable commits and blobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		plan, err := r.BuildGCPlan()
		if err != nil {
			return err
		}
		fmt.Printf("unreachable: %d commits, %d blobs (%d bytes)\n",
			len(plan.CommitsToDelete), len(plan.BlobsToDelete), plan.BytesReclaimed)
		if gcDryRun || plan.Empty() {
			return nil
		}
		removedCommits, removedBlobs, err := r.ExecuteGC(plan)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d commits, %d blobs\n", removedCommits, removedBlobs)
		return nil
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Bundle commands",
}

var bundleCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Export all objects as a compressed bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		var objects []pack.Object

		infos, err := r.DB.ListBlobs()
		if err != nil {
			return err
		}
		for _, info := range infos {
			content, err := r.DB.GetBlob(info.Digest)
			if err != nil {
				return err
			}
			objects = append(objects, pack.Object{Digest: info.Digest, Kind: pack.KindBlob, Content: content})
		}

		ids, err := r.DB.ListCommitIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			payload, err := r.DB.GetCommitPayload(id)
			if err != nil {
				return err
			}
			objects = append(objects, pack.Object{Digest: id, Kind: pack.KindCommit, Content: payload})
		}

		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pack.Build(f, objects); err != nil {
			return err
		}
		fmt.Printf("bundled %d objects\n", len(objects))
		return nil
	},
}

var bundleIngestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Import objects from a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := pack.Ingest(r.DB, f)
		if err != nil {
			return err
		}
		fmt.Printf("ingested %d objects\n", n)
		return nil
	},
}

var importBranch string

var importGitCmd = &cobra.Command{
	Use:   "import-git <path> <ref>",
	Short: "Import first-parent git history onto a new branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRepo()
		if err != nil {
			return err
		}
		defer r.Close()

		gr, err := gitio.Open(args[0])
		if err != nil {
			return err
		}
		result, err := gitio.Import(gr, args[1], r.Blobs, r.Commits)
		if err != nil {
			return err
		}

		name := importBranch
		if name == "" {
			name = "imported/" + args[1]
		}
		if _, err := r.Branches.Create(name, result.Head); err != nil {
			return err
		}
		fmt.Printf("imported %d commits onto %s (%s)\n", result.Commits, name, short(result.Head))
		return nil
	},
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func init() {
	commitCmd.Flags().StringVarP(&commitBranch, "branch", "b", "", "branch to commit on (default: configured default branch)")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "maximum entries")
	prOpenCmd.Flags().StringVar(&prReviewers, "reviewers", "", "comma-separated reviewer list")
	prCommentCmd.Flags().StringVar(&prCommentFile, "file", "", "anchor the comment to a file path")
	prResolveCmd.Flags().BoolVar(&prResolveReopen, "reopen", false, "mark the comment unresolved instead")
	docCreateCmd.Flags().StringVar(&docTags, "tags", "", "comma-separated tags")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report without deleting")
	importGitCmd.Flags().StringVar(&importBranch, "branch", "", "name for the imported branch")

	branchCmd.AddCommand(branchListCmd, branchCreateCmd, branchDeleteCmd, branchProtectCmd, branchHistoryCmd)
	prCmd.AddCommand(prOpenCmd, prListCmd, prApproveCmd, prRequestChangesCmd, prResubmitCmd,
		prUpdateBaseCmd, prMergeCmd, prCloseCmd, prCommentCmd, prResolveCmd)
	docCmd.AddCommand(docCreateCmd, docAppendCmd, docHistoryCmd, docDiffCmd)
	bundleCmd.AddCommand(bundleCreateCmd, bundleIngestCmd)

	rootCmd.AddCommand(initCmd, commitCmd, logCmd, branchCmd, mergeCmd, prCmd, docCmd,
		syncCmd, gcCmd, bundleCmd, importGitCmd)
}
