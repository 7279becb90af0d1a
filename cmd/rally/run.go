package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/volleyhq/rally/internal/agent"
	"github.com/volleyhq/rally/internal/config"
	"github.com/volleyhq/rally/internal/core"
	"github.com/volleyhq/rally/internal/github"
	"github.com/volleyhq/rally/internal/gitutil"
	"github.com/volleyhq/rally/internal/jobs"
	"github.com/volleyhq/rally/internal/logger"
	"github.com/volleyhq/rally/internal/prompt"
	"github.com/volleyhq/rally/internal/rally"
	"github.com/volleyhq/rally/internal/tui"
)

var (
	runReviewer  string
	runReviewee  string
	runMaxRounds int
	runTimeout   time.Duration
	runLocal     bool
	runNoTUI     bool
	runPost      bool
	runWorkdir   string
	runBase      string
)

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	infoColor    = color.New(color.FgWhite)
	dimColor     = color.New(color.FgHiBlack)
)

var runCmd = &cobra.Command{
	Use:   "run [pr-url]",
	Short: "Run a reviewer/reviewee rally over a pull request",
	Long: `Run a reviewer/reviewee rally over a pull request.

The run command fetches the PR, checks out its head, and lets the reviewer
agent and the reviewee agent negotiate over the diff in bounded rounds. By
default it opens an interactive terminal interface; --no-tui streams plain
text and resolves permission requests from the auto-grant policy instead.

Exit codes: 0 approved, 2 round budget exhausted, 3 failed, 130 canceled.

Examples:
  rally run https://github.com/owner/repo/pull/123
  rally run --reviewer codex --reviewee claude --max-rounds 5 https://github.com/owner/repo/pull/123
  rally run --local --base main --workdir .
  rally run --no-tui --post https://github.com/owner/repo/pull/123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRally,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	runCmd.Flags().StringVar(&runReviewer, "reviewer", "", "reviewer agent backend (claude, codex)")
	runCmd.Flags().StringVar(&runReviewee, "reviewee", "", "reviewee agent backend (claude, codex)")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "round budget (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per-call agent timeout, e.g. 15m (default from config)")
	runCmd.Flags().BoolVar(&runLocal, "local", false, "review the local worktree instead of a GitHub PR")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "stream plain text instead of the interactive interface")
	runCmd.Flags().BoolVar(&runPost, "post", false, "post the outcome to the pull request as a review")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", ".", "repository path for --local mode")
	runCmd.Flags().StringVar(&runBase, "base", "main", "base branch for --local mode")
	rootCmd.AddCommand(runCmd)
}

func runRally(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if runLocal && runPost {
		return fmt.Errorf("--post needs a pull request to post to, it cannot be combined with --local")
	}
	if runLocal && len(args) > 0 {
		return fmt.Errorf("--local reviews the worktree at --workdir, drop the pull request URL")
	}
	if !runLocal && len(args) != 1 {
		return fmt.Errorf("a pull request URL is required unless --local is set")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// The interactive interface owns the terminal, so logs are dropped
	// there; plain mode keeps them on stderr.
	logOut := io.Writer(os.Stderr)
	if !runNoTUI {
		logOut = io.Discard
	}
	appLogger := logger.NewLogger(logger.Config{Level: cfg.LogLevel.String(), Format: "text"}, logOut)

	gitClient := gitutil.NewClient(appLogger)

	var (
		rc       *core.ReviewContext
		ghClient github.Client
	)
	if runLocal {
		rc, err = gitClient.BuildLocalContext(ctx, runWorkdir, runBase)
		if err != nil {
			return err
		}
	} else {
		owner, repoName, prNumber, err := gitutil.ParsePullRequestURL(args[0])
		if err != nil {
			return fmt.Errorf("invalid PR URL: %w\n\nExpected format: https://github.com/owner/repo/pull/123", err)
		}
		if cfg.GitHub.Token == "" {
			return fmt.Errorf("GITHUB_TOKEN is not set\n\nTip: set the GITHUB_TOKEN environment variable or pass --github-token")
		}
		ghClient = github.NewPATClient(ctx, cfg.GitHub.Token, appLogger)

		rc, err = github.BuildReviewContext(ctx, ghClient, appLogger, owner, repoName, prNumber)
		if err != nil {
			return fmt.Errorf("failed to fetch PR: %w\n\nTip: check that the PR exists and your token has access", err)
		}

		workDir, cleanupClone, err := gitClient.ClonePullRequest(ctx, rc.CloneURL, rc.PRNumber, rc.HeadSHA, cfg.GitHub.Token)
		if err != nil {
			return fmt.Errorf("failed to clone repository: %w", err)
		}
		defer cleanupClone()
		rc.WorkDir = workDir
	}

	repoCfg, err := config.LoadRepoConfig(rc.WorkDir)
	if err != nil && !errors.Is(err, config.ErrConfigNotFound) {
		return fmt.Errorf("invalid .rally.yml: %w", err)
	}

	reviewerName, revieweeName, opts := resolveRunSettings(cfg, repoCfg)

	reviewer, err := agent.Select(reviewerName, agent.Options{Logger: appLogger})
	if err != nil {
		return fmt.Errorf("reviewer: %w", err)
	}
	reviewee, err := agent.Select(revieweeName, agent.Options{Logger: appLogger})
	if err != nil {
		return fmt.Errorf("reviewee: %w", err)
	}

	prompts, err := prompt.NewManager()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	orch := rally.New(reviewer, reviewee, rc, prompts, appLogger, opts)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	var (
		result *core.RallyResult
		runErr error
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		result, runErr = orch.Run(ctx)
		return nil
	})

	if runNoTUI {
		titleColor.Printf("Rally: %s vs %s\n", reviewerName, revieweeName)
		dimColor.Printf("   Target: %s\n", describeTarget(rc))
		g.Go(func() error {
			streamEvents(orch, cfg, repoCfg, opts.MaxRounds)
			return nil
		})
	} else {
		model := tui.New(rc, orch.Events(), orch, cancel, opts.MaxRounds)
		g.Go(func() error {
			return tui.Run(model)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("interface error: %w", err)
	}

	if runNoTUI {
		printResult(result)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		errorColor.Fprintf(os.Stderr, "rally error: %v\n", runErr)
	}

	if runPost && result != nil && result.Outcome != core.OutcomeCanceled {
		postCtx, cancelPost := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancelPost()
		poster := github.NewResultPoster(ghClient, appLogger)
		if err := poster.PostResult(postCtx, rc, result); err != nil {
			return fmt.Errorf("failed to post the result: %w", err)
		}
		successColor.Println("✓ posted the review to the pull request")
	}

	exitCode = exitCodeFor(result)
	return nil
}

// resolveRunSettings layers the rally settings: config defaults, then the
// repository's .rally.yml, then explicit flags.
func resolveRunSettings(cfg *config.Config, repoCfg *core.RepoConfig) (reviewer, reviewee string, opts rally.Options) {
	reviewer = cfg.Reviewer
	reviewee = cfg.Reviewee
	opts = rally.Options{
		MaxRounds:   cfg.MaxRounds,
		CallTimeout: cfg.AgentTimeout(),
	}

	if repoCfg != nil {
		if repoCfg.Reviewer != "" {
			reviewer = repoCfg.Reviewer
		}
		if repoCfg.Reviewee != "" {
			reviewee = repoCfg.Reviewee
		}
		if repoCfg.MaxRounds > 0 {
			opts.MaxRounds = repoCfg.MaxRounds
		}
		if repoCfg.AgentTimeoutMinutes > 0 {
			opts.CallTimeout = time.Duration(repoCfg.AgentTimeoutMinutes) * time.Minute
		}
		opts.CustomInstructions = repoCfg.CustomInstructions
	}

	if runReviewer != "" {
		reviewer = runReviewer
	}
	if runReviewee != "" {
		reviewee = runReviewee
	}
	if runMaxRounds > 0 {
		opts.MaxRounds = runMaxRounds
	}
	if runTimeout > 0 {
		opts.CallTimeout = runTimeout
	}
	return reviewer, reviewee, opts
}

func describeTarget(rc *core.ReviewContext) string {
	if rc.PRNumber > 0 {
		return fmt.Sprintf("%s#%d %s", rc.RepoFullName, rc.PRNumber, rc.Title)
	}
	return fmt.Sprintf("%s (local) %s", rc.RepoFullName, rc.Title)
}

// streamEvents prints the rally to stdout and resolves permission and
// clarification requests with the same unattended policy serve mode uses.
func streamEvents(orch *rally.Orchestrator, cfg *config.Config, repoCfg *core.RepoConfig, maxRounds int) {
	for ev := range orch.Events() {
		printEvent(ev, maxRounds)

		switch ev.Kind {
		case core.EventPermissionRequested:
			granted := cfg.AutoGrantAll || jobs.AutoGrant(ev.Permission.Action, repoCfg.AutoGrant)
			if granted {
				successColor.Println("   → auto-granted")
			} else {
				dimColor.Println("   → denied (not in the auto_grant list)")
			}
			orch.ResolvePermission(ev.RequestID, granted)

		case core.EventClarificationRequested:
			dimColor.Println("   → answered with the unattended notice")
			orch.AnswerClarification(ev.RequestID, jobs.HeadlessAnswer)
		}
	}
}

func printEvent(ev core.RallyEvent, maxRounds int) {
	switch ev.Kind {
	case core.EventRoundStarted:
		fmt.Println()
		titleColor.Printf("── round %d/%d ──\n", ev.Round, maxRounds)

	case core.EventAgentActivity:
		dimColor.Printf("  · %s: %s\n", ev.Agent, ev.Activity)

	case core.EventReviewerResult:
		printReviewerOutput(ev)

	case core.EventRevieweeResult:
		printRevieweeOutput(ev)

	case core.EventPermissionRequested:
		warnColor.Printf("%s asks to run: %s", ev.Agent, ev.Permission.Action)
		if ev.Permission.Reason != "" {
			dimColor.Printf(" (%s)", ev.Permission.Reason)
		}
		fmt.Println()

	case core.EventPermissionResolved:
		// The decision line is printed where it is made.

	case core.EventClarificationRequested:
		warnColor.Printf("%s asks: %s\n", ev.Agent, ev.Question)

	case core.EventRallyFailed:
		fmt.Println()
		errorColor.Printf("✗ rally failed: %s\n", ev.Err)

	case core.EventRallyCanceled:
		fmt.Println()
		dimColor.Println("rally canceled")
	}
}

func printReviewerOutput(ev core.RallyEvent) {
	out := ev.Reviewer

	fmt.Println()
	switch out.Action {
	case core.ActionApprove:
		successColor.Printf("✓ %s approves\n", ev.Agent)
	case core.ActionRequestChanges:
		errorColor.Printf("✗ %s requests changes\n", ev.Agent)
	default:
		warnColor.Printf("… %s comments\n", ev.Agent)
	}
	infoColor.Println(out.Summary)

	for _, c := range out.Comments {
		fmt.Println()
		printSeverityBadge(c.Severity)
		if c.Line > 0 {
			fmt.Printf(" %s:%d\n", c.Path, c.Line)
		} else {
			fmt.Printf(" %s\n", c.Path)
		}
		infoColor.Printf("   %s\n", c.Body)
	}
	for _, issue := range out.BlockingIssues {
		errorColor.Printf("   blocking: %s\n", issue)
	}
}

func printRevieweeOutput(ev core.RallyEvent) {
	out := ev.Reviewee
	if out.Status != core.StatusCompleted {
		return
	}

	fmt.Println()
	successColor.Printf("✓ %s done\n", ev.Agent)
	infoColor.Println(out.Summary)
	if len(out.ModifiedFiles) > 0 {
		dimColor.Printf("   modified: %s\n", strings.Join(out.ModifiedFiles, ", "))
	}
}

func printSeverityBadge(severity core.CommentSeverity) {
	switch severity {
	case core.SeverityCritical:
		color.New(color.BgRed, color.FgWhite, color.Bold).Printf(" %s ", severity)
	case core.SeverityMajor:
		color.New(color.BgHiRed, color.FgWhite).Printf(" %s ", severity)
	case core.SeverityMinor:
		color.New(color.BgYellow, color.FgBlack).Printf(" %s ", severity)
	default:
		color.New(color.BgGreen, color.FgWhite).Printf(" %s ", severity)
	}
}

func printResult(result *core.RallyResult) {
	if result == nil {
		return
	}

	separator := strings.Repeat("═", 60)
	fmt.Println()
	titleColor.Println(separator)
	switch result.Outcome {
	case core.OutcomeApproved:
		successColor.Printf("✅ APPROVED after %d round(s)\n", result.Rounds)
	case core.OutcomeExhausted:
		warnColor.Printf("⏱ ROUND BUDGET EXHAUSTED after %d round(s)\n", result.Rounds)
	case core.OutcomeCanceled:
		dimColor.Printf("CANCELED in round %d\n", result.Rounds)
	default:
		errorColor.Printf("✗ FAILED in round %d\n", result.Rounds)
	}
	titleColor.Println(separator)
}

func exitCodeFor(result *core.RallyResult) int {
	if result == nil {
		return 1
	}
	switch result.Outcome {
	case core.OutcomeApproved:
		return 0
	case core.OutcomeExhausted:
		return 2
	case core.OutcomeCanceled:
		return 130
	default:
		return 3
	}
}
