package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "import-taxonomy":
		return runImportTaxonomy(args[1:])
	case "match":
		return runMatch(args[1:])
	case "classify":
		return runClassify(args[1:])
	case "aggregate":
		return runAggregate(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "freeze":
		return runFreeze(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "anchor-pipeline CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  anchor-pipeline <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health           Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  import-taxonomy  Upsert anchors, vocabularies and entries from bundle files")
	fmt.Fprintln(os.Stderr, "  match            Match pending headlines against the anchor taxonomy")
	fmt.Fprintln(os.Stderr, "  classify         Gate and categorize matched headlines via the classifier")
	fmt.Fprintln(os.Stderr, "  aggregate        Attribute accepted headlines to monthly units")
	fmt.Fprintln(os.Stderr, "  process          Run match + classify + aggregate in sequence")
	fmt.Fprintln(os.Stderr, "  run-once         Alias for process")
	fmt.Fprintln(os.Stderr, "  freeze           Freeze aggregation units older than a given month")
	fmt.Fprintln(os.Stderr, "  daemon           Run all phases continuously on their own schedules")
	fmt.Fprintln(os.Stderr, "  serve            Start the Echo inspection API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"anchor-pipeline <command> -h\" for command-specific flags.")
}
