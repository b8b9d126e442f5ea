package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"panplay/internal"
	"panplay/resolver"
	"panplay/utils"
)

var (
	listPage   int
	listSize   int
	listJSON   bool
	searchPage int
)

var listCmd = &cobra.Command{
	Use:   "list [DIR]",
	Short: "List a directory in the drive",
	Long: `List one page of a directory in the drive. DIR defaults to /.

Examples:
  panplay list
  panplay list /videos --page 2 --size 50`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "/"
		if len(args) == 1 {
			dir = args[0]
		}

		cred, err := loadCredential()
		if err != nil {
			return reportError(err)
		}
		rt, err := newRuntime(config)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		files, err := rt.pipeline.Directory().ListDir(ctx, cred, dir, listPage, listSize)
		if err != nil {
			return reportError(err)
		}
		if listJSON {
			return printJSON(os.Stdout, files)
		}
		return printFiles(files)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <KEYWORD>",
	Short: "Search the drive by file name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cred, err := loadCredential()
		if err != nil {
			return reportError(err)
		}
		rt, err := newRuntime(config)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		files, err := rt.pipeline.Directory().Search(ctx, cred, args[0], searchPage)
		if err != nil {
			if verr, ok := err.(*internal.ValidationError); ok {
				internal.LogValidationError(verr)
				return fmt.Errorf("%s", verr.Message)
			}
			return reportError(err)
		}
		if listJSON {
			return printJSON(os.Stdout, files)
		}
		return printFiles(files)
	},
}

// printFiles renders descriptors as an aligned table
func printFiles(files []internal.FileDescriptor) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FS_ID\tSIZE\tTYPE\tPATH")
	for _, f := range files {
		kind := "file"
		switch {
		case f.IsDir:
			kind = "dir"
		case resolver.IsVideoFile(f.Name):
			kind = "video"
		}
		size := utils.FormatBytes(f.Size)
		if f.IsDir {
			size = "-"
		}
		path := f.Path
		if path == "" {
			path = f.Name
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.FsID, size, kind, strings.TrimSpace(path))
	}
	return tw.Flush()
}

func init() {
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listSize, "size", resolver.DefaultPageSize, "Entries per page")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")

	searchCmd.Flags().IntVar(&searchPage, "page", 1, "Page number")
	searchCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON instead of a table")
}
