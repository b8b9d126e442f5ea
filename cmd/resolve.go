package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"panplay/internal"
	"panplay/resolver"
)

var (
	resolvePath  string
	resolveFsID  int64
	resolveShare string
	resolvePwd   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve one file into a play URL",
	Long: `Resolve one file into a play URL and print the result as JSON.

Exactly one of --path, --fs-id or --share names the file. Shared files are
verified and listed, but must be saved to your own drive before they can be
played.

Examples:
  panplay resolve --path /videos/movie.mp4
  panplay resolve --fs-id 123456789 --quality AUTO_720
  panplay resolve --share https://pan.baidu.com/s/1AbC123 --pwd abcd`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildResolveRequest()
		if err != nil {
			return err
		}

		rt, err := newRuntime(config)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		result, err := rt.pipeline.Resolve(ctx, req)
		if err != nil {
			return reportError(err)
		}
		return printJSON(os.Stdout, result)
	},
}

func buildResolveRequest() (resolver.Request, error) {
	set := 0
	for _, given := range []bool{resolvePath != "", resolveFsID != 0, resolveShare != ""} {
		if given {
			set++
		}
	}
	if set != 1 {
		verr := internal.NewValidationError("identifier", "exactly one of --path, --fs-id or --share is required")
		internal.LogValidationError(verr)
		return resolver.Request{}, fmt.Errorf("%s", verr.Message)
	}

	cred, err := loadCredential()
	if err != nil {
		return resolver.Request{}, reportError(err)
	}

	req := resolver.Request{Quality: quality, Credential: cred}
	switch {
	case resolveShare != "":
		req.Kind = internal.KindShare
		req.ShareURL = resolveShare
		req.Pwd = resolvePwd
	case resolveFsID != 0:
		req.Kind = internal.KindFileID
		req.FileID = resolveFsID
	default:
		req.Kind = internal.KindPath
		req.Path = resolvePath
	}
	return req, nil
}

func init() {
	resolveCmd.Flags().StringVar(&resolvePath, "path", "", "Absolute path of the file in the drive")
	resolveCmd.Flags().Int64Var(&resolveFsID, "fs-id", 0, "File id")
	resolveCmd.Flags().StringVar(&resolveShare, "share", "", "Share link")
	resolveCmd.Flags().StringVar(&resolvePwd, "pwd", "", "Extraction code for the share link")
}
