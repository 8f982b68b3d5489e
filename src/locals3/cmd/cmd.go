package cmd

import (
	"errors"
	"net/http"

	"git.handmade.network/hmn/imghost/src/locals3"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/website"
	"github.com/spf13/cobra"
)

func init() {
	var addr string
	s3Command := &cobra.Command{
		Use:   "locals3 [storage folder]",
		Short: "Run a local S3 server that stores objects in the filesystem",
		Run: func(cmd *cobra.Command, args []string) {
			targetFolder := "./tmp/s3"
			if len(args) > 0 {
				targetFolder = args[0]
			}

			server, err := locals3.NewServer(targetFolder)
			if err != nil {
				logging.Fatal().Err(err).Msg("failed to create storage folder")
			}

			logging.Info().Str("addr", addr).Str("folder", targetFolder).Msg("Serving local S3")
			err = http.ListenAndServe(addr, server)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Fatal().Err(err).Msg("local S3 server stopped")
			}
		},
	}
	s3Command.Flags().StringVar(&addr, "addr", ":9000", "Address to listen on")

	website.WebsiteCommand.AddCommand(s3Command)
}
