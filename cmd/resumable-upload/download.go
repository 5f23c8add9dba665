package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"
)

type downloadFlags struct {
	zip     bool
	output  string
	urlOnly bool
}

func newDownloadCmd(a *app) *cobra.Command {
	var flags downloadFlags

	cmd := &cobra.Command{
		Use:   "download <session id>",
		Short: "Download the file of a finished session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.download(cmd.Context(), args[0], flags)
		},
	}
	cmd.Flags().BoolVar(&flags.zip, "zip", false, "Download the file packed in a zip archive")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Destination path, defaults to the file name in the working directory")
	cmd.Flags().BoolVar(&flags.urlOnly, "url", false, "Only print the download URL")
	return cmd
}

func (a *app) download(ctx context.Context, id string, flags downloadFlags) error {
	if flags.urlOnly {
		url, err := a.store.downloadURL(ctx, id, flags.zip)
		if err != nil {
			return err
		}
		a.logger.Printf("%s", url)
		return nil
	}

	dest := flags.output
	if dest == "" {
		name, err := a.finishedFileName(ctx, id)
		if err != nil {
			return err
		}
		if flags.zip {
			name += ".zip"
		}
		dest = name
	}

	a.logger.Infof("Downloading %s to %s", id, dest)
	if err := a.store.download(ctx, id, dest, flags.zip); err != nil {
		return err
	}
	a.logger.Donef("Downloaded %s", dest)
	return nil
}

// finishedFileName returns the base name of a finished session's file, or
// the id itself when the catalog does not know it.
func (a *app) finishedFileName(ctx context.Context, id string) (string, error) {
	views, err := a.store.ListFinished(ctx)
	if err != nil {
		return "", err
	}
	for _, v := range views {
		if v.ID == id && v.FileName != "" {
			return filepath.Base(v.FileName), nil
		}
	}
	return filepath.Base(id), nil
}
