package main

import (
	"context"
	"errors"
	"fmt"

	tracking "github.com/bitrise-io/go-resumable-upload/analytics"
	"github.com/bitrise-io/go-resumable-upload/config"
	"github.com/bitrise-io/go-resumable-upload/network"
	"github.com/bitrise-io/go-resumable-upload/s3store"
	"github.com/bitrise-io/go-resumable-upload/session"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

// store is what the commands need from a backend.
type store interface {
	upload.Backend
	upload.Catalog
	downloadURL(ctx context.Context, id string, zip bool) (string, error)
	download(ctx context.Context, id, dest string, zip bool) error
}

type httpStore struct {
	*network.Client
}

func (s httpStore) downloadURL(_ context.Context, id string, zip bool) (string, error) {
	if zip {
		return s.DownloadZipURL(id), nil
	}
	return s.DownloadURL(id), nil
}

func (s httpStore) download(ctx context.Context, id, dest string, zip bool) error {
	return s.Download(ctx, id, dest, zip)
}

type s3Store struct {
	*s3store.Store
}

var errZipNotSupported = errors.New("zip archives are not available from the s3 backend")

func (s s3Store) downloadURL(ctx context.Context, id string, zip bool) (string, error) {
	if zip {
		return "", errZipNotSupported
	}
	return s.DownloadURL(ctx, id)
}

func (s s3Store) download(ctx context.Context, id, dest string, zip bool) error {
	if zip {
		return errZipNotSupported
	}
	return s.Download(ctx, id, dest)
}

// app is built once the flags are parsed and shared by the subcommands.
type app struct {
	config    config.Config
	chunkSize int64
	store     store
	tracker   analytics.Tracker
	logger    log.Logger
}

func (a *app) newController() *upload.Controller {
	return upload.NewController(a.store, upload.Config{ChunkSize: a.chunkSize, Tracker: a.tracker}, a.logger)
}

func (a *app) findUnfinished(ctx context.Context, id string) (session.Session, error) {
	views, err := a.store.ListUnfinished(ctx)
	if err != nil {
		return session.Session{}, fmt.Errorf("list unfinished sessions: %w", err)
	}
	for _, v := range views {
		if v.ID == id {
			return v.Session(), nil
		}
	}
	return session.Session{}, fmt.Errorf("no unfinished session with id %s", id)
}

type rootFlags struct {
	verbose   bool
	backend   string
	apiURL    string
	chunkSize string
}

func newRootCmd(envRepo env.Repository, logger log.Logger) *cobra.Command {
	var flags rootFlags
	a := &app{logger: logger}

	cmd := &cobra.Command{
		Use:           "resumable-upload",
		Short:         "Upload large files in resumable chunks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context(), envRepo, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.tracker != nil {
				a.tracker.Wait()
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging (UPLOAD_VERBOSE)")
	cmd.PersistentFlags().StringVar(&flags.backend, "backend", "", "Backend to use: http or s3 (UPLOAD_BACKEND)")
	cmd.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "Base URL of the upload API (UPLOAD_API_URL)")
	cmd.PersistentFlags().StringVar(&flags.chunkSize, "chunk-size", "", "Chunk size, e.g. 100MiB (UPLOAD_CHUNK_SIZE)")

	cmd.AddCommand(
		newUploadCmd(a),
		newResumeCmd(a),
		newListCmd(a),
		newDownloadCmd(a),
	)
	return cmd
}

func (a *app) init(ctx context.Context, envRepo env.Repository, flags rootFlags) error {
	cfg, err := config.New(envRepo)
	if err != nil {
		return err
	}
	if flags.verbose {
		cfg.Verbose = true
	}
	if flags.backend != "" {
		cfg.Backend = flags.backend
	}
	if flags.apiURL != "" {
		if cfg.DownloadURL == cfg.APIURL {
			cfg.DownloadURL = flags.apiURL
		}
		cfg.APIURL = flags.apiURL
	}
	if flags.chunkSize != "" {
		cfg.ChunkSize = flags.chunkSize
	}

	a.logger.EnableDebugLog(cfg.Verbose)
	config.Print(cfg, a.logger)
	if err := cfg.Validate(); err != nil {
		return err
	}

	chunkSize, err := cfg.ChunkSizeBytes()
	if err != nil {
		return err
	}
	a.config = cfg
	a.chunkSize = chunkSize

	switch config.Backend(cfg.Backend) {
	case config.BackendS3:
		s, err := s3store.New(ctx, s3store.Params{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			KeyPrefix:       cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: string(cfg.AWSSecretAccessKey),
			ChunkSize:       chunkSize,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("s3 backend: %w", err)
		}
		a.store = s3Store{Store: s}
	default:
		c, err := network.NewClient(network.Params{
			APIBaseURL:      cfg.APIURL,
			DownloadBaseURL: cfg.DownloadURL,
			Token:           string(cfg.APIToken),
		}, a.logger)
		if err != nil {
			return fmt.Errorf("http backend: %w", err)
		}
		a.store = httpStore{Client: c}
	}

	if cfg.Tracking {
		a.tracker = tracking.NewDefaultRunTracker(envRepo, a.logger, analytics.Properties{
			"backend":    cfg.Backend,
			"chunk_size": chunkSize,
		})
	}
	return nil
}
